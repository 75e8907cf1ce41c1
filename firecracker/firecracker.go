// Package firecracker builds bare (unjailed) VMM launches.
package firecracker

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/projecteru2/fcsdk/instance"
	"github.com/projecteru2/fcsdk/types"
)

const (
	DefaultAPISock               = "/run/firecracker.socket"
	DefaultID                    = "anonymous-instance"
	DefaultHTTPAPIMaxPayloadSize = 51200
)

// Options mirrors the VMM's command line. Zero values are omitted.
type Options struct {
	Binary string

	APISock               string
	BootTimer             bool
	ConfigFile            string
	HTTPAPIMaxPayloadSize int
	ID                    string
	Level                 string
	LogPath               string
	Metadata              string
	MetricsPath           string
	MMDSSizeLimit         int
	Module                string
	NoAPI                 bool
	NoSeccomp             bool
	ParentCPUTimeUs       int
	SeccompFilter         string
	ShowLevel             bool
	ShowLogOrigin         bool
	StartTimeCPUUs        int
	StartTimeUs           int

	StdinPath  string
	StdoutPath string
	StderrPath string
	Env        []string
}

// Socket returns the control socket path, DefaultAPISock when unset.
func (o *Options) Socket() string {
	if o.APISock == "" {
		return DefaultAPISock
	}
	return o.APISock
}

// ExecName is the binary's base name.
func (o *Options) ExecName() (string, error) {
	name := filepath.Base(filepath.Clean(o.Binary))
	switch name {
	case ".", "..", string(filepath.Separator):
		return "", fmt.Errorf("%w: firecracker binary %q has no file name", types.ErrConfiguration, o.Binary)
	}
	return name, nil
}

// Args renders the VMM flags. --api-sock is always present.
func (o *Options) Args() []string {
	args := []string{"--api-sock", o.Socket()}
	str := func(flag, v string) {
		if v != "" {
			args = append(args, flag, v)
		}
	}
	num := func(flag string, v int) {
		if v != 0 {
			args = append(args, flag, strconv.Itoa(v))
		}
	}
	flag := func(flag string, on bool) {
		if on {
			args = append(args, flag)
		}
	}

	flag("--boot-timer", o.BootTimer)
	str("--config-file", o.ConfigFile)
	num("--http-api-max-payload-size", o.HTTPAPIMaxPayloadSize)
	str("--id", o.ID)
	str("--level", o.Level)
	str("--log-path", o.LogPath)
	str("--metadata", o.Metadata)
	str("--metrics-path", o.MetricsPath)
	num("--mmds-size-limit", o.MMDSSizeLimit)
	str("--module", o.Module)
	flag("--no-api", o.NoAPI)
	flag("--no-seccomp", o.NoSeccomp)
	num("--parent-cpu-time-us", o.ParentCPUTimeUs)
	str("--seccomp-filter", o.SeccompFilter)
	flag("--show-level", o.ShowLevel)
	flag("--show-log-origin", o.ShowLogOrigin)
	num("--start-time-cpu-us", o.StartTimeCPUUs)
	num("--start-time-us", o.StartTimeUs)
	return args
}

// Command returns the launch descriptor for a bare start.
func (o *Options) Command() (instance.Command, error) {
	if o.Binary == "" {
		return instance.Command{}, fmt.Errorf("%w: firecracker binary not set", types.ErrConfiguration)
	}
	return instance.Command{
		Path:       o.Binary,
		Args:       o.Args(),
		Env:        o.Env,
		StdinPath:  o.StdinPath,
		StdoutPath: o.StdoutPath,
		StderrPath: o.StderrPath,
	}, nil
}

// Config returns the instance configuration for a bare launch.
func (o *Options) Config() (instance.Config, error) {
	cmd, err := o.Command()
	if err != nil {
		return instance.Config{}, err
	}
	name, err := o.ExecName()
	if err != nil {
		return instance.Config{}, err
	}
	return instance.Config{
		Command:    cmd,
		SocketPath: o.Socket(),
		ExecName:   name,
	}, nil
}

// Build returns an unstarted bare Instance.
func (o *Options) Build(opts ...instance.Option) (*instance.Instance, error) {
	conf, err := o.Config()
	if err != nil {
		return nil, err
	}
	return instance.New(conf, opts...)
}
