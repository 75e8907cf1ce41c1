// Package jailer builds VMM launches that go through the jailer binary.
package jailer

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/vishvananda/netns"

	"github.com/projecteru2/fcsdk/chroot"
	"github.com/projecteru2/fcsdk/firecracker"
	"github.com/projecteru2/fcsdk/instance"
	"github.com/projecteru2/fcsdk/types"
	"github.com/projecteru2/fcsdk/utils"
)

const (
	DefaultChrootBaseDir = "/srv/jailer"
	DefaultCgroupVersion = 1

	rootDirName = "root"
)

// Options mirrors the jailer's command line plus where the SDK places
// files inside the resulting chroot.
type Options struct {
	JailerBinary string
	ExecFile     string
	ID           string
	UID          *int
	GID          *int

	Cgroups        map[string]string
	CgroupVersion  int
	ChrootBaseDir  string
	Daemonize      bool
	NetNS          string
	NewPIDNS       bool
	ParentCgroup   string
	ResourceLimits map[string]int

	// Firecracker holds the flags passed after "--" and the stdio
	// redirection of the jailer process.
	Firecracker *firecracker.Options

	Strategy        chroot.Strategy
	RemoveWorkspace bool
}

// Int is a helper for the optional numeric fields.
func Int(v int) *int { return &v }

func (o *Options) baseDir() string {
	if o.ChrootBaseDir == "" {
		return DefaultChrootBaseDir
	}
	return o.ChrootBaseDir
}

func (o *Options) id() string {
	if o.ID == "" {
		return firecracker.DefaultID
	}
	return o.ID
}

func (o *Options) fc() *firecracker.Options {
	if o.Firecracker == nil {
		return &firecracker.Options{}
	}
	return o.Firecracker
}

// ExecName is the base name of the jailed binary.
func (o *Options) ExecName() (string, error) {
	if o.ExecFile == "" {
		return "", fmt.Errorf("%w: exec file not set", types.ErrConfiguration)
	}
	name := filepath.Base(filepath.Clean(o.ExecFile))
	switch name {
	case ".", "..", string(filepath.Separator):
		return "", fmt.Errorf("%w: exec file %q has no file name", types.ErrConfiguration, o.ExecFile)
	}
	return name, nil
}

// Workspace returns <base>/<exec name>/<id>/root. It must not exist yet.
func (o *Options) Workspace() (string, error) {
	name, err := o.ExecName()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(o.baseDir(), name, o.id(), rootDirName)
	if utils.Exists(dir) {
		return "", fmt.Errorf("%w: conflict jailer ID %s", types.ErrConfiguration, o.id())
	}
	return dir, nil
}

// Args renders the jailer flags followed by "--" and the VMM flags.
func (o *Options) Args() ([]string, error) {
	switch {
	case o.ExecFile == "":
		return nil, fmt.Errorf("%w: exec file not set", types.ErrConfiguration)
	case o.GID == nil:
		return nil, fmt.Errorf("%w: gid not set", types.ErrConfiguration)
	case o.ID == "":
		return nil, fmt.Errorf("%w: id not set", types.ErrConfiguration)
	case o.UID == nil:
		return nil, fmt.Errorf("%w: uid not set", types.ErrConfiguration)
	}

	args := []string{
		"--exec-file", o.ExecFile,
		"--gid", strconv.Itoa(*o.GID),
		"--id", o.ID,
		"--uid", strconv.Itoa(*o.UID),
	}
	for _, k := range slices.Sorted(maps.Keys(o.Cgroups)) {
		args = append(args, "--cgroup", k+"="+o.Cgroups[k])
	}
	if o.CgroupVersion != 0 {
		args = append(args, "--cgroup-version", strconv.Itoa(o.CgroupVersion))
	}
	if o.ChrootBaseDir != "" {
		args = append(args, "--chroot-base-dir", o.ChrootBaseDir)
	}
	if o.Daemonize {
		args = append(args, "--daemonize")
	}
	if o.NetNS != "" {
		args = append(args, "--netns", o.NetNS)
	}
	if o.NewPIDNS {
		args = append(args, "--new-pid-ns")
	}
	if o.ParentCgroup != "" {
		args = append(args, "--parent-cgroup", o.ParentCgroup)
	}
	for _, k := range slices.Sorted(maps.Keys(o.ResourceLimits)) {
		args = append(args, "--resource-limit", k+"="+strconv.Itoa(o.ResourceLimits[k]))
	}
	args = append(args, "--")
	return append(args, o.fc().Args()...), nil
}

// validateNetNS checks that NetNS opens as a network namespace.
func (o *Options) validateNetNS() error {
	if o.NetNS == "" {
		return nil
	}
	h, err := netns.GetFromPath(o.NetNS)
	if err != nil {
		return fmt.Errorf("%w: netns %s: %v", types.ErrConfiguration, o.NetNS, err)
	}
	return h.Close()
}

// Config returns the instance configuration for a jailed launch.
func (o *Options) Config() (instance.Config, error) {
	if o.JailerBinary == "" {
		return instance.Config{}, fmt.Errorf("%w: jailer binary not set", types.ErrConfiguration)
	}
	args, err := o.Args()
	if err != nil {
		return instance.Config{}, err
	}
	workspace, err := o.Workspace()
	if err != nil {
		return instance.Config{}, err
	}
	if err := o.validateNetNS(); err != nil {
		return instance.Config{}, err
	}
	name, err := o.ExecName()
	if err != nil {
		return instance.Config{}, err
	}

	fc := o.fc()
	strategy := o.Strategy
	if strategy == nil {
		strategy = chroot.Naive{}
	}
	return instance.Config{
		Command: instance.Command{
			Path:       o.JailerBinary,
			Args:       args,
			Env:        fc.Env,
			StdinPath:  fc.StdinPath,
			StdoutPath: fc.StdoutPath,
			StderrPath: fc.StderrPath,
		},
		SocketPath:     filepath.Join(workspace, fc.Socket()),
		ExecName:       name,
		JailRoot:       workspace,
		Strategy:       strategy,
		RemoveJailRoot: o.RemoveWorkspace,
	}, nil
}

// Build returns an unstarted jailed Instance.
func (o *Options) Build(opts ...instance.Option) (*instance.Instance, error) {
	conf, err := o.Config()
	if err != nil {
		return nil, err
	}
	return instance.New(conf, opts...)
}
