package config

import (
	"runtime"
	"time"

	coretypes "github.com/projecteru2/core/types"
)

// Config holds global fcsdk configuration.
type Config struct {
	// FirecrackerBinary and JailerBinary are resolved through PATH when not absolute.
	FirecrackerBinary string `json:"firecracker_binary" mapstructure:"firecracker_binary"`
	JailerBinary      string `json:"jailer_binary" mapstructure:"jailer_binary"`

	// RootDir holds persistent data (the instance index).
	RootDir string `json:"root_dir" mapstructure:"root_dir"`
	// RunDir holds per-instance sockets for bare launches.
	RunDir string `json:"run_dir" mapstructure:"run_dir"`
	// LogDir holds per-instance VMM stdout/stderr.
	LogDir string `json:"log_dir" mapstructure:"log_dir"`

	// ChrootBaseDir is passed to the jailer as --chroot-base-dir.
	ChrootBaseDir string `json:"chroot_base_dir" mapstructure:"chroot_base_dir"`
	// ChrootStrategy is "naive" or "full".
	ChrootStrategy string `json:"chroot_strategy" mapstructure:"chroot_strategy"`
	UID            int    `json:"uid" mapstructure:"uid"`
	GID            int    `json:"gid" mapstructure:"gid"`

	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	// RequestTimeout bounds each control call. Zero means no bound.
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`

	// PoolSize caps concurrent batch operations.
	// Defaults to runtime.NumCPU() if zero.
	PoolSize int `json:"pool_size" mapstructure:"pool_size"`
	// StopTimeoutSeconds is how long stop waits for the guest before
	// terminating the VMM.
	StopTimeoutSeconds int `json:"stop_timeout_seconds" mapstructure:"stop_timeout_seconds"`

	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FirecrackerBinary:  "firecracker",
		JailerBinary:       "jailer",
		RootDir:            "/var/lib/fcsdk",
		RunDir:             "/var/run/fcsdk",
		LogDir:             "/var/log/fcsdk",
		ChrootBaseDir:      "/srv/jailer",
		ChrootStrategy:     "naive",
		ConnectTimeout:     3 * time.Second, //nolint:mnd
		PoolSize:           runtime.NumCPU(),
		StopTimeoutSeconds: 30, //nolint:mnd
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// Normalize fills zero values left by a partial config file.
func (c *Config) Normalize() {
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU()
	}
	if c.StopTimeoutSeconds <= 0 {
		c.StopTimeoutSeconds = 30 //nolint:mnd
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 3 * time.Second //nolint:mnd
	}
}

// StopTimeout is StopTimeoutSeconds as a duration.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}
