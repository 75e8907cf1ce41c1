package config

import (
	"path/filepath"

	"github.com/projecteru2/fcsdk/utils"
)

// EnsureDirs creates the static directories. Per-instance directories are
// created on demand via EnsureInstanceDirs.
func (c *Config) EnsureDirs() error {
	return utils.EnsureDirs(c.dbDir(), c.RunDir, c.LogDir)
}

// EnsureInstanceDirs creates the run and log directories of one instance.
func (c *Config) EnsureInstanceDirs(name string) error {
	return utils.EnsureDirs(c.InstanceRunDir(name), c.InstanceLogDir(name))
}

func (c *Config) dbDir() string { return filepath.Join(c.RootDir, "db") }

// IndexFile and IndexLock are the instance index store paths.
func (c *Config) IndexFile() string { return filepath.Join(c.dbDir(), "instances.json") }
func (c *Config) IndexLock() string { return filepath.Join(c.dbDir(), "instances.lock") }

func (c *Config) InstanceRunDir(name string) string { return filepath.Join(c.RunDir, name) }
func (c *Config) InstanceSocketPath(name string) string {
	return filepath.Join(c.InstanceRunDir(name), "api.sock")
}

func (c *Config) InstanceLogDir(name string) string { return filepath.Join(c.LogDir, name) }
func (c *Config) InstanceProcessLog(name string) string {
	return filepath.Join(c.InstanceLogDir(name), "firecracker.log")
}
