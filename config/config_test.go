package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "/srv/jailer", c.ChrootBaseDir)
	assert.Equal(t, "naive", c.ChrootStrategy)
	assert.Equal(t, 3*time.Second, c.ConnectTimeout)
	assert.Positive(t, c.PoolSize)
	assert.Equal(t, 30*time.Second, c.StopTimeout())
}

func TestNormalize(t *testing.T) {
	c := &Config{}
	c.Normalize()
	assert.Positive(t, c.PoolSize)
	assert.Equal(t, 30, c.StopTimeoutSeconds)
	assert.Equal(t, 3*time.Second, c.ConnectTimeout)
}

func TestPaths(t *testing.T) {
	dir := t.TempDir()
	c := &Config{RootDir: filepath.Join(dir, "lib"), RunDir: filepath.Join(dir, "run"), LogDir: filepath.Join(dir, "log")}
	assert.Equal(t, filepath.Join(dir, "lib", "db", "instances.json"), c.IndexFile())
	assert.Equal(t, filepath.Join(dir, "lib", "db", "instances.lock"), c.IndexLock())
	assert.Equal(t, filepath.Join(dir, "run", "vm1", "api.sock"), c.InstanceSocketPath("vm1"))
	assert.Equal(t, filepath.Join(dir, "log", "vm1", "firecracker.log"), c.InstanceProcessLog("vm1"))

	require.NoError(t, c.EnsureDirs())
	require.NoError(t, c.EnsureInstanceDirs("vm1"))
	assert.DirExists(t, filepath.Dir(c.IndexFile()))
	assert.DirExists(t, c.InstanceRunDir("vm1"))
	assert.DirExists(t, c.InstanceLogDir("vm1"))
}

func TestLoadTestEnv(t *testing.T) {
	t.Setenv("FCSDK_TEST_FIRECRACKER", "/usr/bin/firecracker")
	t.Setenv("FCSDK_TEST_KERNEL", "/images/vmlinux")
	t.Setenv("FCSDK_TEST_ROOTFS", "/images/rootfs.ext4")
	t.Setenv("FCSDK_TEST_JAILER", "")

	env, err := LoadTestEnv()
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/firecracker", env.Firecracker)
	assert.Equal(t, "/images/vmlinux", env.Kernel)
	assert.True(t, env.CanBoot())
	assert.False(t, env.CanJail())
}
