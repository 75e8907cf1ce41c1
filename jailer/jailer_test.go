package jailer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/fcsdk/chroot"
	"github.com/projecteru2/fcsdk/firecracker"
	"github.com/projecteru2/fcsdk/types"
)

func baseOptions(t *testing.T) *Options {
	return &Options{
		JailerBinary:  "/usr/bin/jailer",
		ExecFile:      "/usr/bin/firecracker",
		ID:            "vm1",
		UID:           Int(123),
		GID:           Int(100),
		ChrootBaseDir: t.TempDir(),
	}
}

func TestArgs(t *testing.T) {
	o := baseOptions(t)
	o.Cgroups = map[string]string{"cpuset.mems": "0", "cpu.shares": "10"}
	o.CgroupVersion = 2
	o.Daemonize = true
	o.NewPIDNS = true
	o.ParentCgroup = "fc"
	o.ResourceLimits = map[string]int{"no-file": 1024, "fsize": 250}
	o.Firecracker = &firecracker.Options{APISock: "/run/api.sock", ID: "vm1"}

	args, err := o.Args()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--exec-file", "/usr/bin/firecracker",
		"--gid", "100",
		"--id", "vm1",
		"--uid", "123",
		"--cgroup", "cpu.shares=10",
		"--cgroup", "cpuset.mems=0",
		"--cgroup-version", "2",
		"--chroot-base-dir", o.ChrootBaseDir,
		"--daemonize",
		"--new-pid-ns",
		"--parent-cgroup", "fc",
		"--resource-limit", "fsize=250",
		"--resource-limit", "no-file=1024",
		"--",
		"--api-sock", "/run/api.sock",
		"--id", "vm1",
	}, args)
}

func TestArgsRequiredFields(t *testing.T) {
	for name, mutate := range map[string]func(*Options){
		"exec file": func(o *Options) { o.ExecFile = "" },
		"gid":       func(o *Options) { o.GID = nil },
		"id":        func(o *Options) { o.ID = "" },
		"uid":       func(o *Options) { o.UID = nil },
	} {
		t.Run(name, func(t *testing.T) {
			o := baseOptions(t)
			mutate(o)
			_, err := o.Args()
			assert.ErrorIs(t, err, types.ErrConfiguration)
			_, err = o.Build()
			assert.ErrorIs(t, err, types.ErrConfiguration)
		})
	}
}

func TestWorkspace(t *testing.T) {
	o := baseOptions(t)
	ws, err := o.Workspace()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(o.ChrootBaseDir, "firecracker", "vm1", "root"), ws)

	require.NoError(t, os.MkdirAll(ws, 0o755))
	_, err = o.Workspace()
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.Contains(t, err.Error(), "conflict jailer ID vm1")
}

func TestWorkspaceDefaults(t *testing.T) {
	o := &Options{ExecFile: "/opt/firecracker-v1.7"}
	ws, err := o.Workspace()
	require.NoError(t, err)
	assert.Equal(t, "/srv/jailer/firecracker-v1.7/anonymous-instance/root", ws)
}

func TestConfig(t *testing.T) {
	o := baseOptions(t)
	o.Strategy = chroot.Full{}
	o.RemoveWorkspace = true
	o.Firecracker = &firecracker.Options{StdoutPath: "/tmp/fc.out"}

	conf, err := o.Config()
	require.NoError(t, err)
	ws := filepath.Join(o.ChrootBaseDir, "firecracker", "vm1", "root")
	assert.Equal(t, ws, conf.JailRoot)
	assert.Equal(t, filepath.Join(ws, "run", "firecracker.socket"), conf.SocketPath)
	assert.Equal(t, "firecracker", conf.ExecName)
	assert.Equal(t, "/usr/bin/jailer", conf.Command.Path)
	assert.Equal(t, "/tmp/fc.out", conf.Command.StdoutPath)
	assert.True(t, conf.RemoveJailRoot)
	assert.Equal(t, chroot.NameFull, conf.Strategy.Name())

	inst, err := o.Build()
	require.NoError(t, err)
	assert.True(t, inst.Jailed())
}

func TestConfigDefaultStrategy(t *testing.T) {
	conf, err := baseOptions(t).Config()
	require.NoError(t, err)
	assert.Equal(t, chroot.NameNaive, conf.Strategy.Name())
}

func TestConfigRejectsBadNetNS(t *testing.T) {
	o := baseOptions(t)
	o.NetNS = filepath.Join(t.TempDir(), "missing")
	_, err := o.Config()
	assert.ErrorIs(t, err, types.ErrConfiguration)
}
