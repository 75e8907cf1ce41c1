package core

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/projecteru2/fcsdk/chroot"
	"github.com/projecteru2/fcsdk/config"
	"github.com/projecteru2/fcsdk/firecracker"
	"github.com/projecteru2/fcsdk/instance"
	"github.com/projecteru2/fcsdk/jailer"
	"github.com/projecteru2/fcsdk/metadata"
	"github.com/projecteru2/fcsdk/registry"
	"github.com/projecteru2/fcsdk/types"
	"github.com/projecteru2/fcsdk/utils"
)

// DefaultBootArgs is the kernel command line when --boot-args is empty.
const DefaultBootArgs = "console=ttyS0 reboot=k panic=1 pci=off"

// BaseHandler provides shared config access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context and validated config in one call.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, err
	}
	return CommandContext(cmd), conf, nil
}

// Conf validates and returns the config. All handlers call this first.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return conf, nil
}

// InitRegistry is Init plus the instance registry.
func (h BaseHandler) InitRegistry(cmd *cobra.Command) (context.Context, *config.Config, *registry.Registry, error) {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	reg, err := registry.Open(conf)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open registry: %w", err)
	}
	return ctx, conf, reg, nil
}

// CommandContext returns command context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// LaunchSpec is what run and debug collect from their flags.
type LaunchSpec struct {
	ID   string
	Name string

	Jailed   bool
	Strategy chroot.Strategy

	Kernel   string
	Initrd   string
	BootArgs string
	Rootfs   string
	ReadOnly bool

	CPU       int
	MemoryMiB int
	HugePages bool

	Tap      string
	GuestMAC string

	// Hostname, RootPassword and SSHKeys are served over MMDS on eth0.
	Hostname     string
	RootPassword string
	SSHKeys      []string

	Console bool
}

// AddLaunchFlags registers the flags LaunchSpecFromFlags reads.
func AddLaunchFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("name", "", "instance name (default fc-<id prefix>)")
	f.String("id", "", "instance ID, also the jailer --id (default random UUID)")
	f.Bool("jailer", false, "launch through the jailer")
	f.String("strategy", "", "chroot strategy for jailed launches (naive|full, default from config)")
	f.String("kernel", "", "guest kernel image")
	f.String("initrd", "", "guest initrd")
	f.String("boot-args", DefaultBootArgs, "kernel command line")
	f.String("rootfs", "", "root filesystem image")
	f.Bool("read-only", false, "attach the rootfs read-only")
	f.Int("cpu", 1, "vCPUs")
	f.String("memory", "512M", "guest memory size")
	f.Bool("huge-pages", false, "back guest memory with 2M huge pages")
	f.String("tap", "", "host tap device for eth0")
	f.String("guest-mac", "", "guest MAC address for eth0")
	f.String("hostname", "", "guest hostname served over MMDS (needs --tap)")
	f.String("root-password", "", "guest root password served over MMDS (needs --tap)")
	f.StringArray("ssh-key", nil, "authorized SSH public key served over MMDS (needs --tap, repeatable)")
	_ = cmd.MarkFlagRequired("kernel")
	_ = cmd.MarkFlagRequired("rootfs")
}

// LaunchSpecFromFlags builds a LaunchSpec, filling the ID and name.
func LaunchSpecFromFlags(cmd *cobra.Command, conf *config.Config) (*LaunchSpec, error) {
	f := cmd.Flags()
	spec := &LaunchSpec{}
	spec.ID, _ = f.GetString("id")
	spec.Name, _ = f.GetString("name")
	spec.Jailed, _ = f.GetBool("jailer")
	spec.Kernel, _ = f.GetString("kernel")
	spec.Initrd, _ = f.GetString("initrd")
	spec.BootArgs, _ = f.GetString("boot-args")
	spec.Rootfs, _ = f.GetString("rootfs")
	spec.ReadOnly, _ = f.GetBool("read-only")
	spec.CPU, _ = f.GetInt("cpu")
	spec.HugePages, _ = f.GetBool("huge-pages")
	spec.Tap, _ = f.GetString("tap")
	spec.GuestMAC, _ = f.GetString("guest-mac")
	spec.Hostname, _ = f.GetString("hostname")
	spec.RootPassword, _ = f.GetString("root-password")
	spec.SSHKeys, _ = f.GetStringArray("ssh-key")
	if f.Lookup("console") != nil {
		spec.Console, _ = f.GetBool("console")
	}

	if spec.CPU <= 0 {
		return nil, fmt.Errorf("invalid --cpu %d", spec.CPU)
	}
	memStr, _ := f.GetString("memory")
	memBytes, err := units.RAMInBytes(memStr)
	if err != nil {
		return nil, fmt.Errorf("invalid --memory %q: %w", memStr, err)
	}
	if spec.MemoryMiB = int(memBytes >> 20); spec.MemoryMiB <= 0 { //nolint:mnd
		return nil, fmt.Errorf("invalid --memory %q: less than 1MiB", memStr)
	}

	if spec.WantsMetadata() && spec.Tap == "" {
		return nil, fmt.Errorf("--hostname, --root-password and --ssh-key need --tap")
	}

	strategy, _ := f.GetString("strategy")
	if strategy == "" {
		strategy = conf.ChrootStrategy
	}
	if spec.Strategy, err = chroot.Parse(strategy); err != nil {
		return nil, err
	}

	for _, p := range []*string{&spec.Kernel, &spec.Initrd, &spec.Rootfs} {
		if *p == "" {
			continue
		}
		if *p, err = filepath.Abs(*p); err != nil {
			return nil, err
		}
	}

	if spec.ID == "" {
		spec.ID = registry.GenerateID()
	}
	if spec.Name == "" {
		spec.Name = "fc-" + spec.ID[:min(8, len(spec.ID))] //nolint:mnd
	}
	return spec, nil
}

// Validate checks the host side of a launch: image files and huge pages.
func (spec *LaunchSpec) Validate() error {
	for flag, p := range map[string]string{"kernel": spec.Kernel, "initrd": spec.Initrd, "rootfs": spec.Rootfs} {
		if p != "" && !utils.ValidFile(p) {
			return fmt.Errorf("--%s %s: not a non-empty regular file", flag, p)
		}
	}
	if spec.HugePages && !utils.DetectHugePages() {
		return fmt.Errorf("--huge-pages: no 2M huge pages reserved on this host")
	}
	return nil
}

// MachineConfiguration is the PUT /machine-config body for spec.
func (spec *LaunchSpec) MachineConfiguration() types.MachineConfiguration {
	mc := types.MachineConfiguration{VCPUCount: spec.CPU, MemSizeMib: spec.MemoryMiB}
	if spec.HugePages {
		mc.HugePages = "2M"
	}
	return mc
}

// LaunchConfig renders spec into an instance configuration. It only
// inspects the filesystem; nothing is created.
func LaunchConfig(conf *config.Config, spec *LaunchSpec) (instance.Config, error) {
	fc := &firecracker.Options{
		Binary:     conf.FirecrackerBinary,
		ID:         spec.ID,
		StdinPath:  "/dev/null",
		StdoutPath: conf.InstanceProcessLog(spec.Name),
		StderrPath: conf.InstanceProcessLog(spec.Name),
	}
	if spec.Console {
		fc.StdinPath, fc.StdoutPath = "", ""
	}

	if !spec.Jailed {
		fc.APISock = conf.InstanceSocketPath(spec.Name)
		return fc.Config()
	}

	jailerBin, err := exec.LookPath(conf.JailerBinary)
	if err != nil {
		return instance.Config{}, fmt.Errorf("%w: jailer binary: %v", types.ErrConfiguration, err)
	}
	execFile, err := exec.LookPath(conf.FirecrackerBinary)
	if err != nil {
		return instance.Config{}, fmt.Errorf("%w: firecracker binary: %v", types.ErrConfiguration, err)
	}
	if execFile, err = filepath.Abs(execFile); err != nil {
		return instance.Config{}, err
	}
	j := &jailer.Options{
		JailerBinary:    jailerBin,
		ExecFile:        execFile,
		ID:              spec.ID,
		UID:             jailer.Int(conf.UID),
		GID:             jailer.Int(conf.GID),
		ChrootBaseDir:   conf.ChrootBaseDir,
		Firecracker:     fc,
		Strategy:        spec.Strategy,
		RemoveWorkspace: true,
	}
	return j.Config()
}

// InstanceOptions maps the config timeouts onto instance options.
func InstanceOptions(conf *config.Config) []instance.Option {
	return []instance.Option{
		instance.WithConnectTimeout(conf.ConnectTimeout),
		instance.WithRequestTimeout(conf.RequestTimeout),
	}
}

// Record is the registry entry for a launch of spec with ic.
func (spec *LaunchSpec) Record(conf *config.Config, ic instance.Config) *registry.Record {
	return &registry.Record{
		ID:             spec.ID,
		Name:           spec.Name,
		SocketPath:     ic.SocketPath,
		JailRoot:       ic.JailRoot,
		RemoveJailRoot: ic.RemoveJailRoot,
		RunDir:         conf.InstanceRunDir(spec.Name),
		LogDir:         conf.InstanceLogDir(spec.Name),
		Kernel:         spec.Kernel,
		Rootfs:         spec.Rootfs,
		CPU:            spec.CPU,
		MemoryMiB:      spec.MemoryMiB,
		Tap:            spec.Tap,
	}
}

// GuestRequests are the pre-boot configuration calls for spec, in order.
func GuestRequests(spec *LaunchSpec) []func(context.Context, *instance.Instance) error {
	reqs := []func(context.Context, *instance.Instance) error{
		func(ctx context.Context, inst *instance.Instance) error {
			return inst.PutMachineConfiguration(ctx, spec.MachineConfiguration())
		},
		func(ctx context.Context, inst *instance.Instance) error {
			return inst.PutGuestBootSource(ctx, types.BootSource{
				KernelImagePath: spec.Kernel,
				InitrdPath:      spec.Initrd,
				BootArgs:        spec.BootArgs,
			})
		},
		func(ctx context.Context, inst *instance.Instance) error {
			ro := spec.ReadOnly
			return inst.PutGuestDrive(ctx, types.Drive{
				DriveID:      "rootfs",
				PathOnHost:   spec.Rootfs,
				IsRootDevice: true,
				IsReadOnly:   &ro,
			})
		},
	}
	if spec.Tap != "" {
		reqs = append(reqs, func(ctx context.Context, inst *instance.Instance) error {
			return inst.PutGuestNetworkInterface(ctx, types.NetworkInterface{
				IfaceID:     "eth0",
				HostDevName: spec.Tap,
				GuestMAC:    spec.GuestMAC,
			})
		})
	}
	if spec.Tap != "" && spec.WantsMetadata() {
		reqs = append(reqs, func(ctx context.Context, inst *instance.Instance) error {
			doc, err := metadata.Document(spec.Metadata())
			if err != nil {
				return err
			}
			if err := inst.PutMMDSConfig(ctx, types.MMDSConfig{
				Version:           types.MMDSv2,
				NetworkInterfaces: []string{"eth0"},
			}); err != nil {
				return err
			}
			return inst.PutMMDS(ctx, doc)
		})
	}
	return reqs
}

// Metadata is the MMDS input for spec.
func (spec *LaunchSpec) Metadata() *metadata.Config {
	return &metadata.Config{
		InstanceID:   spec.ID,
		Hostname:     spec.Hostname,
		RootPassword: spec.RootPassword,
		SSHKeys:      spec.SSHKeys,
	}
}

// WantsMetadata reports whether any MMDS-served field is set.
func (spec *LaunchSpec) WantsMetadata() bool {
	return spec.Hostname != "" || spec.RootPassword != "" || len(spec.SSHKeys) > 0
}

// ConfigureGuest issues GuestRequests against a started VMM.
func ConfigureGuest(ctx context.Context, inst *instance.Instance, spec *LaunchSpec) error {
	for _, req := range GuestRequests(spec) {
		if err := req(ctx, inst); err != nil {
			return fmt.Errorf("configure guest: %w", err)
		}
	}
	return nil
}

// Attach connects to the VMM of a registry record.
func Attach(ctx context.Context, conf *config.Config, rec *registry.Record) (*instance.Instance, error) {
	if !rec.Alive() {
		return nil, fmt.Errorf("%s is not running", rec.Name)
	}
	return instance.Attach(ctx, instance.Config{SocketPath: rec.SocketPath}, rec.PID, rec.JailerPID, InstanceOptions(conf)...)
}

// ReconcileState derives a display state from process liveness.
func ReconcileState(rec *registry.Record) string {
	switch {
	case rec.PID <= 0:
		return "starting"
	case rec.Alive():
		return "running"
	default:
		return "stopped"
	}
}
