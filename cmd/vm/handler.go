package vm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/fcsdk/cmd/core"
	"github.com/projecteru2/fcsdk/config"
	"github.com/projecteru2/fcsdk/console"
	"github.com/projecteru2/fcsdk/instance"
	"github.com/projecteru2/fcsdk/metadata"
	"github.com/projecteru2/fcsdk/progress"
	launchProgress "github.com/projecteru2/fcsdk/progress/launch"
	"github.com/projecteru2/fcsdk/protocol"
	"github.com/projecteru2/fcsdk/registry"
	"github.com/projecteru2/fcsdk/types"
	"github.com/projecteru2/fcsdk/utils"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) Run(cmd *cobra.Command, _ []string) error {
	ctx, conf, reg, err := h.InitRegistry(cmd)
	if err != nil {
		return err
	}
	spec, err := cmdcore.LaunchSpecFromFlags(cmd, conf)
	if err != nil {
		return err
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	detach, _ := cmd.Flags().GetBool("detach")
	if detach && spec.Console {
		return fmt.Errorf("--detach and --console are mutually exclusive")
	}
	escapeStr, _ := cmd.Flags().GetString("escape-char")
	escape, err := console.ParseEscape(escapeStr)
	if err != nil {
		return err
	}
	if spec.Tap != "" {
		if err := cmdcore.CheckTap(spec.Tap); err != nil {
			return err
		}
	}

	logger := log.WithFunc("cmd.run")
	tracker := progress.NewTracker(func(e launchProgress.Event) {
		if e.PID > 0 {
			logger.Infof(ctx, "%s: %s (pid %d)", e.Name, e.Phase, e.PID)
			return
		}
		logger.Infof(ctx, "%s: %s", e.Name, e.Phase)
	})
	l, err := launch(ctx, conf, reg, spec, tracker)
	if err != nil {
		return err
	}

	if detach {
		l.inst.CancelCleanup()
		_ = l.inst.Close(ctx)
		fmt.Println(l.rec.ID)
		return nil
	}
	return l.foreground(ctx, conf, reg, escape)
}

// launched is a booted instance owned by this process.
type launched struct {
	inst *instance.Instance
	rec  *registry.Record
	tty  *guestConsole
}

// launch registers the record before creating any directory so gc never
// sees a launch in flight as an orphan. Every failure path leaves neither
// a process nor a record behind.
func launch(ctx context.Context, conf *config.Config, reg *registry.Registry, spec *cmdcore.LaunchSpec, tracker progress.Tracker) (_ *launched, err error) {
	ic, err := cmdcore.LaunchConfig(conf, spec)
	if err != nil {
		return nil, err
	}
	rec := spec.Record(conf, ic)
	if err := reg.Add(ctx, rec); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			discard(context.WithoutCancel(ctx), reg, rec)
		}
	}()

	if err := conf.EnsureInstanceDirs(spec.Name); err != nil {
		return nil, err
	}
	tracker.OnEvent(launchProgress.Event{Phase: launchProgress.PhaseRegistered, Name: spec.Name})

	var tty *guestConsole
	if spec.Console {
		if tty, err = newGuestConsole(); err != nil {
			return nil, err
		}
		ic.Command.Stdin, ic.Command.Stdout = tty.vmmIn, tty.vmmOut
	}

	inst, err := instance.New(ic, cmdcore.InstanceOptions(conf)...)
	if err != nil {
		tty.close()
		return nil, err
	}
	err = inst.StartVMM(ctx)
	tty.releaseVMMEnds()
	if err != nil {
		tty.close()
		return nil, fmt.Errorf("start vmm: %w", err)
	}
	defer func() {
		if err != nil {
			_ = inst.Close(ctx)
			tty.close()
		}
	}()

	guest, _ := inst.GuestPID()
	jailer, _ := inst.JailerPID()
	tracker.OnEvent(launchProgress.Event{Phase: launchProgress.PhaseSpawned, Name: spec.Name, PID: guest})

	if err := cmdcore.ConfigureGuest(ctx, inst, spec); err != nil {
		return nil, err
	}
	tracker.OnEvent(launchProgress.Event{Phase: launchProgress.PhaseConfigured, Name: spec.Name, PID: guest})
	if err := inst.Start(ctx); err != nil {
		return nil, fmt.Errorf("start guest: %w", err)
	}
	if err := reg.Update(ctx, rec.ID, func(r *registry.Record) error {
		r.PID, r.JailerPID = guest, jailer
		return nil
	}); err != nil {
		return nil, fmt.Errorf("record pids: %w", err)
	}
	rec.PID, rec.JailerPID = guest, jailer
	tracker.OnEvent(launchProgress.Event{Phase: launchProgress.PhaseBooted, Name: spec.Name, PID: guest})
	return &launched{inst: inst, rec: rec, tty: tty}, nil
}

// foreground blocks until a signal, a console detach or VMM exit, then
// stops the guest and tears the instance down.
func (l *launched) foreground(ctx context.Context, conf *config.Config, reg *registry.Registry, escape byte) error {
	logger := log.WithFunc("cmd.run")

	if l.tty != nil {
		if detached := l.attachConsole(ctx, escape); detached {
			l.inst.CancelCleanup()
			_ = l.inst.Close(ctx)
			fmt.Fprintf(os.Stderr, "Detached from %s; the VM keeps running (fcctl rm --force %s)\n", l.rec.Name, l.rec.Name)
			return nil
		}
	} else {
		select {
		case <-ctx.Done():
			logger.Infof(ctx, "signal received, stopping %s", l.rec.Name)
		case <-l.inst.Exited():
			logger.Infof(ctx, "VMM for %s exited", l.rec.Name)
		}
	}

	sctx := context.WithoutCancel(ctx)
	stopGracefully(sctx, l.inst, conf.StopTimeout())
	err := l.inst.Close(sctx)
	l.tty.close()
	if rerr := reg.Remove(sctx, l.rec.ID); rerr != nil {
		err = errors.Join(err, rerr)
	}
	if rerr := os.RemoveAll(l.rec.RunDir); rerr != nil {
		err = errors.Join(err, rerr)
	}
	return err
}

func (l *launched) attachConsole(ctx context.Context, escape byte) (detached bool) {
	restore, err := console.MakeRaw(os.Stdin)
	if err != nil {
		log.WithFunc("cmd.run").Warnf(ctx, "console without raw mode: %v", err)
		restore = func() {}
	}
	fmt.Fprintf(os.Stderr, "Connected to %s (escape sequence: %s.)\r\n", l.rec.Name, console.FormatEscape(escape))
	err = console.Relay(ctx, os.Stdin, os.Stdout, l.tty.in, l.tty.out, escape)
	restore()
	fmt.Fprintf(os.Stderr, "\r\nDisconnected from %s.\r\n", l.rec.Name)
	if errors.Is(err, console.ErrDetached) {
		return true
	}
	if err != nil {
		log.WithFunc("cmd.run").Warnf(ctx, "console relay: %v", err)
	}
	return false
}

// stopGracefully asks the guest to reboot, which Firecracker treats as
// shutdown, and waits for the VMM to exit. The rollback stack handles a
// VMM that ignores the request.
func stopGracefully(ctx context.Context, inst *instance.Instance, timeout time.Duration) {
	select {
	case <-inst.Exited():
		return
	default:
	}
	logger := log.WithFunc("cmd.stop")
	if err := inst.Stop(ctx); err != nil {
		logger.Warnf(ctx, "send ctrl-alt-del: %v", err)
		return
	}
	select {
	case <-inst.Exited():
	case <-time.After(timeout):
		logger.Warnf(ctx, "guest did not shut down within %s, terminating", timeout)
	}
}

func discard(ctx context.Context, reg *registry.Registry, rec *registry.Record) {
	if err := reg.Remove(ctx, rec.ID); err != nil {
		log.WithFunc("cmd.run").Warnf(ctx, "remove record %s: %v", rec.ID, err)
	}
	for _, dir := range []string{rec.RunDir, rec.LogDir} {
		_ = os.RemoveAll(dir)
	}
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	ctx, _, reg, err := h.InitRegistry(cmd)
	if err != nil {
		return err
	}
	recs, err := reg.List(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	if len(recs) == 0 {
		fmt.Println("No VMs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0) //nolint:mnd
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATE\tPID\tCPU\tMEMORY\tJAILED\tCREATED")
	for _, rec := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%t\t%s\n",
			rec.ID[:min(12, len(rec.ID))], //nolint:mnd
			rec.Name,
			cmdcore.ReconcileState(rec),
			rec.PID,
			rec.CPU,
			units.BytesSize(float64(rec.MemoryMiB)*units.MiB),
			rec.Jailed(),
			rec.CreatedAt.Local().Format(time.DateTime),
		)
	}
	w.Flush() //nolint:errcheck,gosec
	return nil
}

// inspectOutput is the record plus whatever the live VMM reports.
type inspectOutput struct {
	*registry.Record
	State    string                     `json:"state"`
	Instance *types.InstanceInfo        `json:"instance,omitempty"`
	VMConfig *types.FullVMConfiguration `json:"vm_config,omitempty"`
}

func (h Handler) Inspect(cmd *cobra.Command, args []string) error {
	ctx, conf, reg, err := h.InitRegistry(cmd)
	if err != nil {
		return err
	}
	rec, err := reg.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	out := inspectOutput{Record: rec, State: cmdcore.ReconcileState(rec)}
	if rec.Alive() {
		logger := log.WithFunc("cmd.inspect")
		inst, err := cmdcore.Attach(ctx, conf, rec)
		if err != nil {
			logger.Warnf(ctx, "attach %s: %v", rec.Name, err)
		} else {
			defer inst.Close(ctx) //nolint:errcheck
			if out.Instance, err = inst.DescribeInstance(ctx); err != nil {
				logger.Warnf(ctx, "describe %s: %v", rec.Name, err)
			}
			if out.VMConfig, err = inst.GetExportVMConfig(ctx); err != nil {
				logger.Warnf(ctx, "export config %s: %v", rec.Name, err)
			}
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func (h Handler) Pause(cmd *cobra.Command, args []string) error {
	return h.batchAttached(cmd, "pause", "paused", args, (*instance.Instance).Pause)
}

func (h Handler) Resume(cmd *cobra.Command, args []string) error {
	return h.batchAttached(cmd, "resume", "resumed", args, (*instance.Instance).Resume)
}

func (h Handler) Stop(cmd *cobra.Command, args []string) error {
	ctx, conf, reg, err := h.InitRegistry(cmd)
	if err != nil {
		return err
	}
	return batchVMCmd(ctx, "stop", "stopped", func(ctx context.Context, refs []string) ([]string, error) {
		return cmdcore.ForEach(ctx, reg, refs, conf.PoolSize, func(ctx context.Context, rec *registry.Record) error {
			return stopRecord(ctx, conf, rec)
		})
	}, args)
}

// stopRecord leaves the record and its files for rm.
func stopRecord(ctx context.Context, conf *config.Config, rec *registry.Record) error {
	if !rec.Alive() {
		return nil
	}
	logger := log.WithFunc("cmd.stop")
	inst, err := cmdcore.Attach(ctx, conf, rec)
	if err != nil {
		logger.Warnf(ctx, "attach %s: %v, terminating", rec.Name, err)
	} else {
		if err := inst.Stop(ctx); err != nil {
			logger.Warnf(ctx, "send ctrl-alt-del to %s: %v", rec.Name, err)
		}
		_ = inst.Close(ctx)
		if utils.WaitProcessExit(ctx, rec.PID, conf.StopTimeout()) == nil {
			return nil
		}
		logger.Warnf(ctx, "%s did not shut down within %s, terminating", rec.Name, conf.StopTimeout())
	}
	if err := utils.TerminateProcess(ctx, rec.PID, conf.StopTimeout()); err != nil && utils.IsProcessAlive(rec.PID) {
		return fmt.Errorf("terminate pid %d: %w", rec.PID, err)
	}
	return nil
}

// RM tears down and forgets instances, best effort across arguments.
func (h Handler) RM(cmd *cobra.Command, args []string) error {
	ctx, conf, reg, err := h.InitRegistry(cmd)
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	return batchVMCmd(ctx, "rm", "deleted", func(ctx context.Context, refs []string) ([]string, error) {
		return cmdcore.ForEach(ctx, reg, refs, conf.PoolSize, func(ctx context.Context, rec *registry.Record) error {
			if rec.Alive() && !force {
				return fmt.Errorf("%s is running, stop it first or use --force", rec.Name)
			}
			rec.Teardown().Run(ctx)
			return reg.Remove(ctx, rec.ID)
		})
	}, args)
}

func (h Handler) Debug(cmd *cobra.Command, _ []string) error {
	_, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	spec, err := cmdcore.LaunchSpecFromFlags(cmd, conf)
	if err != nil {
		return err
	}
	ic, err := cmdcore.LaunchConfig(conf, spec)
	if err != nil {
		return err
	}

	fmt.Printf("# Launch VM: %s (id: %s, jailed: %t)\n", spec.Name, spec.ID, spec.Jailed)
	fmt.Print(shellQuote(ic.Command.Path))
	for _, a := range ic.Command.Args {
		if strings.HasPrefix(a, "-") {
			fmt.Print(" \\\n ")
		}
		fmt.Print(" " + shellQuote(a))
	}
	fmt.Println()
	fmt.Println()
	fmt.Printf("# API requests on %s\n", ic.SocketPath)
	if spec.Jailed {
		fmt.Printf("# host paths are hard-linked into %s and sent jail-relative\n", ic.JailRoot)
	}
	reqs, err := debugRequests(spec)
	if err != nil {
		return err
	}
	for _, req := range reqs {
		raw, err := req.Encode()
		if err != nil {
			return err
		}
		fmt.Println(strings.ReplaceAll(string(raw), "\r\n", "\n"))
	}
	return nil
}

func debugRequests(spec *cmdcore.LaunchSpec) ([]protocol.Request, error) {
	ro := spec.ReadOnly
	reqs := []protocol.Request{
		{Method: http.MethodPut, Path: "/machine-config", Payload: spec.MachineConfiguration()},
		{Method: http.MethodPut, Path: "/boot-source", Payload: types.BootSource{KernelImagePath: spec.Kernel, InitrdPath: spec.Initrd, BootArgs: spec.BootArgs}},
		{Method: http.MethodPut, Path: "/drives/rootfs", Payload: types.Drive{DriveID: "rootfs", PathOnHost: spec.Rootfs, IsRootDevice: true, IsReadOnly: &ro}},
	}
	if spec.Tap != "" {
		reqs = append(reqs, protocol.Request{Method: http.MethodPut, Path: "/network-interfaces/eth0", Payload: types.NetworkInterface{IfaceID: "eth0", HostDevName: spec.Tap, GuestMAC: spec.GuestMAC}})
	}
	if spec.Tap != "" && spec.WantsMetadata() {
		doc, err := metadata.Document(spec.Metadata())
		if err != nil {
			return nil, err
		}
		reqs = append(reqs,
			protocol.Request{Method: http.MethodPut, Path: "/mmds/config", Payload: types.MMDSConfig{Version: types.MMDSv2, NetworkInterfaces: []string{"eth0"}}},
			protocol.Request{Method: http.MethodPut, Path: "/mmds", Payload: doc},
		)
	}
	return append(reqs, protocol.Request{Method: http.MethodPut, Path: "/actions", Payload: types.InstanceActionInfo{ActionType: types.ActionInstanceStart}}), nil
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>()*?[]{}~#!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (h Handler) batchAttached(cmd *cobra.Command, name, pastTense string, args []string, op func(*instance.Instance, context.Context) error) error {
	ctx, conf, reg, err := h.InitRegistry(cmd)
	if err != nil {
		return err
	}
	return batchVMCmd(ctx, name, pastTense, func(ctx context.Context, refs []string) ([]string, error) {
		return cmdcore.ForEach(ctx, reg, refs, conf.PoolSize, func(ctx context.Context, rec *registry.Record) error {
			inst, err := cmdcore.Attach(ctx, conf, rec)
			if err != nil {
				return err
			}
			defer inst.Close(ctx) //nolint:errcheck
			return op(inst, ctx)
		})
	}, args)
}

func batchVMCmd(ctx context.Context, name, pastTense string, fn func(context.Context, []string) ([]string, error), refs []string) error {
	logger := log.WithFunc("cmd." + name)
	done, err := fn(ctx, refs)
	for _, n := range done {
		logger.Infof(ctx, "%s: %s", pastTense, n)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if len(done) == 0 {
		logger.Infof(ctx, "no VMs %s", strings.ToLower(pastTense))
	}
	return nil
}
