package instance

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/fcsdk/agent"
	"github.com/projecteru2/fcsdk/rollback"
	"github.com/projecteru2/fcsdk/utils"
)

// StartVMM launches the VMM, connects to its control socket and discovers
// its pids. Every acquired resource is recorded for teardown; on failure
// the teardown runs before StartVMM returns and the Instance is Failed.
func (i *Instance) StartVMM(ctx context.Context) (err error) {
	logger := log.WithFunc("instance.StartVMM")

	i.mu.Lock()
	if i.state != StateUnstarted {
		i.mu.Unlock()
		return ErrAlreadyStarted
	}
	i.mu.Unlock()

	defer func() {
		if err == nil {
			return
		}
		logger.Warnf(ctx, "start %s failed, rolling back: %v", i.conf.SocketPath, err)
		i.mu.Lock()
		if i.agent != nil {
			_ = i.agent.Close()
			i.agent = nil
		}
		i.state = StateFailed
		i.mu.Unlock()
		i.stack.Run(context.WithoutCancel(ctx))
	}()

	pid, err := i.spawn()
	if err != nil {
		return err
	}
	i.stack.Push(rollback.TerminateChild{Process: i.cmd.Process})
	if i.Jailed() && i.conf.RemoveJailRoot {
		i.stack.Push(rollback.RemoveDirectory{Path: i.conf.JailRoot})
	}

	a, err := i.connect(ctx)
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.agent = a
	i.mu.Unlock()
	i.stack.Push(rollback.RemoveFile{Path: i.conf.SocketPath})

	guest, jailer := pid, 0
	if i.Jailed() {
		pidFile := filepath.Join(i.conf.JailRoot, i.conf.ExecName+".pid")
		if guest, err = utils.ReadPIDFile(pidFile); err != nil {
			return fmt.Errorf("read guest pid: %w", err)
		}
		jailer = pid
		if guest != jailer {
			i.stack.Push(rollback.TerminateProcess{PID: guest})
		}
	}

	i.mu.Lock()
	i.guestPID, i.jailerPID = guest, jailer
	i.state = StateRunning
	i.mu.Unlock()
	logger.Infof(ctx, "vmm ready on %s (pid %d, jailer pid %d)", i.conf.SocketPath, guest, jailer)
	return nil
}

// spawn starts the process in its own process group and reaps it in the
// background.
func (i *Instance) spawn() (int, error) {
	c := i.conf.Command
	cmd := exec.Command(c.Path, c.Args...) //nolint:gosec // launch descriptor comes from the caller
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var opened []*os.File
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	open := func(path string, flag int) (*os.File, error) {
		f, err := os.OpenFile(path, flag, 0o640) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		opened = append(opened, f)
		return f, nil
	}

	var err error
	if cmd.Stdin, err = pickReader(c.StdinPath, c.Stdin, open); err != nil {
		return 0, err
	}
	if cmd.Stdout, err = pickWriter(c.StdoutPath, c.Stdout, os.Stdout, open); err != nil {
		return 0, err
	}
	if cmd.Stderr, err = pickWriter(c.StderrPath, c.Stderr, os.Stderr, open); err != nil {
		return 0, err
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("exec %s: %w", c.Path, err)
	}
	i.cmd = cmd
	i.exited = make(chan struct{})
	go func() {
		i.waitErr = cmd.Wait()
		close(i.exited)
	}()
	return cmd.Process.Pid, nil
}

func pickReader(path string, r io.Reader, open func(string, int) (*os.File, error)) (io.Reader, error) {
	switch {
	case path != "":
		return open(path, os.O_RDONLY)
	case r != nil:
		return r, nil
	default:
		return os.Stdin, nil
	}
}

func pickWriter(path string, w, fallback io.Writer, open func(string, int) (*os.File, error)) (io.Writer, error) {
	switch {
	case path != "":
		return open(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
	case w != nil:
		return w, nil
	default:
		return fallback, nil
	}
}

// connect dials the control socket. A bare VMM that dies before listening
// aborts the wait; a jailer may legitimately exit early when it daemonizes.
func (i *Instance) connect(ctx context.Context) (*agent.Agent, error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !i.Jailed() {
		go func() {
			select {
			case <-i.exited:
				cancel()
			case <-cctx.Done():
			}
		}()
	}

	a, err := agent.Connect(cctx, i.conf.SocketPath, i.opts.connectTimeout, i.opts.agentOpts...)
	if err != nil {
		select {
		case <-i.exited:
			if !i.Jailed() {
				return nil, fmt.Errorf("vmm exited before socket was ready: %v", i.waitErr)
			}
		default:
		}
		return nil, err
	}
	return a, nil
}
