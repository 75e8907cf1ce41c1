// Package instance drives one VMM process: it launches it (bare or through
// the jailer), connects the control channel, issues configuration and
// lifecycle calls, and tears everything down through a rollback stack.
package instance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/projecteru2/fcsdk/agent"
	"github.com/projecteru2/fcsdk/chroot"
	"github.com/projecteru2/fcsdk/rollback"
	"github.com/projecteru2/fcsdk/types"
)

// DefaultConnectTimeout bounds the wait for the VMM control socket.
const DefaultConnectTimeout = 3 * time.Second

var (
	// ErrAgentNotPresent is returned by calls made before StartVMM succeeded
	// or after Close.
	ErrAgentNotPresent = errors.New("agent not present")
	// ErrAlreadyStarted is returned by a second StartVMM.
	ErrAlreadyStarted = errors.New("vmm already started")
)

// State is the lifecycle position of an Instance.
type State string

const (
	StateUnstarted State = "unstarted"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

// Command is the process launch descriptor.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string

	// Redirection files. An empty path falls back to the matching stream
	// below, and then to the caller's own stdio.
	StdinPath  string
	StdoutPath string
	StderrPath string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Config describes what to launch and where its files live.
type Config struct {
	Command Command
	// SocketPath is the control socket as seen from the host.
	SocketPath string
	// ExecName is the VMM binary's base name; inside a jail the guest pid
	// is read from <JailRoot>/<ExecName>.pid.
	ExecName string
	// JailRoot is the chroot the jailer builds. Empty means a bare launch.
	JailRoot string
	// Strategy places host files inside JailRoot. Defaults to chroot.Naive.
	Strategy chroot.Strategy
	// RemoveJailRoot deletes JailRoot during teardown.
	RemoveJailRoot bool
}

type options struct {
	connectTimeout time.Duration
	agentOpts      []agent.Option
}

// Option tunes an Instance.
type Option func(*options)

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithDialer selects how the control socket is awaited.
func WithDialer(d agent.Dialer) Option {
	return func(o *options) { o.agentOpts = append(o.agentOpts, agent.WithDialer(d)) }
}

// WithRequestTimeout bounds every control exchange.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.agentOpts = append(o.agentOpts, agent.WithRequestTimeout(d)) }
}

// Instance owns one VMM process, its control connection and its rollback
// stack. Calls on one Instance are sequential.
type Instance struct {
	conf Config
	opts options

	mu    sync.Mutex
	state State
	agent *agent.Agent

	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error

	guestPID  int
	jailerPID int

	stack rollback.Stack
}

// New validates conf and returns an unstarted Instance.
func New(conf Config, opts ...Option) (*Instance, error) {
	if conf.Command.Path == "" {
		return nil, fmt.Errorf("%w: command path not set", types.ErrConfiguration)
	}
	if conf.SocketPath == "" {
		return nil, fmt.Errorf("%w: socket path not set", types.ErrConfiguration)
	}
	if conf.JailRoot != "" {
		if conf.ExecName == "" {
			return nil, fmt.Errorf("%w: exec name not set for jailed launch", types.ErrConfiguration)
		}
		if conf.Strategy == nil {
			conf.Strategy = chroot.Naive{}
		}
	}
	o := options{connectTimeout: DefaultConnectTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Instance{conf: conf, opts: o, state: StateUnstarted}, nil
}

func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = s
}

func (i *Instance) SocketPath() string   { return i.conf.SocketPath }
func (i *Instance) JailRoot() string     { return i.conf.JailRoot }
func (i *Instance) RemoveJailRoot() bool { return i.conf.RemoveJailRoot }
func (i *Instance) Jailed() bool         { return i.conf.JailRoot != "" }

// Strategy returns the chroot strategy, nil for bare launches.
func (i *Instance) Strategy() chroot.Strategy { return i.conf.Strategy }

// GuestPID is the pid of the VMM itself.
func (i *Instance) GuestPID() (int, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.guestPID, i.guestPID > 0
}

// JailerPID is the pid of the spawned jailer, absent for bare launches.
func (i *Instance) JailerPID() (int, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.jailerPID, i.jailerPID > 0
}

// Cleanup returns the pending teardown actions in push order.
func (i *Instance) Cleanup() []rollback.Action {
	return i.stack.Actions()
}

// Wait blocks until the spawned process exits or ctx is done.
func (i *Instance) Wait(ctx context.Context) error {
	if i.exited == nil {
		return ErrAgentNotPresent
	}
	select {
	case <-i.exited:
		return i.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Exited is closed once the spawned process has been reaped.
func (i *Instance) Exited() <-chan struct{} { return i.exited }

// Close drops the control connection and runs the rollback stack: the VMM
// is terminated and every file the Instance created is removed. Use
// CancelCleanup first to leave the VMM running.
func (i *Instance) Close(ctx context.Context) error {
	var err error
	i.mu.Lock()
	if i.agent != nil {
		err = i.agent.Close()
		i.agent = nil
	}
	if i.state == StateRunning || i.state == StatePaused {
		i.state = StateStopped
	}
	i.mu.Unlock()

	i.stack.Run(context.WithoutCancel(ctx))
	return err
}

// CancelCleanup forgets every pending teardown action.
func (i *Instance) CancelCleanup() {
	i.stack.Cancel()
}

func (i *Instance) client() (*agent.Agent, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.agent == nil {
		return nil, ErrAgentNotPresent
	}
	return i.agent, nil
}
