package rollback

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/projecteru2/core/log"
	"golang.org/x/sys/unix"

	"github.com/projecteru2/fcsdk/utils"
)

// TerminateProcess sends SIGTERM to PID. It never escalates to SIGKILL.
type TerminateProcess struct {
	PID int
}

func (a TerminateProcess) Do(_ context.Context) error {
	return utils.SignalProcess(a.PID, unix.SIGTERM)
}

func (a TerminateProcess) String() string { return fmt.Sprintf("terminate process %d", a.PID) }

// TerminateChild sends SIGTERM to a process this process started. Once the
// child has been reaped its pid may be reused, so nothing is signalled.
type TerminateChild struct {
	Process *os.Process
}

func (a TerminateChild) Do(_ context.Context) error {
	if err := a.Process.Signal(unix.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal SIGTERM to %d: %w", a.Process.Pid, err)
	}
	return nil
}

func (a TerminateChild) String() string {
	return fmt.Sprintf("terminate child process %d", a.Process.Pid)
}

// RemoveFile unlinks Path. A missing file is fine.
type RemoveFile struct {
	Path string
}

func (a RemoveFile) Do(_ context.Context) error {
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", a.Path, err)
	}
	return nil
}

func (a RemoveFile) String() string { return "remove file " + a.Path }

// RemoveDirectory deletes Path recursively, but only when it is a directory.
type RemoveDirectory struct {
	Path string
}

func (a RemoveDirectory) Do(ctx context.Context) error {
	info, err := os.Lstat(a.Path)
	if err != nil || !info.IsDir() {
		log.WithFunc("rollback.RemoveDirectory").Warnf(ctx, "skip %s: not an existing directory", a.Path)
		return nil
	}
	if err := os.RemoveAll(a.Path); err != nil {
		return fmt.Errorf("remove directory %s: %w", a.Path, err)
	}
	return nil
}

func (a RemoveDirectory) String() string { return "remove directory " + a.Path }

// Func adapts a function into an Action.
type Func struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (a Func) Do(ctx context.Context) error { return a.Fn(ctx) }

func (a Func) String() string { return a.Name }
