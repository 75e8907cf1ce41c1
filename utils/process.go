package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// WritePIDFile writes pid to path with 0600 permissions.
func WritePIDFile(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

// ReadPIDFile reads a single integer from path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // runtime path
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID from %s: %w", path, err)
	}
	return pid, nil
}

// IsProcessAlive probes pid with signal 0. EPERM still means the process
// exists, it just belongs to someone else (a jailed VMM running as another uid).
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// SignalProcess delivers sig to pid. A process that is already gone is not
// an error.
func SignalProcess(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %s to %d: %w", unix.SignalName(sig), pid, err)
	}
	return nil
}

// WaitProcessExit polls until pid disappears or timeout expires.
func WaitProcessExit(ctx context.Context, pid int, timeout time.Duration) error {
	return WaitFor(ctx, timeout, 50*time.Millisecond, func() (bool, error) { //nolint:mnd
		return !IsProcessAlive(pid), nil
	})
}

// TerminateProcess sends SIGTERM, waits up to grace, then SIGKILLs.
func TerminateProcess(ctx context.Context, pid int, grace time.Duration) error {
	if err := SignalProcess(pid, unix.SIGTERM); err != nil {
		return err
	}
	if WaitProcessExit(ctx, pid, grace) == nil {
		return nil
	}
	return SignalProcess(pid, unix.SIGKILL)
}
