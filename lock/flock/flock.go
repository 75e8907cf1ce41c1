// Package flock implements lock.Locker on flock(2), serializing fcctl
// invocations that touch the same instance registry. The lock file carries
// the pid of its holder so a blocked caller can report who it waited on.
package flock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/projecteru2/fcsdk/lock"
	"github.com/projecteru2/fcsdk/utils"
)

const retryDelay = 100 * time.Millisecond

var _ lock.Locker = (*Lock)(nil)

// Lock is held by at most one goroutine of this process (slot) and one
// open file description system-wide (fd). Each acquisition opens its own fd.
type Lock struct {
	path string
	slot chan struct{}
	fd   *flock.Flock
}

// New returns a Lock on path. The file and its directory are created on
// first acquisition.
func New(path string) *Lock {
	return &Lock{path: path, slot: make(chan struct{}, 1)}
}

// Holder returns the pid recorded by the current holder of the lock file
// at path, 0 when the lock is free or the file is missing.
func Holder(path string) int {
	pid, err := utils.ReadPIDFile(path)
	if err != nil {
		return 0
	}
	return pid
}

func (l *Lock) Lock(ctx context.Context) error {
	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire lock %s: %w", l.path, ctx.Err())
	}
	fd, err := l.open()
	if err != nil {
		<-l.slot
		return err
	}
	ok, err := fd.TryLockContext(ctx, retryDelay)
	if err == nil && !ok {
		err = ctx.Err()
	}
	if err != nil {
		<-l.slot
		return l.contended(err)
	}
	l.hold(fd)
	return nil
}

// TryLock returns (false, nil) when another holder owns the lock.
func (l *Lock) TryLock(_ context.Context) (bool, error) {
	select {
	case l.slot <- struct{}{}:
	default:
		return false, nil
	}
	fd, err := l.open()
	if err != nil {
		<-l.slot
		return false, err
	}
	ok, err := fd.TryLock()
	if err != nil || !ok {
		<-l.slot
		if err != nil {
			return false, fmt.Errorf("acquire flock %s: %w", l.path, err)
		}
		return false, nil
	}
	l.hold(fd)
	return true, nil
}

func (l *Lock) Unlock(_ context.Context) error {
	var err error
	if fd := l.fd; fd != nil {
		l.fd = nil
		// Clear the holder while still owning the file.
		_ = os.Truncate(l.path, 0)
		err = fd.Unlock()
	}
	select {
	case <-l.slot:
	default:
	}
	if err != nil {
		return fmt.Errorf("release flock %s: %w", l.path, err)
	}
	return nil
}

func (l *Lock) open() (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil { //nolint:mnd
		return nil, fmt.Errorf("create lock dir for %s: %w", l.path, err)
	}
	return flock.New(l.path), nil
}

// hold records the acquisition. The pid is written in place so the inode,
// and with it the flock, stays the same.
func (l *Lock) hold(fd *flock.Flock) {
	l.fd = fd
	_ = utils.WritePIDFile(l.path, os.Getpid())
}

func (l *Lock) contended(err error) error {
	if pid := Holder(l.path); pid > 0 {
		return fmt.Errorf("acquire flock %s (held by pid %d): %w", l.path, pid, err)
	}
	return fmt.Errorf("acquire flock %s: %w", l.path, err)
}
