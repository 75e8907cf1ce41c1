// Package lock defines the mutual exclusion used around shared on-disk state.
package lock

import (
	"context"
	"errors"
	"fmt"
)

// Locker is a context-aware mutex that may span processes.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	TryLock(ctx context.Context) (bool, error)
}

// WithLock runs fn while holding l. The unlock error is reported only when
// fn itself succeeded.
func WithLock(ctx context.Context, l Locker, fn func() error) (err error) {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if uerr := l.Unlock(ctx); uerr != nil {
			err = errors.Join(err, fmt.Errorf("unlock: %w", uerr))
		}
	}()
	return fn()
}
