package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrWaitTimeout is returned by WaitFor when the deadline passes first.
var ErrWaitTimeout = errors.New("wait timed out")

// WaitFor runs check every interval until it reports done, returns an error,
// or timeout/ctx expires. check runs at least once.
func WaitFor(ctx context.Context, timeout, interval time.Duration, check func() (done bool, err error)) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w after %s", ErrWaitTimeout, timeout)
		case <-ticker.C:
		}
	}
}
