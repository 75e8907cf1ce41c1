package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/projecteru2/fcsdk/utils"
)

// DefaultInterval is the pause between connect attempts.
const DefaultInterval = 100 * time.Millisecond

// ErrConnectTimeout is returned when the VMM socket does not accept a
// connection within the connect timeout.
var ErrConnectTimeout = errors.New("connect timeout")

// Dialer opens the control connection. Implementations decide how to wait
// for a VMM that has not created its socket yet.
type Dialer interface {
	Dial(ctx context.Context, path string, timeout time.Duration) (net.Conn, error)
}

// RetryDialer dials in a loop, sleeping between attempts while the socket is
// missing (ENOENT) or not yet listening (ECONNREFUSED). Any other error is
// returned immediately.
type RetryDialer struct {
	Interval time.Duration
}

func (d RetryDialer) Dial(ctx context.Context, path string, timeout time.Duration) (net.Conn, error) {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	start := time.Now()
	for {
		conn, err := dialUnix(ctx, path)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.ECONNREFUSED) {
			return nil, fmt.Errorf("connect %s: %w", path, err)
		}
		if time.Since(start) > timeout {
			return nil, fmt.Errorf("connect %s: %w after %s: %v", path, ErrConnectTimeout, timeout, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect %s: %w", path, ctx.Err())
		case <-time.After(interval):
		}
	}
}

// PollDialer watches for the socket file and dials once it shows up. A socket
// that exists but is not listening yet keeps it waiting.
type PollDialer struct {
	Interval time.Duration
}

func (d PollDialer) Dial(ctx context.Context, path string, timeout time.Duration) (net.Conn, error) {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	var conn net.Conn
	err := utils.WaitFor(ctx, timeout, interval, func() (bool, error) {
		if !utils.Exists(path) {
			return false, nil
		}
		c, err := dialUnix(ctx, path)
		switch {
		case errors.Is(err, unix.ECONNREFUSED):
			return false, nil
		case err != nil:
			return false, err
		}
		conn = c
		return true, nil
	})
	switch {
	case err == nil:
		return conn, nil
	case errors.Is(err, utils.ErrWaitTimeout):
		return nil, fmt.Errorf("connect %s: %w after %s", path, ErrConnectTimeout, timeout)
	default:
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
}

func dialUnix(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}
