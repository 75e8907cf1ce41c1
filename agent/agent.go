// Package agent owns the single control connection to a VMM and runs one
// request/response exchange at a time over it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/projecteru2/core/log"
	"golang.org/x/sys/unix"

	"github.com/projecteru2/fcsdk/protocol"
)

// ChunkSize is the read granularity of Receive.
const ChunkSize = 64

type options struct {
	dialer         Dialer
	requestTimeout time.Duration
}

// Option configures Connect and New.
type Option func(*options)

// WithDialer replaces the default RetryDialer.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithRequestTimeout bounds every Event exchange. Zero leaves exchanges
// unbounded unless the ctx passed to Event carries a deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

func newOptions(opts []Option) options {
	o := options{dialer: RetryDialer{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Agent is a connected control channel. Exchanges are serialized.
type Agent struct {
	mu             sync.Mutex
	conn           net.Conn
	path           string
	requestTimeout time.Duration
}

// Connect dials the VMM socket at path, giving up after timeout.
func Connect(ctx context.Context, path string, timeout time.Duration, opts ...Option) (*Agent, error) {
	o := newOptions(opts)
	conn, err := o.dialer.Dial(ctx, path, timeout)
	if err != nil {
		return nil, err
	}
	log.WithFunc("agent.Connect").Debugf(ctx, "connected to %s", path)
	return &Agent{conn: conn, path: path, requestTimeout: o.requestTimeout}, nil
}

// New wraps an established connection.
func New(conn net.Conn, opts ...Option) *Agent {
	o := newOptions(opts)
	return &Agent{conn: conn, requestTimeout: o.requestTimeout}
}

// Path returns the socket path the agent dialed, empty for New.
func (a *Agent) Path() string { return a.path }

// Send writes all of b.
func (a *Agent) Send(b []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.send(b)
}

// Receive reads ChunkSize bytes at a time until the peer closes, a read
// comes back short, or a full chunk completes a response.
//
// The short-read rule is a heuristic rather than real framing: a response
// split across writes may be cut early. It holds for the VMM, which writes
// each response in one go.
func (a *Agent) Receive() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.receive()
}

// Event sends req and decodes the response into out. It returns the HTTP
// status. Cancelling ctx aborts a blocked exchange.
func (a *Agent) Event(ctx context.Context, req protocol.Request, out any) (int, error) {
	raw, err := req.Encode()
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	disarm := a.arm(ctx)
	defer disarm()

	if err := a.send(raw); err != nil {
		return 0, wrapCtx(ctx, fmt.Errorf("%s: %w", req, err))
	}
	resp, err := a.receive()
	if err != nil {
		return 0, wrapCtx(ctx, fmt.Errorf("%s: %w", req, err))
	}
	status, err := protocol.Decode(resp, out)
	if err != nil {
		return status, fmt.Errorf("%s: %w", req, err)
	}
	return status, nil
}

// Close closes the connection.
func (a *Agent) Close() error {
	return a.conn.Close()
}

func (a *Agent) send(b []byte) error {
	for len(b) > 0 {
		n, err := a.conn.Write(b)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (a *Agent) receive() ([]byte, error) {
	var resp []byte
	chunk := make([]byte, ChunkSize)
	for {
		n, err := a.conn.Read(chunk)
		resp = append(resp, chunk[:n]...)
		switch {
		case errors.Is(err, io.EOF):
			return resp, nil
		case errors.Is(err, unix.EAGAIN):
			continue
		case err != nil:
			return resp, fmt.Errorf("receive: %w", err)
		}
		if n < ChunkSize || protocol.Complete(resp) {
			return resp, nil
		}
	}
}

// arm applies the request deadline and makes ctx cancellation unblock I/O.
func (a *Agent) arm(ctx context.Context) func() {
	deadline, ok := ctx.Deadline()
	if a.requestTimeout > 0 {
		if d := time.Now().Add(a.requestTimeout); !ok || d.Before(deadline) {
			deadline, ok = d, true
		}
	}
	if ok {
		_ = a.conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = a.conn.SetDeadline(time.Now())
	})
	return func() {
		stop()
		_ = a.conn.SetDeadline(time.Time{})
	}
}

func wrapCtx(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ctxErr, err)
	}
	return err
}
