// Package console relays the local terminal to a guest serial console that
// is wired to the VMM's stdin and stdout.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/term"
)

// DefaultEscape is ctrl+].
const DefaultEscape byte = 0x1D

// ErrDetached is returned by Relay when the user typed the escape sequence
// followed by '.'.
var ErrDetached = errors.New("detached from console")

// ParseEscape accepts a single character or caret notation such as "^]".
func ParseEscape(s string) (byte, error) {
	switch {
	case len(s) == 1:
		return s[0], nil
	case len(s) == 2 && s[0] == '^':
		c := s[1]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c < '@' || c > '_' {
			return 0, fmt.Errorf("invalid escape %q", s)
		}
		return c - '@', nil
	}
	return 0, fmt.Errorf("invalid escape %q", s)
}

// FormatEscape renders b the way ParseEscape accepts it.
func FormatEscape(b byte) string {
	if b < 0x20 {
		return "^" + string(rune(b+'@'))
	}
	return string(rune(b))
}

type escapeState int

const (
	stateNormal escapeState = iota
	stateEscaped
)

// filter tracks the two-state escape detection machine.
type filter struct {
	escape byte
	state  escapeState
}

// feed returns the bytes to forward, whether to detach, and whether the
// user asked for help.
func (f *filter) feed(in []byte) (out []byte, detach, help bool) {
	for _, b := range in {
		switch f.state {
		case stateNormal:
			if b == f.escape {
				f.state = stateEscaped
				continue
			}
			out = append(out, b)
		case stateEscaped:
			f.state = stateNormal
			switch b {
			case '.':
				return out, true, help
			case '?':
				help = true
			case f.escape:
				out = append(out, f.escape)
			default:
				// Unrecognized: forward both bytes.
				out = append(out, f.escape, b)
			}
		}
	}
	return out, false, help
}

func helpText(escape byte) string {
	e := FormatEscape(escape)
	return "\r\nSupported escape sequences:\r\n" +
		"  " + e + ".  Detach\r\n" +
		"  " + e + "?  This help\r\n" +
		"  " + e + e + " Send " + e + "\r\n"
}

// Relay copies guestOut to localOut and localIn to guestIn until either side
// closes, ctx is done, or the user detaches.
func Relay(ctx context.Context, localIn io.Reader, localOut io.Writer, guestIn io.Writer, guestOut io.Reader, escape byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2) //nolint:mnd
	go func() {
		_, err := io.Copy(localOut, guestOut)
		errCh <- err
		cancel()
	}()
	go func() {
		errCh <- relayInput(ctx, localIn, localOut, guestIn, escape)
		cancel()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if errors.Is(err, ErrDetached) {
			return err
		}
		if err != nil && !isCleanExit(err) {
			return err
		}
	}
	select {
	case err := <-errCh:
		if errors.Is(err, ErrDetached) || (err != nil && !isCleanExit(err)) {
			return err
		}
	default:
	}
	return nil
}

func relayInput(ctx context.Context, localIn io.Reader, localOut, guestIn io.Writer, escape byte) error {
	f := &filter{escape: escape}
	buf := make([]byte, 256) //nolint:mnd
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := localIn.Read(buf)
		if n > 0 {
			out, detach, help := f.feed(buf[:n])
			if len(out) > 0 {
				if _, werr := guestIn.Write(out); werr != nil {
					return werr
				}
			}
			if help {
				_, _ = io.WriteString(localOut, helpText(escape))
			}
			if detach {
				return ErrDetached
			}
		}
		if err != nil {
			return err
		}
	}
}

// isCleanExit is true for errors that mean the peer went away.
func isCleanExit(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}

// MakeRaw puts f into raw mode when it is a terminal and returns the
// function restoring it.
func MakeRaw(f *os.File) (func(), error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("set raw mode: %w", err)
	}
	return func() { _ = term.Restore(fd, old) }, nil
}
