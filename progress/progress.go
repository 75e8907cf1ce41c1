// Package progress carries typed progress events from long operations to
// whoever renders them.
package progress

// Tracker receives progress events.
// Implementations must be safe for concurrent use from multiple goroutines.
type Tracker interface {
	OnEvent(any)
}

// NewTracker creates a Tracker from a typed callback function.
// The caller works with a concrete event type; the Tracker interface
// stays non-generic so it can be passed through untyped plumbing.
func NewTracker[E any](fn func(E)) Tracker {
	return funcTracker(func(v any) {
		if e, ok := v.(E); ok {
			fn(e)
		}
	})
}

type funcTracker func(any)

func (f funcTracker) OnEvent(e any) { f(e) }

// Nop is a no-op tracker for callers that don't need progress.
var Nop Tracker = funcTracker(func(any) {})
