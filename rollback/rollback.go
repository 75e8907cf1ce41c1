// Package rollback records cleanup actions while resources are acquired and
// replays them in reverse order when the owner is torn down.
package rollback

import (
	"context"
	"sync"

	"github.com/projecteru2/core/log"
)

// Action undoes one acquisition.
type Action interface {
	Do(ctx context.Context) error
	String() string
}

// Stack is a LIFO list of Actions. The zero value is ready to use and safe
// for concurrent Push.
type Stack struct {
	mu      sync.Mutex
	actions []Action
}

// Push records a after every previously pushed action.
func (s *Stack) Push(a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, a)
}

// Len returns the number of pending actions.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

// Actions returns a copy of the pending actions in push order.
func (s *Stack) Actions() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Action(nil), s.actions...)
}

// Run executes the pending actions newest first, each exactly once, then
// empties the stack. Failures are logged and never stop later actions.
func (s *Stack) Run(ctx context.Context) {
	actions := s.take()
	if len(actions) == 0 {
		return
	}
	logger := log.WithFunc("rollback.Run")
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		if err := a.Do(ctx); err != nil {
			logger.Warnf(ctx, "rollback %s: %v", a, err)
			continue
		}
		logger.Debugf(ctx, "rollback %s done", a)
	}
}

// Cancel discards the pending actions without running them.
func (s *Stack) Cancel() {
	_ = s.take()
}

func (s *Stack) take() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := s.actions
	s.actions = nil
	return actions
}
