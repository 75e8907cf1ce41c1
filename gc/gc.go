// Package gc removes state left behind by instances whose VMM is gone.
package gc

import "context"

// Locker is the part of lock.Locker a GC cycle needs. Stores that expose
// TryLock for lock-free Read/Write satisfy it directly.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Module is one participant in a GC cycle. S is the snapshot type its
// ReadDB produces.
type Module[S any] struct {
	Name string

	// Locker coordinates with live operations. A busy lock aborts the cycle.
	Locker Locker

	// ReadDB, Resolve and Collect run while Locker is held and must not
	// re-acquire it.
	ReadDB func(ctx context.Context) (S, error)
	// Resolve returns the IDs to collect. others holds every module's
	// snapshot keyed by module name.
	Resolve func(snap S, others map[string]any) []string
	Collect func(ctx context.Context, ids []string) error
}

func (m Module[S]) getName() string        { return m.Name }
func (m Module[S]) getLocker() Locker     { return m.Locker }

func (m Module[S]) readSnapshot(ctx context.Context) (any, error) {
	return m.ReadDB(ctx)
}

func (m Module[S]) resolveTargets(snap any, others map[string]any) []string {
	s, ok := snap.(S)
	if !ok || m.Resolve == nil {
		return nil
	}
	return m.Resolve(s, others)
}

func (m Module[S]) collect(ctx context.Context, ids []string) error {
	if m.Collect == nil {
		return nil
	}
	return m.Collect(ctx, ids)
}
