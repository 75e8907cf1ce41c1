package gc

import (
	"context"
	"fmt"
	"strings"

	"github.com/projecteru2/core/log"
)

// Orchestrator runs GC across all registered modules.
type Orchestrator struct {
	modules []runner
}

// New creates an empty Orchestrator.
func New() *Orchestrator { return &Orchestrator{} }

// Register adds a typed Module. It is a function because methods cannot
// take type parameters.
func Register[S any](o *Orchestrator, m Module[S]) {
	o.modules = append(o.modules, m)
}

// Run executes one cycle: lock every module, snapshot, resolve targets
// across snapshots, collect, unlock. Any busy module aborts the cycle since
// a partial view could collect something another module still references.
// It returns the number of collected IDs per module.
func (o *Orchestrator) Run(ctx context.Context) (map[string]int, error) {
	logger := log.WithFunc("gc.Run")

	var locked []runner
	var skipped []string
	for _, m := range o.modules {
		ok, err := m.getLocker().TryLock(ctx)
		if err != nil {
			logger.Warnf(ctx, "skip %s: TryLock error: %v", m.getName(), err)
			skipped = append(skipped, m.getName())
			continue
		}
		if !ok {
			logger.Warnf(ctx, "skip %s: lock held by another operation", m.getName())
			skipped = append(skipped, m.getName())
			continue
		}
		locked = append(locked, m)
	}
	defer func() {
		for _, m := range locked {
			m.getLocker().Unlock(ctx) //nolint:errcheck,gosec
		}
	}()
	if len(skipped) > 0 {
		return nil, fmt.Errorf("gc aborted: modules skipped (lock busy): %s", strings.Join(skipped, ", "))
	}

	snapshots := make(map[string]any, len(locked))
	for _, m := range locked {
		snap, err := m.readSnapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("gc aborted: snapshot %s: %w", m.getName(), err)
		}
		snapshots[m.getName()] = snap
	}

	targets := make(map[string][]string)
	for _, m := range locked {
		if ids := m.resolveTargets(snapshots[m.getName()], snapshots); len(ids) > 0 {
			targets[m.getName()] = ids
		}
	}

	collected := make(map[string]int, len(targets))
	var errs []string
	for _, m := range locked {
		ids := targets[m.getName()]
		if len(ids) == 0 {
			continue
		}
		logger.Infof(ctx, "%s: collecting %d item(s)", m.getName(), len(ids))
		if err := m.collect(ctx, ids); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", m.getName(), err))
			continue
		}
		collected[m.getName()] = len(ids)
	}
	if len(errs) > 0 {
		return collected, fmt.Errorf("gc errors: %s", strings.Join(errs, "; "))
	}
	return collected, nil
}
