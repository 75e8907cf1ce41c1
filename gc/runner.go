package gc

import "context"

// runner lets Orchestrator hold Module[S] values of different S.
type runner interface {
	getName() string
	getLocker() Locker
	readSnapshot(ctx context.Context) (any, error)
	resolveTargets(snap any, others map[string]any) []string
	collect(ctx context.Context, ids []string) error
}
