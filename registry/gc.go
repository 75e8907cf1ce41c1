package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/projecteru2/fcsdk/gc"
	"github.com/projecteru2/fcsdk/lock/flock"
	"github.com/projecteru2/fcsdk/utils"
)

const (
	instancesModule = "instances"
	dirsModule      = "dirs"

	// launchGrace protects records whose launch has not recorded a pid yet.
	launchGrace = time.Hour
)

type instanceSnapshot struct {
	names map[string]struct{} // every recorded name
	stale []string            // IDs whose processes are gone
}

type dirSnapshot struct {
	runDirs []string
	logDirs []string
}

// RegisterGC adds the instance index and the per-instance directories to orch.
func (r *Registry) RegisterGC(orch *gc.Orchestrator) {
	gc.Register(orch, r.instancesModule())
	gc.Register(orch, r.dirsModule())
}

func (r *Registry) instancesModule() gc.Module[instanceSnapshot] {
	return gc.Module[instanceSnapshot]{
		Name:   instancesModule,
		Locker: r.store,
		ReadDB: func(_ context.Context) (instanceSnapshot, error) {
			snap := instanceSnapshot{names: map[string]struct{}{}}
			cutoff := time.Now().Add(-launchGrace)
			err := r.store.Read(func(idx *Index) error {
				for id, rec := range idx.Instances {
					snap.names[rec.Name] = struct{}{}
					if isStale(rec, cutoff) {
						snap.stale = append(snap.stale, id)
					}
				}
				return nil
			})
			return snap, err
		},
		Resolve: func(snap instanceSnapshot, _ map[string]any) []string { return snap.stale },
		Collect: func(ctx context.Context, ids []string) error {
			return r.store.Write(func(idx *Index) error {
				for _, id := range ids {
					if rec := idx.Instances[id]; rec != nil {
						rec.Teardown().Run(ctx)
					}
				}
				removeLocked(idx, ids)
				return nil
			})
		},
	}
}

func (r *Registry) dirsModule() gc.Module[dirSnapshot] {
	return gc.Module[dirSnapshot]{
		Name:   dirsModule,
		Locker: flock.New(filepath.Join(r.conf.RunDir, "gc.lock")),
		ReadDB: func(_ context.Context) (dirSnapshot, error) {
			return dirSnapshot{
				runDirs: utils.ScanSubdirs(r.conf.RunDir),
				logDirs: utils.ScanSubdirs(r.conf.LogDir),
			}, nil
		},
		Resolve: func(snap dirSnapshot, others map[string]any) []string {
			inst, ok := others[instancesModule].(instanceSnapshot)
			if !ok {
				return nil
			}
			candidates := append(utils.FilterUnreferenced(snap.runDirs, inst.names),
				utils.FilterUnreferenced(snap.logDirs, inst.names)...)
			seen := map[string]struct{}{}
			var out []string
			for _, name := range candidates {
				if _, dup := seen[name]; dup {
					continue
				}
				seen[name] = struct{}{}
				out = append(out, name)
			}
			return out
		},
		Collect: func(_ context.Context, names []string) error {
			var errs []error
			for _, name := range names {
				for _, dir := range []string{r.conf.InstanceRunDir(name), r.conf.InstanceLogDir(name)} {
					if err := os.RemoveAll(dir); err != nil {
						errs = append(errs, fmt.Errorf("remove %s: %w", dir, err))
					}
				}
			}
			return errors.Join(errs...)
		},
	}
}

// isStale is true once neither recorded process exists. Records without a
// pid are launches in flight until launchGrace has passed.
func isStale(rec *Record, cutoff time.Time) bool {
	if rec.PID <= 0 {
		return rec.CreatedAt.Before(cutoff)
	}
	if utils.IsProcessAlive(rec.PID) {
		return false
	}
	return rec.JailerPID <= 0 || !utils.IsProcessAlive(rec.JailerPID)
}
