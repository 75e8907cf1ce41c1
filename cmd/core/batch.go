package core

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/projecteru2/fcsdk/registry"
)

// ForEach resolves refs and runs fn on each record with at most limit calls
// in flight. A failure does not stop the others; the names that succeeded
// are returned in argument order.
func ForEach(ctx context.Context, reg *registry.Registry, refs []string, limit int, fn func(context.Context, *registry.Record) error) ([]string, error) {
	done := make([]string, len(refs))
	errs := make([]error, len(refs))

	var g errgroup.Group
	g.SetLimit(max(limit, 1))
	for i, ref := range refs {
		g.Go(func() error {
			rec, err := reg.Get(ctx, ref)
			if err == nil {
				err = fn(ctx, rec)
			}
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", ref, err)
				return nil
			}
			done[i] = rec.Name
			return nil
		})
	}
	_ = g.Wait()

	return slices.DeleteFunc(done, func(s string) bool { return s == "" }), errors.Join(errs...)
}
