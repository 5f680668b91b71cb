package concurrent

import (
	"context"
	"errors"
	"iter"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ForEach runs action for every value of seq with at most limit goroutines in
// flight (limit <= 0 means unbounded). Unlike errgroup it does not stop at the
// first failure: every value is visited and all errors are joined.
func ForEach[T any](ctx context.Context, seq iter.Seq[T], limit int, action func(context.Context, T) error) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g := errgroup.Group{}
	if limit > 0 {
		g.SetLimit(limit)
	}
	for value := range seq {
		g.Go(func() error {
			if err := action(ctx, value); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// FirstError runs action for every value of seq and returns the first error.
// The context handed to action is cancelled once any action fails.
func FirstError[T any](ctx context.Context, seq iter.Seq[T], limit int, action func(context.Context, T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for value := range seq {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return action(gctx, value)
		})
	}
	return g.Wait()
}

// ParallelMap applies mapFn to each element in parallel, preserving order.
// The workers parameter controls the number of goroutines.
func ParallelMap[T any, R any](in []T, workers int, mapFn func(T) R) []R {
	out := make([]R, len(in))
	g := errgroup.Group{}
	if workers > 0 {
		g.SetLimit(workers)
	}
	for idx, val := range in {
		g.Go(func() error {
			out[idx] = mapFn(val)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
