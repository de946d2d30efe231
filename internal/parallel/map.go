// Package parallel fans work out over a bounded number of goroutines.
package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

// Result of mapping one input element. Index is the position of In in the
// input sequence.
type Result[E, D any] struct {
	Index int
	In    E
	Out   D
	Err   error
}

// Map calls mapFunc for every element of seq with at most limit calls in
// flight and yields the results in completion order. Every element produces
// exactly one Result, after ctx is done mapFunc still gets called with the
// done context so it can report the cancellation.
//
// Breaking out of the loop cancels the context of pending calls. The iterator
// returns only once all of them have finished.
//
//	for r := range parallel.Map(ctx, 2, slices.Values(vendors), run) {}
func Map[E, D any](ctx context.Context, limit int, seq iter.Seq[E], mapFunc func(context.Context, E) (D, error)) iter.Seq[Result[E, D]] {
	return func(yield func(Result[E, D]) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var g errgroup.Group
		if limit > 0 {
			g.SetLimit(limit)
		}
		mapped := make(chan Result[E, D], max(limit, 1))

		go func() {
			idx := 0
			for entry := range seq {
				i := idx
				idx++
				g.Go(func() error {
					d, err := mapFunc(ctx, entry)
					mapped <- Result[E, D]{Index: i, In: entry, Out: d, Err: err}
					return nil
				})
			}
			_ = g.Wait()
			close(mapped)
		}()

		defer func() {
			cancel()
			for range mapped {
			}
		}()
		for r := range mapped {
			if !yield(r) {
				return
			}
		}
	}
}
