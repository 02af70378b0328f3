// Package compose builds onion-style pipelines out of ordered middleware.
//
// Middleware run in slice order. Each receives a Next that resumes the chain;
// code before next runs on the way in, code after it on the way out. A
// middleware that returns without calling next ends the chain, so neither the
// remaining middleware nor the final step run. Errors returned by inner links
// come back out of next, where an outer middleware may handle them.
package compose

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrNextCalledMultipleTimes is returned when a middleware calls its next
// function more than once.
var ErrNextCalledMultipleTimes = errors.New("next() called multiple times")

// Next resumes the chain with ctx.
type Next func(ctx context.Context) error

// Middleware is one layer of a pipeline operating on a value of type T.
type Middleware[T any] func(ctx context.Context, c T, next Next) error

// Pipeline runs composed middleware on c and calls final once every
// middleware has delegated to its next.
type Pipeline[T any] func(ctx context.Context, c T, final Next) error

// Compose returns a Pipeline running mws in order.
//
// Nil entries are skipped. The slice is copied, so later changes to mws do not
// affect the returned pipeline. With no middleware the pipeline calls final
// directly; a nil final is a no-op.
func Compose[T any](mws []Middleware[T]) Pipeline[T] {
	chain := make([]Middleware[T], 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			chain = append(chain, mw)
		}
	}

	return func(ctx context.Context, c T, final Next) error {
		var dispatch func(ctx context.Context, i int) error
		dispatch = func(ctx context.Context, i int) error {
			if i == len(chain) {
				if final == nil {
					return nil
				}
				return final(ctx)
			}

			var called atomic.Bool
			next := func(ctx context.Context) error {
				if !called.CompareAndSwap(false, true) {
					return ErrNextCalledMultipleTimes
				}
				return dispatch(ctx, i+1)
			}
			return chain[i](ctx, c, next)
		}
		return dispatch(ctx, 0)
	}
}
