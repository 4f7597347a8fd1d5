package relay

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/augustoroman/relay/chain"
)

// withTimeout runs fn with a context bounded by limit and returns a
// *TimeoutError as soon as the limit passes, even if fn ignores its context.
// In that case fn keeps running in the background until it returns on its
// own. A limit <= 0 means no limit.
func withTimeout(ctx context.Context, op string, limit time.Duration, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if x := recover(); x != nil {
				done <- chain.PanicError{Val: x, RawStack: string(debug.Stack())}
			}
		}()
		done <- fn(tctx)
	}()

	select {
	case err := <-done:
		if err != nil && tctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return &TimeoutError{Op: op, Limit: limit}
		}
		return err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return &TimeoutError{Op: op, Limit: limit}
	}
}
