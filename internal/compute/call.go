package compute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/errs"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/observability"
)

// Call runs fn and gives up after budget. On timeout fn's context is
// cancelled so in-flight HTTP is aborted, though the remote side may keep
// working. Timeouts surface as errs.RemoteTimeout and other failures as
// errs.Remote unless fn already tagged them.
func Call[T any](ctx context.Context, clk clockwork.Clock, op string, budget time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	start := clk.Now()

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := clk.NewTimer(budget)
	defer timer.Stop()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		elapsed := clk.Since(start).Seconds()
		if r.err != nil {
			err := classify(op, r.err)
			observability.ObserveRemoteCall(op, outcome(err), elapsed)
			return zero, err
		}
		observability.ObserveRemoteCall(op, "ok", elapsed)
		return r.v, nil

	case <-timer.Chan():
		observability.ObserveRemoteCall(op, "timeout", clk.Since(start).Seconds())
		return zero, errs.E(errs.RemoteTimeout, op, fmt.Errorf("no response within %s", budget))

	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			observability.ObserveRemoteCall(op, "timeout", clk.Since(start).Seconds())
			return zero, errs.E(errs.RemoteTimeout, op, err)
		}
		observability.ObserveRemoteCall(op, "canceled", clk.Since(start).Seconds())
		return zero, fmt.Errorf("%s: %w", op, err)
	}
}

func classify(op string, err error) error {
	var tagged *errs.Error
	if errors.As(err, &tagged) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.E(errs.RemoteTimeout, op, err)
	}
	if errors.Is(err, ErrNotConnected) {
		return errs.E(errs.Internal, op, err)
	}
	return errs.E(errs.Remote, op, err)
}

func outcome(err error) string {
	if errs.IsKind(err, errs.RemoteTimeout) {
		return "timeout"
	}
	return "error"
}
