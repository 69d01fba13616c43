package retry

import (
	"context"
	"fmt"
	"time"
)

// Spec bounds one retried operation: up to Attempts tries, each under its
// own Timeout, separated by a fixed Interval. The interval is deliberately
// fixed rather than exponential; the sources this system talks to are
// low-QPS and a conservative steady cadence is what they tolerate.
type Spec struct {
	Attempts int
	Interval time.Duration
	Timeout  time.Duration
}

func (s Spec) normalized() Spec {
	if s.Attempts < 1 {
		s.Attempts = 1
	}
	return s
}

// Do runs op up to spec.Attempts times and returns the last attempt's error
// if all fail. Each attempt sees a child context bounded by spec.Timeout.
// Cancellation of ctx stops the loop between attempts.
func Do(ctx context.Context, spec Spec, op func(ctx context.Context) error) error {
	spec = spec.normalized()

	var lastErr error
	for attempt := 1; attempt <= spec.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx := ctx
		cancel := func() {}
		if spec.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		}
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < spec.Attempts && spec.Interval > 0 {
			if err := sleep(ctx, spec.Interval); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("after %d attempts: %w", spec.Attempts, lastErr)
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, spec Spec, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, spec, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
