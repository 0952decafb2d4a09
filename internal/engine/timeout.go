package engine

import (
	"context"
	"fmt"
	"time"

	"studio-gateway/internal/domain"
)

type stepOutcome struct {
	patch map[string]any
	err   error
}

// runWithTimeout bounds the wall-clock duration of a single step execution.
// Expiry is always an operational failure, never a correctness one, and the
// underlying call is NOT cancelled: the external operation may still land
// after the guard fires, which is what reconciliation exists to discover.
func runWithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) (map[string]any, error)) (map[string]any, error) {
	done := make(chan stepOutcome, 1)

	go func() {
		patch, err := fn(ctx)
		done <- stepOutcome{patch: patch, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.patch, out.err
	case <-timer.C:
		return nil, domain.Operational(domain.CodeTimeout,
			fmt.Sprintf("step exceeded %s deadline", d), nil)
	case <-ctx.Done():
		return nil, domain.Operational(domain.CodeUnavailable,
			"context cancelled while waiting for step", ctx.Err())
	}
}
