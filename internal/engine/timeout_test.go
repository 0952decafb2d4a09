package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-gateway/internal/domain"
)

func TestRunWithTimeoutReturnsResult(t *testing.T) {
	patch, err := runWithTimeout(context.Background(), time.Second, func(context.Context) (map[string]any, error) {
		return map[string]any{"k": "v"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, patch)
}

func TestRunWithTimeoutExpiryIsOperational(t *testing.T) {
	finished := make(chan error, 1)

	_, err := runWithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) (map[string]any, error) {
		time.Sleep(80 * time.Millisecond)
		finished <- ctx.Err()
		return nil, nil
	})

	oe, ok := domain.AsOperational(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeTimeout, oe.Code)

	// The guard abandons the call but does not cancel it: the body keeps
	// running with a live context.
	select {
	case ctxErr := <-finished:
		assert.NoError(t, ctxErr)
	case <-time.After(time.Second):
		t.Fatal("step body never finished after guard expiry")
	}
}

func TestRunWithTimeoutPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runWithTimeout(ctx, time.Second, func(context.Context) (map[string]any, error) {
		time.Sleep(200 * time.Millisecond)
		return nil, nil
	})

	oe, ok := domain.AsOperational(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeUnavailable, oe.Code)
}
