package readiness

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxAttempts:     5,
		Timeout:         time.Second,
	}
}

func TestWait_EventuallyReady(t *testing.T) {
	var calls atomic.Int32
	probe := func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	require.NoError(t, Wait(context.Background(), "discovery", probe, fastConfig()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWait_GivesUp(t *testing.T) {
	var calls atomic.Int32
	probe := func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("connection refused")
	}

	err := Wait(context.Background(), "memory", probe, fastConfig())
	require.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "memory")
	assert.Equal(t, int32(5), calls.Load())
}

func TestWaitAll(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("down") }

	assert.NoError(t, WaitAll(context.Background(), map[string]Probe{"a": ok, "b": ok}, fastConfig()))

	err := WaitAll(context.Background(), map[string]Probe{"a": ok, "evaluation": down}, fastConfig())
	require.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "evaluation")
}
