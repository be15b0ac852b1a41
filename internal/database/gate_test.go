package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruralpay/ledger/internal/apperror"
)

func TestGate_AcquireRelease(t *testing.T) {
	gate := NewGate(2, 0, 0)

	r1, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	r2, err := gate.Acquire(context.Background())
	require.NoError(t, err)

	_, err = gate.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, apperror.IsRetriable(err))
	assert.ErrorIs(t, err, ErrQueueFull)

	r1()
	r3, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	r2()
	r3()
}

func TestGate_WaiterTimesOut(t *testing.T) {
	gate := NewGate(1, 1, 20*time.Millisecond)

	release, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	start := time.Now()
	_, err = gate.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindInternal))
	assert.True(t, apperror.IsRetriable(err))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestGate_WaiterGetsSlot(t *testing.T) {
	gate := NewGate(1, 1, time.Second)

	release, err := gate.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		r, err := gate.Acquire(context.Background())
		if err == nil {
			r()
		}
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	release()
	assert.NoError(t, <-done)
}

func TestGate_CancelledCaller(t *testing.T) {
	gate := NewGate(1, 1, time.Second)

	release, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = gate.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
