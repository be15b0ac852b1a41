package database

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ruralpay/ledger/internal/apperror"
)

var ErrQueueFull = errors.New("connection wait queue is full")

// Gate bounds concurrent store work to the pool capacity. At most maxWaiting
// callers queue for a slot, each for at most timeout; everyone else is
// rejected as overloaded instead of piling up inside database/sql.
type Gate struct {
	slots   *semaphore.Weighted
	waiters *semaphore.Weighted
	timeout time.Duration
}

func NewGate(capacity, maxWaiting int, timeout time.Duration) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	if maxWaiting < 0 {
		maxWaiting = 0
	}
	return &Gate{
		slots:   semaphore.NewWeighted(int64(capacity)),
		waiters: semaphore.NewWeighted(int64(maxWaiting)),
		timeout: timeout,
	}
}

// Acquire returns a release func that must be called exactly once.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	release := func() { g.slots.Release(1) }

	if g.slots.TryAcquire(1) {
		return release, nil
	}
	if !g.waiters.TryAcquire(1) {
		return nil, apperror.Overloaded(ErrQueueFull)
	}
	defer g.waiters.Release(1)

	waitCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, apperror.Internal("request cancelled while waiting for the store", ctx.Err())
		}
		return nil, apperror.Overloaded(err)
	}
	return release, nil
}
