package vesting

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// DefaultLockWait bounds how long a state-changing call waits for the one
// ahead of it.
const DefaultLockWait = 5 * time.Second

// callKey marks a context as belonging to a guarded call in progress.
type callKey struct{}

// Guard serializes state-changing calls, rejects re-entry from collaborator
// callbacks, and holds the global pause flag.
type Guard struct {
	exec   chan struct{}
	wait   time.Duration
	paused atomic.Bool
}

func newGuard(wait time.Duration) *Guard {
	if wait <= 0 {
		wait = DefaultLockWait
	}
	return &Guard{exec: make(chan struct{}, 1), wait: wait}
}

// enter checks the pause flag, then re-entry, then takes the execution lock.
// The returned context must be passed to collaborators so a callback into any
// guarded entry point is detected. A callback that drops the context cannot
// be told apart from a concurrent caller; it waits at most the lock wait and
// fails with ErrBusy instead of deadlocking the call it came from.
func (g *Guard) enter(ctx context.Context) (context.Context, func(), error) {
	if g.paused.Load() {
		return nil, nil, domain.ErrPaused
	}
	if ctx.Value(callKey{}) != nil {
		return nil, nil, domain.ErrReentrantCall
	}

	select {
	case g.exec <- struct{}{}:
	default:
		timer := time.NewTimer(g.wait)
		defer timer.Stop()
		select {
		case g.exec <- struct{}{}:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-timer.C:
			return nil, nil, fmt.Errorf("%w: waited %s", domain.ErrBusy, g.wait)
		}
	}
	return context.WithValue(ctx, callKey{}, true), func() { <-g.exec }, nil
}

// Paused reports the pause flag. Reads never consult it.
func (g *Guard) Paused() bool {
	return g.paused.Load()
}

// setPaused flips the flag and reports whether it changed.
func (g *Guard) setPaused(v bool) bool {
	return g.paused.Swap(v) != v
}
