// Package clock issues the logical timestamps that decide every conflict
// between the local working copy and the remote replica.
package clock

import (
	"context"
	"sync"
	"time"
)

// Store persists the last issued or observed timestamp.
type Store interface {
	LoadClock(ctx context.Context) (int64, error)
	SaveClock(ctx context.Context, value int64) error
}

// Decision is the outcome of comparing local and remote timestamps.
type Decision int

const (
	// Equal means both sides hold the same snapshot.
	Equal Decision = iota
	// Push means the local snapshot is newer.
	Push
	// Pull means the remote snapshot is newer.
	Pull
)

func (d Decision) String() string {
	switch d {
	case Push:
		return "push"
	case Pull:
		return "pull"
	default:
		return "equal"
	}
}

// Compare orders two timestamps. It is a total order on a single scalar.
func Compare(local, remote int64) Decision {
	switch {
	case local > remote:
		return Push
	case remote > local:
		return Pull
	default:
		return Equal
	}
}

// Clock is a hybrid wall/logical clock backed by Store. The persisted value
// is re-read on every call so several clocks sharing one store, or a clock
// rebuilt after a restart, never go backwards.
type Clock struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// New builds a Clock. now defaults to time.Now.
func New(store Store, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{store: store, now: now}
}

// Tick returns and persists a value strictly greater than both the current
// wall time in milliseconds and the last persisted value.
func (c *Clock) Tick(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, err := c.store.LoadClock(ctx)
	if err != nil {
		return 0, err
	}
	next := c.now().UnixMilli()
	if last > next {
		next = last
	}
	next++
	if err := c.store.SaveClock(ctx, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Observe records a timestamp seen elsewhere, keeping the maximum. It returns
// the persisted value.
func (c *Clock) Observe(ctx context.Context, ts int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, err := c.store.LoadClock(ctx)
	if err != nil {
		return 0, err
	}
	if ts <= last {
		return last, nil
	}
	if err := c.store.SaveClock(ctx, ts); err != nil {
		return 0, err
	}
	return ts, nil
}

// Current returns the persisted value without advancing it.
func (c *Clock) Current(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.LoadClock(ctx)
}
