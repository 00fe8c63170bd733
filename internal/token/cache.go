package token

import (
	"context"
	"sync"
	"time"
)

// RefreshFunc obtains a fresh Record from the credential endpoint.
type RefreshFunc func(ctx context.Context) (Record, error)

// Cache is the process-local store for the current token.
//
// It is safe for concurrent use: Peek may be called from other goroutines
// (e.g. the chat-push path) while a cycle runs EnsureFresh. The lock is
// never held across the refresh network call.
type Cache struct {
	mu     sync.Mutex
	rec    Record
	held   bool
	margin time.Duration

	now func() time.Time
}

func NewCache(margin time.Duration) *Cache {
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	return &Cache{margin: margin, now: time.Now}
}

// EnsureFresh returns the current record, refreshing it first when none is
// held or the held one is inside the safety margin.
//
// On refresh failure the stale record is NOT evicted: if it is still valid
// (past the margin but before actual expiry) it is returned alongside the
// error so the caller can decide whether the failure aborts the cycle or is
// merely logged. With no usable record at all, only the error is returned.
func (c *Cache) EnsureFresh(ctx context.Context, refresh RefreshFunc) (Record, error) {
	c.mu.Lock()
	cur, held := c.rec, c.held
	margin := c.margin
	now := c.now()
	c.mu.Unlock()

	if held && !cur.NeedsRefresh(now, margin) {
		return cur, nil
	}

	fresh, err := refresh(ctx)
	if err != nil {
		if held && cur.Valid(c.nowFn()) {
			return cur, err
		}
		return Record{}, err
	}

	c.mu.Lock()
	c.rec = fresh
	c.held = true
	c.mu.Unlock()
	return fresh, nil
}

// Peek returns the currently held record (if any) without triggering a
// refresh. The record may be stale; callers that tolerate slight staleness
// should check Valid themselves.
func (c *Cache) Peek() (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec, c.held
}

func (c *Cache) nowFn() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}
