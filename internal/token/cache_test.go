package token

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestEnsureFreshReturnsCachedRecord(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c := NewCache(5 * time.Minute)
	c.now = fixedClock(t0.Add(100 * time.Second))
	c.rec = Record{Value: "t-abc", IssuedAt: t0, ExpiresAt: t0.Add(7200 * time.Second)}
	c.held = true

	called := false
	rec, err := c.EnsureFresh(context.Background(), func(ctx context.Context) (Record, error) {
		called = true
		return Record{}, nil
	})
	if err != nil {
		t.Fatalf("EnsureFresh error: %v", err)
	}
	if called {
		t.Fatal("refresh invoked for a fresh record")
	}
	if rec.Value != "t-abc" {
		t.Fatalf("Value = %q, want t-abc", rec.Value)
	}
}

func TestEnsureFreshTriggersInsideSafetyMargin(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c := NewCache(300 * time.Second)
	// 7195s after issue: 7195 >= 7200-300, so a refresh is due.
	c.now = fixedClock(t0.Add(7195 * time.Second))
	c.rec = Record{Value: "t-old", IssuedAt: t0, ExpiresAt: t0.Add(7200 * time.Second)}
	c.held = true

	rec, err := c.EnsureFresh(context.Background(), func(ctx context.Context) (Record, error) {
		now := t0.Add(7195 * time.Second)
		return Record{Value: "t-new", IssuedAt: now, ExpiresAt: now.Add(7200 * time.Second)}, nil
	})
	if err != nil {
		t.Fatalf("EnsureFresh error: %v", err)
	}
	if rec.Value != "t-new" {
		t.Fatalf("Value = %q, want t-new", rec.Value)
	}

	got, ok := c.Peek()
	if !ok || got.Value != "t-new" {
		t.Fatalf("Peek after refresh = (%q, %v), want (t-new, true)", got.Value, ok)
	}
}

func TestEnsureFreshKeepsStaleRecordOnFailure(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	refreshErr := errors.New("credential endpoint down")

	c := NewCache(15 * time.Minute)
	// Expiry 10 minutes out with a 15-minute margin: refresh is due, but the
	// record is still valid if the refresh fails.
	c.now = fixedClock(t0)
	c.rec = Record{Value: "t-stale", IssuedAt: t0.Add(-110 * time.Minute), ExpiresAt: t0.Add(10 * time.Minute)}
	c.held = true

	rec, err := c.EnsureFresh(context.Background(), func(ctx context.Context) (Record, error) {
		return Record{}, refreshErr
	})
	if !errors.Is(err, refreshErr) {
		t.Fatalf("err = %v, want %v", err, refreshErr)
	}
	if rec.Value != "t-stale" {
		t.Fatalf("Value = %q, want the stale-but-valid record", rec.Value)
	}

	// The stale record must survive for Peek.
	got, ok := c.Peek()
	if !ok || got.Value != "t-stale" {
		t.Fatalf("Peek = (%q, %v), want (t-stale, true)", got.Value, ok)
	}
}

func TestEnsureFreshFailsWithNoUsableRecord(t *testing.T) {
	t.Parallel()
	refreshErr := errors.New("boom")

	c := NewCache(5 * time.Minute)
	if _, err := c.EnsureFresh(context.Background(), func(ctx context.Context) (Record, error) {
		return Record{}, refreshErr
	}); !errors.Is(err, refreshErr) {
		t.Fatalf("err = %v, want %v", err, refreshErr)
	}

	if _, ok := c.Peek(); ok {
		t.Fatal("Peek reported a record on an empty cache")
	}
}

func TestRecordValidity(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := Record{Value: "t", IssuedAt: t0, ExpiresAt: t0.Add(2 * time.Hour)}

	if !r.ExpiresAt.After(r.IssuedAt) {
		t.Fatal("ExpiresAt must be after IssuedAt")
	}
	if !r.Valid(t0.Add(time.Hour)) {
		t.Fatal("record should be valid before expiry")
	}
	if r.Valid(t0.Add(2 * time.Hour)) {
		t.Fatal("record should be invalid at expiry")
	}
	if r.NeedsRefresh(t0, 5*time.Minute) {
		t.Fatal("fresh record should not need refresh")
	}
	if !r.NeedsRefresh(t0.Add(2*time.Hour-time.Minute), 5*time.Minute) {
		t.Fatal("record inside the safety margin should need refresh")
	}
}
