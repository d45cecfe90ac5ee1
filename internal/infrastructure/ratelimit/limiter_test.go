package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func (failingStore) Peek(context.Context, string) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func TestLimiterRejectsBeyondLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := NewMemoryStore().WithClock(func() time.Time { return now })
	limiter := NewLimiter("voice", store, 100, time.Hour, true, zap.NewNop())
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		d, err := limiter.Allow(ctx, "user-1")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d rejected early", i)
		}
		if d.Remaining != 100-i {
			t.Fatalf("request %d: expected remaining %d, got %d", i, 100-i, d.Remaining)
		}
	}

	now = now.Add(10 * time.Minute)
	d, err := limiter.Allow(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("101st request must be rejected")
	}
	if d.RetryAfter != 50*time.Minute {
		t.Errorf("expected retry after 50m, got %s", d.RetryAfter)
	}

	other, _ := limiter.Allow(ctx, "user-2")
	if !other.Allowed {
		t.Error("limits must be per user")
	}

	now = now.Add(50 * time.Minute)
	d, _ = limiter.Allow(ctx, "user-1")
	if !d.Allowed {
		t.Error("new window should admit the user again")
	}
}

func TestLimiterRemainingDoesNotConsume(t *testing.T) {
	limiter := NewLimiter("api", NewMemoryStore(), 3, time.Minute, true, zap.NewNop())
	ctx := context.Background()

	limiter.Allow(ctx, "u")
	for i := 0; i < 3; i++ {
		n, err := limiter.Remaining(ctx, "u")
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Fatalf("expected 2 remaining, got %d", n)
		}
	}

	n, _ := limiter.Remaining(ctx, "fresh")
	if n != 3 {
		t.Errorf("unknown key should have the full limit, got %d", n)
	}
}

func TestLimiterStoreFailure(t *testing.T) {
	ctx := context.Background()

	open := NewLimiter("voice", failingStore{}, 1, time.Hour, true, zap.NewNop())
	d, err := open.Allow(ctx, "u")
	if err != nil || !d.Allowed {
		t.Fatalf("fail-open limiter should admit: %+v %v", d, err)
	}

	closed := NewLimiter("voice", failingStore{}, 1, time.Hour, false, zap.NewNop())
	d, err = closed.Allow(ctx, "u")
	if err == nil || d.Allowed {
		t.Fatalf("fail-closed limiter should reject: %+v %v", d, err)
	}
}

func TestLimiterConcurrentRequests(t *testing.T) {
	limiter := NewLimiter("voice", NewMemoryStore(), 20, time.Hour, true, zap.NewNop())
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := limiter.Allow(ctx, "u")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 20 {
		t.Errorf("expected exactly 20 admitted, got %d", allowed)
	}
}

func TestMemoryStoreSweepsPeriodically(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	store := NewMemoryStore().WithClock(func() time.Time { return now })

	for i := 0; i < 100; i++ {
		store.Incr(ctx, fmt.Sprintf("user-%d", i), 10*time.Second)
	}

	// New windows between sweeps do not rescan the map.
	now = now.Add(20 * time.Second)
	store.Incr(ctx, "late", 10*time.Second)
	if n := store.Len(); n != 101 {
		t.Fatalf("expected stale windows to wait for the next sweep, got %d", n)
	}

	now = now.Add(memorySweepEvery)
	store.Incr(ctx, "fresh", 10*time.Second)
	if n := store.Len(); n != 1 {
		t.Fatalf("expected only the fresh window after the sweep, got %d", n)
	}
	if count, _, _ := store.Peek(ctx, "fresh"); count != 1 {
		t.Errorf("fresh window count = %d", count)
	}
}
