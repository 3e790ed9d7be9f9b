package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-dispatch/core"
	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestLimiter_GlobalBudgetPerClient(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 15, 0, time.UTC)
	store := NewMemoryCounterStore()
	store.Now = fixedClock(now)
	limiter := NewLimiter(store, core.RateLimitConfig{RequestsPerMinute: 2})
	limiter.Now = fixedClock(now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := limiter.Check(ctx, "10.0.0.1", "webhook_echo")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if decision.Remaining != 1-i {
			t.Fatalf("expected remaining %d, got %d", 1-i, decision.Remaining)
		}
	}
	decision, err := limiter.Check(ctx, "10.0.0.1", "webhook_echo")
	if err == nil {
		t.Fatalf("expected third request to be throttled")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Code != 429 || rich.TextCode != core.ErrorRateLimited {
		t.Fatalf("expected 429 rate limited error, got %#v", err)
	}
	if decision.RetryAfter != 45*time.Second {
		t.Fatalf("expected retry after end of window, got %s", decision.RetryAfter)
	}
	if decision.Headers()["Retry-After"] != "45" {
		t.Fatalf("unexpected headers %#v", decision.Headers())
	}

	if _, err := limiter.Check(ctx, "10.0.0.2", "webhook_echo"); err != nil {
		t.Fatalf("expected other client to have its own budget: %v", err)
	}

	next := now.Add(time.Minute)
	limiter.Now = fixedClock(next)
	store.Now = fixedClock(next)
	if _, err := limiter.Check(ctx, "10.0.0.1", "webhook_echo"); err != nil {
		t.Fatalf("expected new window to reset budget: %v", err)
	}
}

func TestLimiter_RouteOverrideWithBurst(t *testing.T) {
	limiter := NewLimiter(NewMemoryCounterStore(), core.RateLimitConfig{
		RequestsPerMinute: 100,
		Routes: map[string]core.RouteRateLimit{
			"/slack_notify/": {RequestsPerMinute: 1, Burst: 1},
		},
	})
	limit, scope := limiter.LimitFor("slack_notify")
	if limit.Allowance() != 2 || scope != "route:slack_notify" {
		t.Fatalf("unexpected override %#v scope=%q", limit, scope)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := limiter.Check(ctx, "c", "slack_notify"); err != nil {
			t.Fatalf("request %d within burst: %v", i, err)
		}
	}
	if _, err := limiter.Check(ctx, "c", "slack_notify"); err == nil {
		t.Fatalf("expected override budget to be exhausted")
	}
	if _, err := limiter.Check(ctx, "c", "webhook_echo"); err != nil {
		t.Fatalf("expected global bucket to be independent: %v", err)
	}
}

func TestLimiter_ZeroLimitIsUnlimited(t *testing.T) {
	limiter := NewLimiter(NewMemoryCounterStore(), core.RateLimitConfig{})
	for i := 0; i < 50; i++ {
		decision, err := limiter.Check(context.Background(), "c", "x")
		if err != nil || !decision.Allowed {
			t.Fatalf("expected unlimited admission, got %#v %v", decision, err)
		}
	}
}

func TestLimiter_StoreErrorSurfaces(t *testing.T) {
	limiter := NewLimiter(failingStore{}, core.RateLimitConfig{RequestsPerMinute: 1})
	if _, err := limiter.Allow(context.Background(), "c", "x"); err == nil {
		t.Fatalf("expected store error")
	}
}

func TestRedisCounterStore_SetsExpiryOnFirstIncrement(t *testing.T) {
	client := &fakeRedis{}
	store := NewRedisCounterStore(client)
	for i := 1; i <= 2; i++ {
		count, err := store.Incr(context.Background(), "k", time.Minute)
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if count != int64(i) {
			t.Fatalf("expected %d, got %d", i, count)
		}
	}
	if client.expires != 1 || client.ttl != time.Minute {
		t.Fatalf("expected a single expire call, got %d (%s)", client.expires, client.ttl)
	}

	client.err = errors.New("connection refused")
	if _, err := store.Incr(context.Background(), "k", time.Minute); err == nil {
		t.Fatalf("expected redis error")
	}
}

func TestThrottledError_ToServiceError(t *testing.T) {
	mapped := ThrottledError{Client: "10.0.0.1", Scope: "global", Limit: 5, RetryAfter: 3 * time.Second}.ToServiceError()
	if mapped.TextCode != core.ErrorRateLimited {
		t.Fatalf("expected %q text code, got %q", core.ErrorRateLimited, mapped.TextCode)
	}
	if mapped.Code != 429 {
		t.Fatalf("expected status code 429, got %d", mapped.Code)
	}
	if mapped.Metadata["retry_after_ms"] != int64(3000) {
		t.Fatalf("expected retry hint metadata, got %#v", mapped.Metadata)
	}
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("down")
}

type fakeRedis struct {
	counts  map[string]int64
	expires int
	ttl     time.Duration
	err     error
}

func (f *fakeRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeRedis) Expire(_ context.Context, _ string, ttl time.Duration) *redis.BoolCmd {
	f.expires++
	f.ttl = ttl
	return redis.NewBoolResult(true, nil)
}
