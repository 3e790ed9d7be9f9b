package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	Window      = time.Minute
	keyPrefix   = "dispatch:ratelimit"
	scopeGlobal = "global"
)

// Limit is a per-minute budget. Burst adds headroom on top of the steady rate
// within the same window.
type Limit struct {
	RequestsPerMinute int
	Burst             int
}

// Allowance is the number of requests admitted per window; zero means
// unlimited.
func (l Limit) Allowance() int {
	if l.RequestsPerMinute <= 0 {
		return 0
	}
	return l.RequestsPerMinute + max(l.Burst, 0)
}

type Decision struct {
	Allowed    bool
	Scope      string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Headers renders the decision as X-RateLimit-* response headers.
func (d Decision) Headers() map[string]string {
	if d.Limit <= 0 {
		return nil
	}
	headers := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(d.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(max(d.Remaining, 0)),
		"X-RateLimit-Reset":     strconv.FormatInt(d.ResetAt.Unix(), 10),
	}
	if !d.Allowed {
		headers["Retry-After"] = strconv.Itoa(int((d.RetryAfter + time.Second - 1) / time.Second))
	}
	return headers
}

type ThrottledError struct {
	Client     string
	Scope      string
	Limit      int
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: client %q exceeded %d requests per minute on %q; retry in %s",
		strings.TrimSpace(e.Client),
		e.Limit,
		strings.TrimSpace(e.Scope),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"client": strings.TrimSpace(e.Client),
		"scope":  strings.TrimSpace(e.Scope),
		"limit":  e.Limit,
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

// Limiter enforces fixed one-minute windows keyed by client address. A route
// with its own override is counted in a separate bucket from the global one.
type Limiter struct {
	Store  CounterStore
	Now    func() time.Time
	global Limit
	routes map[string]Limit
}

func NewLimiter(store CounterStore, cfg core.RateLimitConfig) *Limiter {
	routes := make(map[string]Limit, len(cfg.Routes))
	for path, limit := range cfg.Routes {
		path = core.NormalizeRoutePath(path)
		if path == "" {
			continue
		}
		routes[path] = Limit{RequestsPerMinute: limit.RequestsPerMinute, Burst: limit.Burst}
	}
	return &Limiter{
		Store:  store,
		Now:    func() time.Time { return time.Now().UTC() },
		global: Limit{RequestsPerMinute: cfg.RequestsPerMinute, Burst: cfg.Burst},
		routes: routes,
	}
}

// LimitFor returns the route override when present, otherwise the global
// budget, along with the bucket scope it counts against.
func (l *Limiter) LimitFor(routePath string) (Limit, string) {
	routePath = core.NormalizeRoutePath(routePath)
	if limit, ok := l.routes[routePath]; ok && limit.RequestsPerMinute > 0 {
		return limit, "route:" + routePath
	}
	return l.global, scopeGlobal
}

func (l *Limiter) Allow(ctx context.Context, client string, routePath string) (Decision, error) {
	if l == nil {
		return Decision{Allowed: true}, nil
	}
	limit, scope := l.LimitFor(routePath)
	allowance := limit.Allowance()
	if allowance <= 0 || l.Store == nil {
		return Decision{Allowed: true, Scope: scope}, nil
	}

	now := l.now()
	windowStart := now.Truncate(Window)
	resetAt := windowStart.Add(Window)
	client = normalizeClient(client)
	key := fmt.Sprintf("%s:%s:%s:%d", keyPrefix, scope, client, windowStart.Unix())

	count, err := l.Store.Incr(ctx, key, resetAt.Sub(now)+time.Second)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: increment %s: %w", key, err)
	}
	decision := Decision{
		Allowed:   count <= int64(allowance),
		Scope:     scope,
		Limit:     allowance,
		Remaining: allowance - int(count),
		ResetAt:   resetAt,
	}
	if !decision.Allowed {
		decision.RetryAfter = resetAt.Sub(now)
	}
	return decision, nil
}

// Check is Allow reporting an exhausted budget as a 429 service error.
func (l *Limiter) Check(ctx context.Context, client string, routePath string) (Decision, error) {
	decision, err := l.Allow(ctx, client, routePath)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		return decision, ThrottledError{
			Client:     normalizeClient(client),
			Scope:      decision.Scope,
			Limit:      decision.Limit,
			RetryAfter: decision.RetryAfter,
		}.ToServiceError()
	}
	return decision, nil
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func normalizeClient(client string) string {
	client = strings.TrimSpace(client)
	if client == "" {
		return "unknown"
	}
	return client
}
