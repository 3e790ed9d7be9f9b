package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dispatch/command"
	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/inbound"
	"github.com/goliatone/go-dispatch/query"
)

const DefaultMaxBodyBytes int64 = 1 << 20

type Admitter interface {
	Admit(ctx context.Context, req inbound.Request) (inbound.Response, error)
}

// Deps are the collaborators behind the HTTP surface. Nil members leave their
// routes unmounted.
type Deps struct {
	ServiceName   string
	Gateway       Admitter
	Retry         gocmd.Commander[command.RetryMessage]
	Replay        gocmd.Commander[command.ReplayMessage]
	GetRun        gocmd.Querier[query.GetRunMessage, core.RunRecord]
	DeadLetters   gocmd.Querier[query.ListDeadLettersMessage, []core.DeadLetter]
	Lineage       gocmd.Querier[query.ListLineageMessage, []core.LineageEdge]
	Executor      core.Executor
	ExecutorToken string
	Metrics       http.Handler
	Observer      core.Observer
	MaxBodyBytes  int64
	Now           func() time.Time
	// TrustProxyHeaders rewrites RemoteAddr from X-Forwarded-For/X-Real-IP
	// before rate limiting.
	TrustProxyHeaders bool
}

type API struct {
	deps Deps
}

// NewRouter mounts the operator routes before the /api/* catch-all, so route
// paths named health, retry, replay, runs, dead-letters or lineage are
// shadowed for GET or POST as listed below. POST /api/health answers 405.
func NewRouter(deps Deps) http.Handler {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	api := &API{deps: deps}

	r := chi.NewRouter()
	if deps.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.NotFound(api.notFound)
	r.MethodNotAllowed(api.methodNotAllowed)

	r.Get("/api/health", api.health)
	r.Post("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", http.MethodGet)
		api.methodNotAllowed(w, r)
	})
	// Without an id the commands reject the message with a validation error.
	if deps.Retry != nil {
		r.Post("/api/retry", api.retry)
		r.Post("/api/retry/{traceId}", api.retry)
	}
	if deps.Replay != nil {
		r.Post("/api/replay", api.replay)
		r.Post("/api/replay/{traceId}", api.replay)
	}
	if deps.GetRun != nil {
		r.Get("/api/runs/{traceId}", api.getRun)
	}
	if deps.DeadLetters != nil {
		r.Get("/api/dead-letters", api.listDeadLetters)
	}
	if deps.Lineage != nil {
		r.Get("/api/lineage/{traceId}", api.listLineage)
	}
	if deps.Gateway != nil {
		r.Post("/api/*", api.dispatch)
	}
	if deps.Executor != nil {
		r.Post("/internal/execute", api.execute)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	return r
}
