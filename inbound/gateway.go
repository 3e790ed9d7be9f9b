package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/manifest"
	"github.com/goliatone/go-dispatch/ratelimit"
	goerrors "github.com/goliatone/go-errors"
)

const (
	HeaderTraceID     = "X-Trace-Id"
	HeaderWorkspaceID = "X-Workspace-Id"
)

// Request is one inbound HTTP delivery for a route.
type Request struct {
	RoutePath   string
	TraceID     string
	WorkspaceID string
	ClientAddr  string
	Headers     map[string]string
	Body        []byte
}

// Response is what the HTTP layer renders. Exactly one of Result, Passthrough
// or Error is set for sync routes; async admissions only carry the trace id.
type Response struct {
	Status      int
	TraceID     string
	RoutePath   string
	RequestType manifest.RequestType
	Duplicate   bool
	Result      json.RawMessage
	Passthrough *core.Passthrough
	Error       *core.ErrorEnvelope
	Headers     map[string]string
}

// Envelope is the JSON body for everything except passthrough responses.
func (r Response) Envelope() map[string]any {
	body := map[string]any{"traceId": r.TraceID}
	switch {
	case r.Error != nil:
		body["ok"] = false
		body["error"] = r.Error
	case r.RequestType == manifest.RequestTypeSync && !r.Duplicate:
		body["ok"] = true
		if len(r.Result) > 0 {
			body["result"] = r.Result
		} else {
			body["result"] = nil
		}
	default:
		body["ok"] = true
		body["accepted"] = true
		if r.Duplicate {
			body["duplicate"] = true
		}
	}
	return body
}

type Store interface {
	core.IdempotencyStore
	core.RunStore
}

type Gateway struct {
	Config     core.Config
	Resolver   manifest.Resolver
	Gate       manifest.Gate
	Authorizer *Authorizer
	Limiter    *ratelimit.Limiter
	Store      Store
	Queue      core.Enqueuer
	Executor   core.Executor
	Observer   core.Observer
	Now        func() time.Time
	NewTraceID func() string
}

func NewGateway(
	cfg core.Config,
	resolver manifest.Resolver,
	limiter *ratelimit.Limiter,
	store Store,
	queue core.Enqueuer,
	executor core.Executor,
	observer core.Observer,
) *Gateway {
	cfg = cfg.Clone()
	if resolver == nil {
		resolver = manifest.DefaultResolver
	}
	return &Gateway{
		Config:     cfg,
		Resolver:   resolver,
		Gate:       manifest.NewGate(cfg.Enablement),
		Authorizer: NewAuthorizer(cfg.Auth),
		Limiter:    limiter,
		Store:      store,
		Queue:      queue,
		Executor:   executor,
		Observer:   observer,
		Now:        func() time.Time { return time.Now().UTC() },
		NewTraceID: core.NewTraceID,
	}
}

// Admit runs authorize, rate limit, resolve, claim and dispatch in that
// order. A returned error is an admission failure; sync execution failures
// come back as a Response with Error set.
func (g *Gateway) Admit(ctx context.Context, req Request) (resp Response, err error) {
	if g == nil || g.Store == nil {
		return Response{}, inboundInternal("inbound: gateway is not configured", nil)
	}
	startedAt := time.Now()
	req.RoutePath = core.NormalizeRoutePath(req.RoutePath)
	fields := map[string]any{"route_path": req.RoutePath, "kind": string(core.TaskKindHTTPRoute)}
	defer func() {
		fields["trace_id"] = resp.TraceID
		fields["status_code"] = resp.Status
		if resp.Duplicate {
			fields["outcome"] = "duplicate"
		}
		g.Observer.Observe(ctx, startedAt, "ingress.admit", err, fields)
	}()

	if err := g.Authorizer.Authorize(req.Headers, req.Body); err != nil {
		return Response{}, inboundUnauthorized(err, map[string]any{"route_path": req.RoutePath})
	}

	var rateHeaders map[string]string
	if g.Limiter != nil {
		decision, err := g.Limiter.Check(ctx, clientKey(req.ClientAddr), req.RoutePath)
		rateHeaders = decision.Headers()
		if err != nil {
			var rich *goerrors.Error
			if goerrors.As(err, &rich) && rich.Category == goerrors.CategoryRateLimit {
				return Response{Status: http.StatusTooManyRequests, Headers: rateHeaders}, err
			}
			return Response{}, inboundWrapError(err, goerrors.CategoryOperation, "inbound: rate limit check failed",
				http.StatusInternalServerError, core.ErrorOperationFailed, map[string]any{"route_path": req.RoutePath})
		}
	}

	resolved, err := g.Resolver.Resolve(ctx, g.Config)
	if err != nil {
		return Response{}, err
	}
	route, ok := resolved.Route(req.RoutePath)
	if !ok || !g.Gate.RouteEnabled(req.RoutePath, resolved).Enabled {
		return Response{}, routeNotFound(req.RoutePath)
	}
	fields["request_type"] = string(route.RequestType)

	payload, err := normalizePayload(req.Body)
	if err != nil {
		return Response{}, err
	}

	now := g.now()
	traceID := strings.TrimSpace(req.TraceID)
	if traceID == "" {
		traceID = g.newTraceID()
	}
	task := core.Task{
		Kind:        core.TaskKindHTTPRoute,
		TraceID:     traceID,
		WorkspaceID: req.WorkspaceID,
		RoutePath:   route.RoutePath,
		Payload:     payload,
		EnqueuedAt:  now,
	}
	task.Normalize(g.Config.DefaultWorkspace)
	fields["workspace_id"] = task.WorkspaceID

	base := Response{TraceID: task.TraceID, RoutePath: route.RoutePath, RequestType: route.RequestType, Headers: rateHeaders}

	created, err := g.Store.Claim(ctx, task.TraceID, now)
	if err != nil {
		return base, inboundWrapError(err, goerrors.CategoryOperation, "inbound: idempotency claim failed",
			http.StatusInternalServerError, core.ErrorOperationFailed, map[string]any{"trace_id": task.TraceID})
	}
	if !created {
		base.Status = http.StatusAccepted
		base.Duplicate = true
		return base, nil
	}

	if err := g.Store.Start(ctx, core.NewStartedRun(task, now)); err != nil {
		return base, inboundWrapError(err, goerrors.CategoryOperation, "inbound: record started run",
			http.StatusInternalServerError, core.ErrorOperationFailed, map[string]any{"trace_id": task.TraceID})
	}

	if route.RequestType == manifest.RequestTypeAsync {
		if g.Queue == nil {
			return base, inboundInternal("inbound: execution queue is not configured", nil)
		}
		if err := g.Queue.Enqueue(ctx, task); err != nil {
			return base, inboundWrapError(err, goerrors.CategoryOperation, "inbound: enqueue task",
				http.StatusInternalServerError, core.ErrorOperationFailed, map[string]any{"trace_id": task.TraceID})
		}
		base.Status = http.StatusAccepted
		return base, nil
	}
	return g.dispatchSync(ctx, task, base)
}

func (g *Gateway) dispatchSync(ctx context.Context, task core.Task, base Response) (Response, error) {
	if g.Executor == nil {
		return base, inboundInternal("inbound: executor is not configured", nil)
	}
	result, execErr := g.execute(ctx, task)

	outcome := core.RunOutcome{Status: core.RunStatusSucceeded, FinishedAt: g.now()}
	if execErr != nil {
		outcome.Status = core.RunStatusFailed
		outcome.Error = core.ErrorText(execErr)
	} else {
		outcome.Output = result.Output
		if result.Passthrough != nil {
			if raw, err := json.Marshal(result.Passthrough); err == nil {
				outcome.Output = raw
			}
		}
	}
	// The caller already gets the execution outcome; a failed run update is
	// only logged.
	if _, err := g.Store.Finish(context.WithoutCancel(ctx), task.TraceID, outcome); err != nil {
		g.Observer.Warn(ctx, "inbound: record sync run outcome failed", map[string]any{
			"trace_id": task.TraceID,
			"error":    core.ErrorText(err),
		})
	}

	if execErr != nil {
		envelope, status := core.ToEnvelope(execErr)
		if status < http.StatusInternalServerError {
			if envelope.Details == nil {
				envelope.Details = map[string]any{}
			}
			envelope.Details["executionStatus"] = status
			status = http.StatusBadGateway
		}
		base.Status = status
		base.Error = &envelope
		return base, nil
	}
	if result.Passthrough != nil {
		passthrough := *result.Passthrough
		if passthrough.Status <= 0 {
			passthrough.Status = http.StatusOK
		}
		base.Status = passthrough.Status
		base.Passthrough = &passthrough
		return base, nil
	}
	base.Status = http.StatusOK
	base.Result = result.Output
	return base, nil
}

// execute bounds the call by the sync timeout. A handler that ignores
// cancellation is abandoned once the deadline passes.
func (g *Gateway) execute(ctx context.Context, task core.Task) (core.ExecutionResult, error) {
	timeout := g.Config.Sync.Timeout()
	if timeout <= 0 {
		return g.Executor.Execute(ctx, task)
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result core.ExecutionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := g.Executor.Execute(execCtx, task)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && execCtx.Err() != nil {
			return core.ExecutionResult{}, executionTimeout(task, timeout)
		}
		return out.result, out.err
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return core.ExecutionResult{}, executionTimeout(task, timeout)
		}
		return core.ExecutionResult{}, execCtx.Err()
	}
}

func executionTimeout(task core.Task, timeout time.Duration) error {
	return inboundError(
		fmt.Sprintf("inbound: sync execution timed out after %s", timeout),
		goerrors.CategoryOperation,
		http.StatusGatewayTimeout,
		core.ErrorExecutionTimeout,
		map[string]any{"trace_id": task.TraceID, "route_path": task.RoutePath},
	)
}

// normalizePayload requires a JSON body; an empty body becomes {}.
func normalizePayload(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(trimmed) {
		return nil, inboundBadInput("inbound: request body must be valid JSON", nil)
	}
	return json.RawMessage(append([]byte(nil), trimmed...)), nil
}

func clientKey(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (g *Gateway) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func (g *Gateway) newTraceID() string {
	if g.NewTraceID != nil {
		if id := strings.TrimSpace(g.NewTraceID()); id != "" {
			return id
		}
	}
	return core.NewTraceID()
}
