package replay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/manifest"
	goerrors "github.com/goliatone/go-errors"
)

type Store interface {
	core.IdempotencyStore
	core.RunStore
	core.DeadLetterStore
	core.LineageStore
}

// HandlerSet reports whether an execution target has a handler. The local
// executor registry satisfies it.
type HandlerSet interface {
	Has(target string) bool
}

// Result is the outcome of a re-admission.
type Result struct {
	ParentTraceID string `json:"parentTraceId"`
	NewTraceID    string `json:"newTraceId"`
	RetryCount    int    `json:"retryCount"`
	DeadLetterID  int64  `json:"deadLetterId"`
}

type Controller struct {
	Config     core.Config
	Resolver   manifest.Resolver
	Gate       manifest.Gate
	Handlers   HandlerSet
	Store      Store
	Queue      core.Enqueuer
	Observer   core.Observer
	Now        func() time.Time
	NewTraceID func() string
}

func NewController(cfg core.Config, resolver manifest.Resolver, store Store, queue core.Enqueuer, observer core.Observer) *Controller {
	cfg = cfg.Clone()
	if resolver == nil {
		resolver = manifest.DefaultResolver
	}
	return &Controller{
		Config:     cfg,
		Resolver:   resolver,
		Gate:       manifest.NewGate(cfg.Enablement),
		Store:      store,
		Queue:      queue,
		Observer:   observer,
		Now:        func() time.Time { return time.Now().UTC() },
		NewTraceID: core.NewTraceID,
	}
}

// Retry re-admits the latest dead letter for traceID regardless of the run
// status.
func (c *Controller) Retry(ctx context.Context, traceID string) (result Result, err error) {
	startedAt := time.Now()
	traceID = strings.TrimSpace(traceID)
	defer func() { c.observe(ctx, startedAt, "replay.retry", traceID, result, err) }()
	if err := c.ready(traceID); err != nil {
		return Result{}, err
	}
	return c.readmit(ctx, traceID)
}

// Replay re-admits traceID only while its run is failed.
func (c *Controller) Replay(ctx context.Context, traceID string) (result Result, err error) {
	startedAt := time.Now()
	traceID = strings.TrimSpace(traceID)
	defer func() { c.observe(ctx, startedAt, "replay.replay", traceID, result, err) }()
	if err := c.ready(traceID); err != nil {
		return Result{}, err
	}
	run, err := c.Store.GetRun(ctx, traceID)
	if err != nil {
		if errors.Is(err, core.ErrRunNotFound) {
			return Result{}, replayNotFound(MessageRunNotFound, traceID)
		}
		return Result{}, replayFailed(err, "load run", map[string]any{"trace_id": traceID})
	}
	if run.Status != core.RunStatusFailed {
		return Result{}, replayConflict(MessageReplayRequiresFailedRun, map[string]any{
			"trace_id": traceID,
			"status":   string(run.Status),
		})
	}
	return c.readmit(ctx, traceID)
}

func (c *Controller) readmit(ctx context.Context, traceID string) (Result, error) {
	letter, err := c.Store.LatestDeadLetter(ctx, traceID)
	if err != nil {
		if errors.Is(err, core.ErrDeadLetterNotFound) {
			return Result{}, replayNotFound(MessageDeadLetterNotFound, traceID)
		}
		return Result{}, replayFailed(err, "load dead letter", map[string]any{"trace_id": traceID})
	}
	task, err := core.UnmarshalTask([]byte(letter.PayloadJSON))
	if err != nil {
		return Result{}, replayUnprocessable(err, traceID, letter.ID)
	}

	if err := c.admissible(ctx, task); err != nil {
		return Result{}, err
	}

	now := c.now()
	child := task.WithTrace(c.newTraceID(), now)
	result := Result{ParentTraceID: traceID, NewTraceID: child.TraceID, DeadLetterID: letter.ID}

	if _, err := c.Store.Claim(ctx, child.TraceID, now); err != nil {
		return result, replayFailed(err, "claim replay trace", map[string]any{"trace_id": child.TraceID})
	}
	if err := c.Store.Start(ctx, core.NewStartedRun(child, now)); err != nil {
		return result, replayFailed(err, "record replay run", map[string]any{"trace_id": child.TraceID})
	}
	if err := c.Queue.Enqueue(ctx, child); err != nil {
		return result, replayFailed(err, "enqueue replay", map[string]any{"trace_id": child.TraceID})
	}
	edge, err := c.Store.AppendLineage(ctx, core.LineageEdge{
		ParentTraceID:      traceID,
		ChildTraceID:       child.TraceID,
		SourceDeadLetterID: letter.ID,
		CreatedAt:          now,
	})
	if err != nil {
		return result, replayFailed(err, "append lineage", map[string]any{
			"parent_trace_id": traceID,
			"child_trace_id":  child.TraceID,
		})
	}
	result.RetryCount = edge.RetryCount
	return result, nil
}

// admissible rejects tasks the enablement gate turns away or that have no
// registered handler.
func (c *Controller) admissible(ctx context.Context, task core.Task) error {
	resolved, err := c.Resolver.Resolve(ctx, c.Config)
	if err != nil {
		return err
	}
	decision := c.Gate.IsEnabled(task, resolved)
	if !decision.Enabled {
		return replayConflict("task disabled: "+decision.Reason, map[string]any{
			"kind":   string(task.Kind),
			"target": task.Target(),
		})
	}
	if c.Handlers == nil {
		return nil
	}
	target := ""
	switch task.Kind {
	case core.TaskKindHTTPRoute:
		route, _ := resolved.Route(task.RoutePath)
		target = route.FlowPath
	case core.TaskKindScheduledJob:
		schedule, _ := resolved.Schedule(task.ScheduleID)
		target = schedule.Target
	}
	if !c.Handlers.Has(target) {
		return replayConflict("task handler not registered", map[string]any{
			"kind":   string(task.Kind),
			"target": target,
		})
	}
	return nil
}

func (c *Controller) ready(traceID string) error {
	if c == nil || c.Store == nil || c.Queue == nil {
		return core.NewError("replay: controller is not configured", goerrors.CategoryInternal,
			http.StatusInternalServerError, core.ErrorInternal, nil)
	}
	if traceID == "" {
		return core.NewError("trace id is required", goerrors.CategoryBadInput,
			http.StatusBadRequest, core.ErrorBadInput, nil)
	}
	return nil
}

func (c *Controller) observe(ctx context.Context, startedAt time.Time, operation string, traceID string, result Result, err error) {
	if c == nil {
		return
	}
	fields := map[string]any{"trace_id": traceID}
	if result.NewTraceID != "" {
		fields["new_trace_id"] = result.NewTraceID
		fields["retry_count"] = result.RetryCount
	}
	c.Observer.Observe(ctx, startedAt, operation, err, fields)
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Controller) newTraceID() string {
	if c.NewTraceID != nil {
		if id := strings.TrimSpace(c.NewTraceID()); id != "" {
			return id
		}
	}
	return core.NewTraceID()
}
