package gocommand

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dispatch/command"
	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/query"
	"github.com/goliatone/go-dispatch/replay"
	memstore "github.com/goliatone/go-dispatch/store/memory"
	goerrors "github.com/goliatone/go-errors"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

type stubReplayService struct {
	calls int
}

func (s *stubReplayService) Retry(_ context.Context, traceID string) (replay.Result, error) {
	s.calls++
	return replay.Result{ParentTraceID: traceID, NewTraceID: traceID + "-child", RetryCount: s.calls}, nil
}

func (s *stubReplayService) Replay(ctx context.Context, traceID string) (replay.Result, error) {
	return s.Retry(ctx, traceID)
}

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(command.RetryMessage{TraceID: "t1"}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(command.RetryMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
	if err := ValidateMessageContract(query.GetRunMessage{TraceID: "t1"}); err != nil {
		t.Fatalf("expected valid query message, got %v", err)
	}
}

func TestBus_DispatchesOperations(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	task := core.Task{Kind: core.TaskKindHTTPRoute, TraceID: "bus-1", WorkspaceID: "default", RoutePath: "webhook_echo"}
	if err := store.Start(ctx, core.NewStartedRun(task, time.Now())); err != nil {
		t.Fatalf("start run: %v", err)
	}
	svc := &stubReplayService{}

	bus := NewBus(gocmd.NewRegistry())
	t.Cleanup(bus.Close)
	if err := bus.Register(Operations{
		Retry:  command.NewRetryCommand(svc),
		Replay: command.NewReplayCommand(svc),
		GetRun: query.NewGetRunQuery(store),
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	result, err := Retry(ctx, "bus-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.NewTraceID != "bus-1-child" || result.RetryCount != 1 {
		t.Fatalf("unexpected retry result %#v", result)
	}

	run, err := GetRun(ctx, "bus-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != core.RunStatusStarted {
		t.Fatalf("unexpected run %#v", run)
	}
}

func TestBus_MirrorsOperationsIntoQueueRegistry(t *testing.T) {
	bus := NewBus(nil)
	t.Cleanup(bus.Close)
	queueRegistry := jobqueuecommand.NewRegistry()
	if err := bus.MirrorToQueue("queue", queueRegistry); err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if err := bus.Register(Operations{Retry: command.NewRetryCommand(&stubReplayService{})}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, ok := queueRegistry.Get(command.TypeRetry); !ok {
		t.Fatalf("expected retry command mirrored into queue registry")
	}
	if err := bus.MirrorToQueue("queue", nil); err == nil {
		t.Fatalf("expected nil queue registry to fail")
	}
}

type conflictReplayService struct{}

func (conflictReplayService) Retry(context.Context, string) (replay.Result, error) {
	return replay.Result{}, core.NewError("replay requires a failed run", goerrors.CategoryConflict,
		http.StatusConflict, core.ErrorConflict, nil)
}

func (s conflictReplayService) Replay(ctx context.Context, traceID string) (replay.Result, error) {
	return s.Retry(ctx, traceID)
}

func TestDispatched_ReturnsHandlerErrors(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(gocmd.NewRegistry())
	t.Cleanup(bus.Close)
	if err := bus.Register(Operations{
		Replay: command.NewReplayCommand(conflictReplayService{}),
		GetRun: query.NewGetRunQuery(memstore.New()),
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	ops := Dispatched()

	err := ops.Replay.Execute(ctx, command.ReplayMessage{TraceID: "t1"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorConflict || rich.Code != http.StatusConflict {
		t.Fatalf("expected the handler's conflict error, got %#v", err)
	}

	_, err = ops.GetRun.Query(ctx, query.GetRunMessage{TraceID: "missing"})
	if !errors.Is(err, core.ErrRunNotFound) {
		t.Fatalf("expected run not found, got %v", err)
	}
	if goerrors.As(err, &rich) {
		t.Fatalf("expected the store error unwrapped, got %#v", rich)
	}

	err = ops.Retry.Execute(ctx, command.RetryMessage{})
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected message validation error, got %#v", err)
	}
}
