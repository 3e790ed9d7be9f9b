package replay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/executor"
	"github.com/goliatone/go-dispatch/queue"
	memstore "github.com/goliatone/go-dispatch/store/memory"
	goerrors "github.com/goliatone/go-errors"
)

func seedFailure(t *testing.T, store core.Store, traceID string, route string, status core.RunStatus) core.DeadLetter {
	t.Helper()
	ctx := context.Background()
	task := core.Task{
		Kind:        core.TaskKindHTTPRoute,
		TraceID:     traceID,
		WorkspaceID: "acme",
		RoutePath:   route,
		Payload:     json.RawMessage(`{"n":1}`),
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := store.Start(ctx, core.NewStartedRun(task, time.Now())); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if _, err := store.Finish(ctx, traceID, core.RunOutcome{Status: status, Error: "boom", FinishedAt: time.Now()}); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	payload, _ := task.Marshal()
	letter, _, err := store.RecordDeadLetter(ctx, core.DeadLetter{
		TraceID:     traceID,
		WorkspaceID: "acme",
		PayloadJSON: string(payload),
		Error:       "boom",
		Retryable:   true,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("record dead letter: %v", err)
	}
	return letter
}

func newController(store Store, q core.Enqueuer, cfg core.Config) *Controller {
	ids := 0
	c := NewController(cfg, nil, store, q, core.Observer{})
	c.NewTraceID = func() string {
		ids++
		return "child-" + string(rune('0'+ids))
	}
	return c
}

func expectStatus(t *testing.T, err error, status int) *goerrors.Error {
	t.Helper()
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected rich error with status %d, got %v", status, err)
	}
	if rich.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, rich.Code, rich.Message)
	}
	return rich
}

func TestRetry_IncrementsRetryCountPerParent(t *testing.T) {
	store := memstore.New()
	q := queue.NewMemory(queue.RetryPolicy{})
	letter := seedFailure(t, store, "parent-1", "webhook_echo", core.RunStatusFailed)
	controller := newController(store, q, core.DefaultConfig())
	ctx := context.Background()

	first, err := controller.Retry(ctx, "parent-1")
	if err != nil {
		t.Fatalf("first retry: %v", err)
	}
	second, err := controller.Retry(ctx, "parent-1")
	if err != nil {
		t.Fatalf("second retry: %v", err)
	}
	if first.RetryCount != 1 || second.RetryCount != 2 {
		t.Fatalf("expected retry counts 1 and 2, got %d and %d", first.RetryCount, second.RetryCount)
	}
	if first.NewTraceID == second.NewTraceID || first.NewTraceID == "parent-1" {
		t.Fatalf("expected fresh trace ids, got %q and %q", first.NewTraceID, second.NewTraceID)
	}
	if first.DeadLetterID != letter.ID {
		t.Fatalf("expected source dead letter %d, got %d", letter.ID, first.DeadLetterID)
	}

	pending := q.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected two queued replays, got %d", len(pending))
	}
	if pending[0].TraceID != first.NewTraceID || pending[0].RoutePath != "webhook_echo" || string(pending[0].Payload) != `{"n":1}` {
		t.Fatalf("unexpected replayed task %#v", pending[0])
	}
	if claimed, _ := store.Exists(ctx, first.NewTraceID); !claimed {
		t.Fatalf("expected replay trace to be claimed")
	}
	edges, err := store.ListLineage(ctx, "parent-1")
	if err != nil || len(edges) != 2 {
		t.Fatalf("expected two lineage edges, got %#v (%v)", edges, err)
	}
	if edges[1].ChildTraceID != second.NewTraceID || edges[1].RetryCount != 2 {
		t.Fatalf("unexpected lineage %#v", edges[1])
	}
}

func TestRetry_DoesNotRequireFailedRun(t *testing.T) {
	store := memstore.New()
	seedFailure(t, store, "parent-ok", "webhook_echo", core.RunStatusSucceeded)
	controller := newController(store, queue.NewMemory(queue.RetryPolicy{}), core.DefaultConfig())
	if _, err := controller.Retry(context.Background(), "parent-ok"); err != nil {
		t.Fatalf("retry by trace has no run precondition: %v", err)
	}
}

func TestReplay_RequiresFailedRun(t *testing.T) {
	store := memstore.New()
	q := queue.NewMemory(queue.RetryPolicy{})
	seedFailure(t, store, "succeeded-1", "webhook_echo", core.RunStatusSucceeded)
	controller := newController(store, q, core.DefaultConfig())

	_, err := controller.Replay(context.Background(), "succeeded-1")
	rich := expectStatus(t, err, http.StatusConflict)
	if rich.Message != MessageReplayRequiresFailedRun {
		t.Fatalf("unexpected message %q", rich.Message)
	}
	if q.Len() != 0 {
		t.Fatalf("rejected replay must not enqueue")
	}

	seedFailure(t, store, "failed-1", "webhook_echo", core.RunStatusFailed)
	result, err := controller.Replay(context.Background(), "failed-1")
	if err != nil {
		t.Fatalf("replay failed run: %v", err)
	}
	if result.RetryCount != 1 || q.Len() != 1 {
		t.Fatalf("unexpected replay result %#v", result)
	}
}

func TestReplay_MissingRunAndDeadLetter(t *testing.T) {
	store := memstore.New()
	controller := newController(store, queue.NewMemory(queue.RetryPolicy{}), core.DefaultConfig())

	_, err := controller.Replay(context.Background(), "ghost")
	if rich := expectStatus(t, err, http.StatusNotFound); rich.Message != MessageRunNotFound {
		t.Fatalf("unexpected message %q", rich.Message)
	}
	_, err = controller.Retry(context.Background(), "ghost")
	if rich := expectStatus(t, err, http.StatusNotFound); rich.Message != MessageDeadLetterNotFound {
		t.Fatalf("unexpected message %q", rich.Message)
	}
	_, err = controller.Retry(context.Background(), "  ")
	expectStatus(t, err, http.StatusBadRequest)
}

func TestRetry_InvalidPayloadIsUnprocessable(t *testing.T) {
	store := memstore.New()
	_, _, _ = store.RecordDeadLetter(context.Background(), core.DeadLetter{TraceID: "bad-1", PayloadJSON: "{not json", Error: "x"})
	controller := newController(store, queue.NewMemory(queue.RetryPolicy{}), core.DefaultConfig())
	_, err := controller.Retry(context.Background(), "bad-1")
	expectStatus(t, err, http.StatusUnprocessableEntity)
}

func TestRetry_DisabledOrUnregisteredIsConflict(t *testing.T) {
	store := memstore.New()
	seedFailure(t, store, "gh-1", "github_issue", core.RunStatusFailed)

	cfg := core.DefaultConfig()
	cfg.Enablement.DisabledRoutes = []string{"github_issue"}
	disabled := newController(store, queue.NewMemory(queue.RetryPolicy{}), cfg)
	_, err := disabled.Retry(context.Background(), "gh-1")
	expectStatus(t, err, http.StatusConflict)

	unregistered := newController(store, queue.NewMemory(queue.RetryPolicy{}), core.DefaultConfig())
	unregistered.Handlers = executor.NewDefaultRegistry()
	_, err = unregistered.Retry(context.Background(), "gh-1")
	expectStatus(t, err, http.StatusConflict)
}

func TestRetry_LineageFailureAfterEnqueueIsInternal(t *testing.T) {
	store := &failingLineageStore{Store: memstore.New()}
	q := queue.NewMemory(queue.RetryPolicy{})
	seedFailure(t, store, "p-1", "webhook_echo", core.RunStatusFailed)
	controller := newController(store, q, core.DefaultConfig())

	result, err := controller.Retry(context.Background(), "p-1")
	expectStatus(t, err, http.StatusInternalServerError)
	if q.Len() != 1 || result.NewTraceID == "" {
		t.Fatalf("expected child to stay queued, got len=%d result=%#v", q.Len(), result)
	}
}

type failingLineageStore struct {
	*memstore.Store
}

func (s *failingLineageStore) AppendLineage(context.Context, core.LineageEdge) (core.LineageEdge, error) {
	return core.LineageEdge{}, errors.New("lineage table locked")
}
