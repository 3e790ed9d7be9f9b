package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/executor"
	"github.com/goliatone/go-dispatch/queue"
	memstore "github.com/goliatone/go-dispatch/store/memory"
)

type fixture struct {
	consumer *Consumer
	store    *memstore.Store
	queue    *queue.Memory
	registry *executor.Registry
}

func newFixture(maxAttempts int) fixture {
	store := memstore.New()
	registry := executor.NewDefaultRegistry()
	local := executor.NewLocal(registry, nil, core.DefaultConfig())
	return fixture{
		consumer: New(store, local, core.Observer{}),
		store:    store,
		queue:    queue.NewMemory(queue.RetryPolicy{MaxAttempts: maxAttempts, DeadLetterOnMax: true}),
		registry: registry,
	}
}

func routeTask(traceID string, route string) core.Task {
	return core.Task{
		Kind:        core.TaskKindHTTPRoute,
		TraceID:     traceID,
		WorkspaceID: "acme",
		RoutePath:   route,
		Payload:     json.RawMessage(`{"text":"hi"}`),
		EnqueuedAt:  time.Now().UTC(),
	}
}

func (f fixture) deliverNext(t *testing.T) {
	t.Helper()
	delivery, ok := f.queue.TryDequeue()
	if !ok {
		t.Fatalf("expected a pending delivery")
	}
	if err := f.consumer.Handle(context.Background(), delivery); err != nil {
		t.Fatalf("handle: %v", err)
	}
}

func TestConsumer_SuccessRecordsOutputAndAcks(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()
	_ = f.queue.Enqueue(ctx, routeTask("ok-1", "webhook_echo"))
	f.deliverNext(t)

	if f.queue.Len() != 0 || f.queue.InFlight() != 0 {
		t.Fatalf("expected message acked")
	}
	run, err := f.store.GetRun(ctx, "ok-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != core.RunStatusSucceeded || run.FinishedAt == nil {
		t.Fatalf("expected succeeded run, got %#v", run)
	}
	var output map[string]any
	if err := json.Unmarshal(run.Output, &output); err != nil || output["traceId"] != "ok-1" {
		t.Fatalf("expected echo output, got %s", run.Output)
	}
}

func TestConsumer_NonRetryableFailureIsDeadLetteredAndAcked(t *testing.T) {
	f := newFixture(5)
	_ = f.registry.RegisterFunc("flows/openai_summarize", func(context.Context, executor.Request) (any, error) {
		return nil, errors.New("OPENAI_API_KEY is required")
	})
	ctx := context.Background()
	_ = f.queue.Enqueue(ctx, routeTask("openai-1", "openai_summarize"))
	f.deliverNext(t)

	run, _ := f.store.GetRun(ctx, "openai-1")
	if run.Status != core.RunStatusFailed || run.Error != "OPENAI_API_KEY is required" {
		t.Fatalf("expected failed run, got %#v", run)
	}
	letters, err := f.store.ListDeadLetters(ctx, core.DeadLetterFilter{TraceID: "openai-1"})
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(letters))
	}
	if letters[0].Retryable || letters[0].WorkspaceID != "acme" {
		t.Fatalf("unexpected dead letter %#v", letters[0])
	}
	replayed, err := core.UnmarshalTask([]byte(letters[0].PayloadJSON))
	if err != nil || replayed.RoutePath != "openai_summarize" {
		t.Fatalf("expected dead letter payload to hold the task, got %q (%v)", letters[0].PayloadJSON, err)
	}
	if f.queue.Len() != 0 || f.queue.InFlight() != 0 || len(f.queue.DeadLettered()) != 0 {
		t.Fatalf("expected terminal failure to be acked, len=%d inflight=%d", f.queue.Len(), f.queue.InFlight())
	}
}

func TestConsumer_RetryableFailureRedeliversWithSingleDeadLetter(t *testing.T) {
	f := newFixture(3)
	calls := 0
	_ = f.registry.RegisterFunc("flows/slack_notify", func(context.Context, executor.Request) (any, error) {
		calls++
		return nil, errors.New("dial tcp: connection reset by peer")
	})
	ctx := context.Background()
	_ = f.queue.Enqueue(ctx, routeTask("slack-1", "slack_notify"))

	for attempt := 1; attempt <= 3; attempt++ {
		f.deliverNext(t)
	}
	if calls != 3 {
		t.Fatalf("expected three executions, got %d", calls)
	}
	if f.store.DeadLetterCount("slack-1") != 1 {
		t.Fatalf("expected identical failures to share one dead letter, got %d", f.store.DeadLetterCount("slack-1"))
	}
	letter, _ := f.store.LatestDeadLetter(ctx, "slack-1")
	if !letter.Retryable {
		t.Fatalf("expected retryable dead letter")
	}
	if _, ok := f.queue.TryDequeue(); ok {
		t.Fatalf("expected redelivery to stop after max attempts")
	}
	if len(f.queue.DeadLettered()) != 1 {
		t.Fatalf("expected queue to dead-letter the exhausted message")
	}
}

func TestConsumer_DistinctErrorsProduceDistinctDeadLetters(t *testing.T) {
	f := newFixture(5)
	messages := []string{"timeout talking to github", "502 from github"}
	calls := 0
	_ = f.registry.RegisterFunc("flows/github_issue", func(context.Context, executor.Request) (any, error) {
		msg := messages[calls%len(messages)]
		calls++
		return nil, errors.New(msg)
	})
	ctx := context.Background()
	_ = f.queue.Enqueue(ctx, routeTask("gh-1", "github_issue"))
	for i := 0; i < 3; i++ {
		f.deliverNext(t)
	}
	if f.store.DeadLetterCount("gh-1") != 2 {
		t.Fatalf("expected one dead letter per distinct error, got %d", f.store.DeadLetterCount("gh-1"))
	}
}

func TestConsumer_RunProcessesUntilCancelled(t *testing.T) {
	f := newFixture(3)
	ctx, cancel := context.WithCancel(context.Background())
	for _, id := range []string{"r-1", "r-2", "r-3"} {
		_ = f.queue.Enqueue(ctx, routeTask(id, "webhook_echo"))
	}
	done := make(chan error, 1)
	go func() { done <- f.consumer.Run(ctx, f.queue, 2) }()

	deadline := time.After(2 * time.Second)
	for {
		run, err := f.store.GetRun(context.Background(), "r-3")
		if err == nil && run.Status == core.RunStatusSucceeded && f.queue.Len() == 0 && f.queue.InFlight() == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("consumer did not drain the queue")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := map[string]bool{
		"OPENAI_API_KEY is required":      false,
		"Missing required field: channel": false,
		"401 Unauthorized":                false,
		"403 Forbidden":                   false,
		"invalid credentials supplied":    false,
		"oauth error: invalid_grant":      false,
		"connection reset by peer":        true,
		"context deadline exceeded":       true,
		"":                                true,
		"upstream returned 503":           true,
	}
	for text, want := range cases {
		if got := IsRetryable(text); got != want {
			t.Fatalf("IsRetryable(%q) = %v, want %v", text, got, want)
		}
	}
}
