package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

func testTask(traceID string) core.Task {
	return core.Task{
		Kind:        core.TaskKindHTTPRoute,
		TraceID:     traceID,
		WorkspaceID: core.DefaultWorkspaceID,
		RoutePath:   "webhook_echo",
		Payload:     json.RawMessage(`{}`),
		EnqueuedAt:  time.Now().UTC(),
	}
}

func TestMemory_AckRemovesMessage(t *testing.T) {
	q := NewMemory(RetryPolicy{MaxAttempts: 3})
	ctx := context.Background()
	if err := q.Enqueue(ctx, testTask("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if delivery.Task().TraceID != "a" || delivery.Attempt() != 1 {
		t.Fatalf("unexpected delivery %#v attempt=%d", delivery.Task(), delivery.Attempt())
	}
	if q.InFlight() != 1 {
		t.Fatalf("expected in-flight message")
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if q.Len() != 0 || q.InFlight() != 0 {
		t.Fatalf("expected empty queue, len=%d inflight=%d", q.Len(), q.InFlight())
	}
	if err := delivery.Ack(ctx); err == nil {
		t.Fatalf("expected double ack to fail")
	}
}

func TestMemory_NackRequeuesUntilMaxAttempts(t *testing.T) {
	q := NewMemory(RetryPolicy{MaxAttempts: 3, DeadLetterOnMax: true})
	ctx := context.Background()
	_ = q.Enqueue(ctx, testTask("b"))

	for attempt := 1; attempt <= 3; attempt++ {
		delivery, ok := q.TryDequeue()
		if !ok {
			t.Fatalf("expected delivery for attempt %d", attempt)
		}
		if delivery.Attempt() != attempt {
			t.Fatalf("expected attempt %d, got %d", attempt, delivery.Attempt())
		}
		if err := delivery.Nack(ctx, core.NackOptions{Requeue: true}); err != nil {
			t.Fatalf("nack: %v", err)
		}
	}
	if _, ok := q.TryDequeue(); ok {
		t.Fatalf("expected message to stop redelivering after max attempts")
	}
	if dead := q.DeadLettered(); len(dead) != 1 || dead[0].TraceID != "b" {
		t.Fatalf("expected exhausted message in dead list, got %#v", dead)
	}
}

func TestMemory_DequeueBlocksUntilEnqueueOrCancel(t *testing.T) {
	q := NewMemory(RetryPolicy{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatalf("expected context error on empty queue")
	}

	done := make(chan core.Delivery, 1)
	go func() {
		delivery, err := q.Dequeue(context.Background())
		if err == nil {
			done <- delivery
		}
	}()
	time.Sleep(5 * time.Millisecond)
	_ = q.Enqueue(context.Background(), testTask("c"))
	select {
	case delivery := <-done:
		if delivery.Task().TraceID != "c" {
			t.Fatalf("unexpected task %#v", delivery.Task())
		}
	case <-time.After(time.Second):
		t.Fatalf("dequeue did not wake up")
	}
}

func TestMemory_DelayedRedelivery(t *testing.T) {
	q := NewMemory(RetryPolicy{MaxAttempts: 2})
	ctx := context.Background()
	_ = q.Enqueue(ctx, testTask("d"))
	delivery, _ := q.TryDequeue()
	_ = delivery.Nack(ctx, core.NackOptions{Requeue: true, Delay: 10 * time.Millisecond})
	if q.Len() != 0 {
		t.Fatalf("expected delayed message to be hidden")
	}
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	redelivered, err := q.Dequeue(waitCtx)
	if err != nil {
		t.Fatalf("expected redelivery: %v", err)
	}
	if redelivered.Attempt() != 2 {
		t.Fatalf("expected second attempt, got %d", redelivered.Attempt())
	}
}

func TestRetryPolicy_Normalize(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 3 * time.Second, DeadLetterOnMax: true}

	got := policy.Normalize(core.NackOptions{Requeue: true}, 1)
	if !got.Requeue || got.Delay != time.Second {
		t.Fatalf("unexpected first retry %#v", got)
	}
	got = policy.Normalize(core.NackOptions{Requeue: true}, 2)
	if got.Delay != 2*time.Second {
		t.Fatalf("expected doubled delay, got %v", got.Delay)
	}
	got = policy.Normalize(core.NackOptions{Requeue: true}, 3)
	if got.Requeue || !got.DeadLetter {
		t.Fatalf("expected exhaustion to dead letter, got %#v", got)
	}
	got = policy.Normalize(core.NackOptions{Requeue: true, DeadLetter: true}, 1)
	if got.Requeue {
		t.Fatalf("dead letter must win over requeue")
	}
	if policy.Backoff(10) != 3*time.Second {
		t.Fatalf("expected backoff capped at max delay, got %v", policy.Backoff(10))
	}
}
