package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

type Store interface {
	core.RunStore
	core.DeadLetterStore
}

// Consumer executes delivered tasks and settles each delivery. Success acks;
// failure records a failed run plus a dead letter, then acks non-retryable
// errors and requeues the rest.
type Consumer struct {
	Store       Store
	Executor    core.Executor
	Observer    core.Observer
	IsRetryable func(errText string) bool
	Now         func() time.Time
	IdleBackoff time.Duration
}

func New(store Store, executor core.Executor, observer core.Observer) *Consumer {
	return &Consumer{
		Store:       store,
		Executor:    executor,
		Observer:    observer,
		IsRetryable: IsRetryable,
		Now:         func() time.Time { return time.Now().UTC() },
		IdleBackoff: 500 * time.Millisecond,
	}
}

// Handle processes one delivery. The returned error reports a failure to
// record or settle, not the task's own failure.
func (c *Consumer) Handle(ctx context.Context, delivery core.Delivery) (err error) {
	if c == nil || c.Store == nil || c.Executor == nil {
		return fmt.Errorf("consumer: not configured")
	}
	if delivery == nil {
		return fmt.Errorf("consumer: delivery is required")
	}
	startedAt := time.Now()
	task := delivery.Task()
	fields := map[string]any{
		"trace_id":     task.TraceID,
		"kind":         string(task.Kind),
		"workspace_id": task.WorkspaceID,
		"attempt":      delivery.Attempt(),
	}
	if task.RoutePath != "" {
		fields["route_path"] = task.RoutePath
	}
	if task.ScheduleID != "" {
		fields["schedule_id"] = task.ScheduleID
	}
	var execErr error
	defer func() {
		reported := err
		if reported == nil {
			reported = execErr
		}
		c.Observer.Observe(ctx, startedAt, "consumer.handle", reported, fields)
	}()

	if err := c.Store.Start(ctx, core.NewStartedRun(task, c.now())); err != nil {
		fields["outcome"] = "requeued"
		return errors.Join(
			fmt.Errorf("consumer: record started run: %w", err),
			delivery.Nack(ctx, core.NackOptions{Requeue: true, Reason: "record started run"}),
		)
	}

	var result core.ExecutionResult
	result, execErr = c.Executor.Execute(ctx, task)
	if execErr == nil {
		if _, err := c.Store.Finish(ctx, task.TraceID, core.RunOutcome{
			Status:     core.RunStatusSucceeded,
			Output:     outputOf(result),
			FinishedAt: c.now(),
		}); err != nil {
			fields["outcome"] = "requeued"
			return errors.Join(
				fmt.Errorf("consumer: record succeeded run: %w", err),
				delivery.Nack(ctx, core.NackOptions{Requeue: true, Reason: "record succeeded run"}),
			)
		}
		fields["outcome"] = "succeeded"
		return delivery.Ack(ctx)
	}

	errText := core.ErrorText(execErr)
	retryable := c.classify(errText)
	fields["retryable"] = retryable
	fields["error"] = errText

	if _, err := c.Store.Finish(ctx, task.TraceID, core.RunOutcome{
		Status:     core.RunStatusFailed,
		Error:      errText,
		FinishedAt: c.now(),
	}); err != nil {
		c.Observer.Warn(ctx, "consumer: record failed run", map[string]any{"trace_id": task.TraceID, "error": core.ErrorText(err)})
	}

	payload, err := task.Marshal()
	if err != nil {
		return errors.Join(err, delivery.Nack(ctx, core.NackOptions{DeadLetter: true, Reason: errText}))
	}
	if _, _, err := c.Store.RecordDeadLetter(ctx, core.DeadLetter{
		TraceID:     task.TraceID,
		WorkspaceID: task.WorkspaceID,
		PayloadJSON: string(payload),
		Error:       errText,
		Retryable:   retryable,
		CreatedAt:   c.now(),
	}); err != nil {
		fields["outcome"] = "requeued"
		return errors.Join(
			fmt.Errorf("consumer: record dead letter: %w", err),
			delivery.Nack(ctx, core.NackOptions{Requeue: true, Reason: "record dead letter"}),
		)
	}

	if !retryable {
		fields["outcome"] = "failed_terminal"
		return delivery.Ack(ctx)
	}
	fields["outcome"] = "failed_retry"
	return delivery.Nack(ctx, core.NackOptions{Requeue: true, Reason: errText})
}

// Run pulls deliveries with the given number of workers until ctx is done.
func (c *Consumer) Run(ctx context.Context, dequeuer core.Dequeuer, workers int) error {
	if dequeuer == nil {
		return fmt.Errorf("consumer: dequeuer is required")
	}
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.loop(ctx, dequeuer)
		}()
	}
	wg.Wait()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (c *Consumer) loop(ctx context.Context, dequeuer core.Dequeuer) {
	for {
		if ctx.Err() != nil {
			return
		}
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.Observer.Warn(ctx, "consumer: dequeue failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.idleBackoff()):
			}
			continue
		}
		if err := c.Handle(ctx, delivery); err != nil {
			c.Observer.Error(ctx, "consumer: settle delivery failed", map[string]any{
				"trace_id": delivery.Task().TraceID,
				"error":    err.Error(),
			})
		}
	}
}

func (c *Consumer) classify(errText string) bool {
	if c.IsRetryable != nil {
		return c.IsRetryable(errText)
	}
	return IsRetryable(errText)
}

func (c *Consumer) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Consumer) idleBackoff() time.Duration {
	if c.IdleBackoff > 0 {
		return c.IdleBackoff
	}
	return 500 * time.Millisecond
}

func outputOf(result core.ExecutionResult) json.RawMessage {
	if result.Passthrough != nil {
		if raw, err := json.Marshal(result.Passthrough); err == nil {
			return raw
		}
	}
	return result.Output
}
