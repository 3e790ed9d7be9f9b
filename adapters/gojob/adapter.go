package gojob

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	dispatchqueue "github.com/goliatone/go-dispatch/queue"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDDispatchTask = "dispatch.task"
	ParamTask         = "task"
)

// ToExecutionMessage packs a dispatch task into a go-job message. The trace id
// doubles as the idempotency key so a backend with dedupe drops replays of the
// same admission.
func ToExecutionMessage(task core.Task) (*job.ExecutionMessage, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	raw, err := task.Marshal()
	if err != nil {
		return nil, err
	}
	return &job.ExecutionMessage{
		JobID:          JobIDDispatchTask,
		ScriptPath:     string(task.Kind) + ":" + task.Target(),
		Parameters:     map[string]any{ParamTask: string(raw)},
		IdempotencyKey: strings.TrimSpace(task.TraceID),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}, nil
}

// TaskFromExecutionMessage accepts the task parameter as a JSON string, raw
// bytes or an already decoded map.
func TaskFromExecutionMessage(msg *job.ExecutionMessage) (core.Task, error) {
	if msg == nil {
		return core.Task{}, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDDispatchTask {
		return core.Task{}, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	var raw []byte
	switch value := msg.Parameters[ParamTask].(type) {
	case string:
		raw = []byte(value)
	case []byte:
		raw = value
	case json.RawMessage:
		raw = value
	case map[string]any:
		encoded, err := json.Marshal(value)
		if err != nil {
			return core.Task{}, fmt.Errorf("gojob: encode task parameter: %w", err)
		}
		raw = encoded
	case nil:
		return core.Task{}, fmt.Errorf("gojob: message is missing the %q parameter", ParamTask)
	default:
		return core.Task{}, fmt.Errorf("gojob: unsupported task parameter type %T", value)
	}
	return core.UnmarshalTask(raw)
}

// ToNackOptions maps dispatch nack options onto a go-job disposition. A
// requeue that also asks for dead-lettering dead-letters.
func ToNackOptions(opts core.NackOptions) queue.NackOptions {
	disposition := queue.NackDispositionFailed
	switch {
	case opts.DeadLetter:
		disposition = queue.NackDispositionDeadLetter
	case opts.Requeue:
		disposition = queue.NackDispositionRetry
	}
	return queue.NackOptions{
		Disposition: disposition,
		Delay:       opts.Delay,
		Reason:      opts.Reason,
	}
}

func FromNackOptions(opts queue.NackOptions) core.NackOptions {
	out := core.NackOptions{Delay: opts.Delay, Reason: opts.Reason}
	switch opts.Disposition {
	case queue.NackDispositionRetry:
		out.Requeue = true
	case queue.NackDispositionDeadLetter:
		out.DeadLetter = true
	}
	return out
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, task core.Task) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	msg, err := ToExecutionMessage(task)
	if err != nil {
		return err
	}
	_, err = a.enqueuer.Enqueue(ctx, msg)
	return err
}

type attemptCounter interface {
	Attempt() int
}

type DeliveryAdapter struct {
	delivery queue.Delivery
	policy   dispatchqueue.RetryPolicy
	task     core.Task
}

func NewDeliveryAdapter(delivery queue.Delivery, policy dispatchqueue.RetryPolicy) (*DeliveryAdapter, error) {
	if delivery == nil {
		return nil, fmt.Errorf("gojob: delivery is required")
	}
	task, err := TaskFromExecutionMessage(delivery.Message())
	if err != nil {
		return nil, err
	}
	return &DeliveryAdapter{delivery: delivery, policy: policy, task: task}, nil
}

func (d *DeliveryAdapter) Task() core.Task {
	return d.task
}

// Attempt is 1 unless the backend delivery reports its own attempt count.
func (d *DeliveryAdapter) Attempt() int {
	if counter, ok := d.delivery.(attemptCounter); ok && counter.Attempt() > 0 {
		return counter.Attempt()
	}
	return 1
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	return d.delivery.Ack(ctx)
}

func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.NackOptions) error {
	normalized := d.policy.Normalize(opts, d.Attempt())
	return d.delivery.Nack(ctx, ToNackOptions(normalized))
}

type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   dispatchqueue.RetryPolicy
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy dispatchqueue.RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy}
}

// Dequeue dead-letters messages that do not decode to a task, then keeps
// reading.
func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.Delivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	for {
		delivery, err := a.dequeuer.Dequeue(ctx)
		if err != nil {
			return nil, err
		}
		adapted, err := NewDeliveryAdapter(delivery, a.policy)
		if err == nil {
			return adapted, nil
		}
		if delivery == nil {
			return nil, err
		}
		if nackErr := delivery.Nack(ctx, queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: err.Error()}); nackErr != nil {
			return nil, nackErr
		}
	}
}

// WorkerHookAdapter reports go-job worker lifecycle events through the
// dispatch observer.
type WorkerHookAdapter struct {
	observer core.Observer
}

func NewWorkerHookAdapter(observer core.Observer) *WorkerHookAdapter {
	return &WorkerHookAdapter{observer: observer}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	a.observer.Info(ctx, "gojob task started", eventFields(event))
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	a.observer.Observe(ctx, eventStart(event), "gojob.task", nil, eventFields(event))
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	a.observer.Observe(ctx, eventStart(event), "gojob.task", event.Err, eventFields(event))
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	fields := eventFields(event)
	fields["delay_ms"] = event.Delay.Milliseconds()
	if event.Err != nil {
		fields["error"] = core.ErrorText(event.Err)
	}
	a.observer.Warn(ctx, "gojob task retry scheduled", fields)
}

func eventStart(event worker.Event) time.Time {
	if event.StartedAt.IsZero() {
		return time.Now().Add(-event.Duration)
	}
	return event.StartedAt
}

func eventFields(event worker.Event) map[string]any {
	fields := map[string]any{"attempt": event.Attempt}
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message == nil {
		return fields
	}
	fields["job_id"] = message.JobID
	if task, err := TaskFromExecutionMessage(message); err == nil {
		fields["trace_id"] = task.TraceID
		fields["kind"] = string(task.Kind)
		fields["workspace_id"] = task.WorkspaceID
		if task.RoutePath != "" {
			fields["route_path"] = task.RoutePath
		}
		if task.ScheduleID != "" {
			fields["schedule_id"] = task.ScheduleID
		}
	}
	return fields
}

var (
	_ core.Enqueuer = (*EnqueuerAdapter)(nil)
	_ core.Delivery = (*DeliveryAdapter)(nil)
	_ core.Dequeuer = (*DequeuerAdapter)(nil)
	_ worker.Hook   = (*WorkerHookAdapter)(nil)
)
