package asynqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-dispatch/core"
	dispatchqueue "github.com/goliatone/go-dispatch/queue"
	"github.com/hibiken/asynq"
)

const (
	TypeDispatchTask = "dispatch:task"
	DefaultQueue     = "dispatch"
)

// TaskEnqueuer is the slice of *asynq.Client the enqueuer needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Options struct {
	Queue       string
	MaxAttempts int
	Timeout     time.Duration
}

func (o Options) queue() string {
	if queue := strings.TrimSpace(o.Queue); queue != "" {
		return queue
	}
	return DefaultQueue
}

func (o Options) maxRetry() int {
	if o.MaxAttempts <= 0 {
		return dispatchqueue.DefaultMaxAttempts - 1
	}
	return o.MaxAttempts - 1
}

func RedisOpt(cfg core.QueueConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     strings.TrimSpace(cfg.RedisAddr),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func NewClient(cfg core.QueueConfig) *asynq.Client {
	return asynq.NewClient(RedisOpt(cfg))
}

type Enqueuer struct {
	client TaskEnqueuer
	opts   Options
}

func NewEnqueuer(client TaskEnqueuer, opts Options) *Enqueuer {
	return &Enqueuer{client: client, opts: opts}
}

// Enqueue uses the trace id as the asynq task id, so a second enqueue of the
// same trace while the first is still retained is a no-op.
func (e *Enqueuer) Enqueue(ctx context.Context, task core.Task) error {
	if e == nil || e.client == nil {
		return fmt.Errorf("asynqueue: client is not configured")
	}
	if err := task.Validate(); err != nil {
		return err
	}
	payload, err := task.Marshal()
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.TaskID(task.TraceID),
		asynq.Queue(e.opts.queue()),
		asynq.MaxRetry(e.opts.maxRetry()),
	}
	if e.opts.Timeout > 0 {
		opts = append(opts, asynq.Timeout(e.opts.Timeout))
	}
	_, err = e.client.EnqueueContext(ctx, asynq.NewTask(TypeDispatchTask, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("asynqueue: enqueue %s: %w", task.TraceID, err)
	}
	return nil
}

// DeliveryHandler processes one delivery and settles it with Ack or Nack.
type DeliveryHandler interface {
	Handle(ctx context.Context, delivery core.Delivery) error
}

// Handler adapts a DeliveryHandler to asynq's push model. An ack completes the
// task, a requeueing nack returns a retry error and anything else skips retry.
type Handler struct {
	handler DeliveryHandler
	policy  dispatchqueue.RetryPolicy
}

func NewHandler(handler DeliveryHandler, policy dispatchqueue.RetryPolicy) *Handler {
	return &Handler{handler: handler, policy: policy}
}

func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if h == nil || h.handler == nil {
		return fmt.Errorf("asynqueue: handler is not configured")
	}
	task, err := core.UnmarshalTask(t.Payload())
	if err != nil {
		return fmt.Errorf("asynqueue: %v: %w", err, asynq.SkipRetry)
	}
	attempt := 1
	if retried, ok := asynq.GetRetryCount(ctx); ok {
		attempt = retried + 1
	}
	delivery := &delivery{task: task, attempt: attempt, policy: h.policy}
	handleErr := h.handler.Handle(ctx, delivery)
	return delivery.result(handleErr)
}

// RetryError carries the delay requested by a nack back to asynq's retry
// scheduler.
type RetryError struct {
	Delay  time.Duration
	Reason string
}

func (e *RetryError) Error() string {
	if e.Reason == "" {
		return "asynqueue: retry requested"
	}
	return "asynqueue: retry requested: " + e.Reason
}

// RetryDelay honors a RetryError delay and falls back to asynq's default
// exponential backoff.
func RetryDelay(n int, err error, task *asynq.Task) time.Duration {
	var retry *RetryError
	if errors.As(err, &retry) && retry.Delay > 0 {
		return retry.Delay
	}
	return asynq.DefaultRetryDelayFunc(n, err, task)
}

type delivery struct {
	task    core.Task
	attempt int
	policy  dispatchqueue.RetryPolicy

	mu      sync.Mutex
	settled bool
	acked   bool
	nack    core.NackOptions
}

func (d *delivery) Task() core.Task {
	return d.task
}

func (d *delivery) Attempt() int {
	return d.attempt
}

func (d *delivery) Ack(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return fmt.Errorf("asynqueue: delivery %s already settled", d.task.TraceID)
	}
	d.settled = true
	d.acked = true
	return nil
}

func (d *delivery) Nack(_ context.Context, opts core.NackOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return fmt.Errorf("asynqueue: delivery %s already settled", d.task.TraceID)
	}
	d.settled = true
	d.nack = d.policy.Normalize(opts, d.attempt)
	return nil
}

func (d *delivery) result(handleErr error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case !d.settled:
		if handleErr != nil {
			return handleErr
		}
		return nil
	case d.acked:
		return nil
	case d.nack.Requeue:
		return &RetryError{Delay: d.nack.Delay, Reason: d.nack.Reason}
	default:
		reason := d.nack.Reason
		if reason == "" {
			reason = "dropped"
		}
		return fmt.Errorf("asynqueue: %s: %w", reason, asynq.SkipRetry)
	}
}

// Server runs the asynq worker for dispatch tasks.
type Server struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	observer core.Observer
}

func NewServer(cfg core.QueueConfig, handler DeliveryHandler, policy dispatchqueue.RetryPolicy, observer core.Observer) *Server {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	s := &Server{mux: asynq.NewServeMux(), observer: observer}
	s.server = asynq.NewServer(RedisOpt(cfg), asynq.Config{
		Concurrency:    concurrency,
		RetryDelayFunc: RetryDelay,
		Queues:         map[string]int{DefaultQueue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			s.observer.Warn(ctx, "asynq task returned error", map[string]any{
				"task_type": task.Type(),
				"error":     err.Error(),
			})
		}),
	})
	s.mux.Handle(TypeDispatchTask, NewHandler(handler, policy))
	return s
}

func (s *Server) Start() error {
	return s.server.Start(s.mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

var (
	_ core.Enqueuer = (*Enqueuer)(nil)
	_ core.Delivery = (*delivery)(nil)
	_ asynq.Handler = (*Handler)(nil)
)
