package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

type envelope struct {
	id      int64
	task    core.Task
	attempt int
}

// Memory is an in-process at-least-once queue. Messages stay in flight until
// acked; a requeueing nack puts them back with the attempt incremented.
type Memory struct {
	policy RetryPolicy

	mu       sync.Mutex
	cond     chan struct{}
	pending  []envelope
	inFlight map[int64]envelope
	dead     []core.Task
	nextID   int64
	closed   bool
	timers   map[*time.Timer]struct{}
}

func NewMemory(policy RetryPolicy) *Memory {
	return &Memory{
		policy:   policy,
		cond:     make(chan struct{}),
		inFlight: map[int64]envelope{},
		timers:   map[*time.Timer]struct{}{},
	}
}

func (q *Memory) Enqueue(ctx context.Context, task core.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := task.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue: closed")
	}
	q.nextID++
	q.pushLocked(envelope{id: q.nextID, task: task, attempt: 1})
	return nil
}

func (q *Memory) Dequeue(ctx context.Context) (core.Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			next := q.pending[0]
			q.pending = q.pending[1:]
			q.inFlight[next.id] = next
			q.mu.Unlock()
			return &memoryDelivery{queue: q, env: next}, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, fmt.Errorf("queue: closed")
		}
		wait := q.cond
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// TryDequeue returns false when nothing is pending.
func (q *Memory) TryDequeue() (core.Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	q.inFlight[next.id] = next
	return &memoryDelivery{queue: q, env: next}, true
}

func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Memory) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Pending returns a copy of the queued tasks in delivery order.
func (q *Memory) Pending() []core.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]core.Task, 0, len(q.pending))
	for _, env := range q.pending {
		out = append(out, env.task)
	}
	return out
}

// DeadLettered returns tasks dropped after exhausting their attempts.
func (q *Memory) DeadLettered() []core.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]core.Task(nil), q.dead...)
}

func (q *Memory) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.broadcastLocked()
}

func (q *Memory) pushLocked(env envelope) {
	q.pending = append(q.pending, env)
	q.broadcastLocked()
}

func (q *Memory) broadcastLocked() {
	close(q.cond)
	q.cond = make(chan struct{})
}

func (q *Memory) ack(env envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inFlight[env.id]; !ok {
		return fmt.Errorf("queue: delivery %d already settled", env.id)
	}
	delete(q.inFlight, env.id)
	return nil
}

func (q *Memory) nack(env envelope, opts core.NackOptions) error {
	opts = q.policy.Normalize(opts, env.attempt)

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inFlight[env.id]; !ok {
		return fmt.Errorf("queue: delivery %d already settled", env.id)
	}
	delete(q.inFlight, env.id)

	switch {
	case opts.Requeue:
		next := envelope{id: env.id, task: env.task, attempt: env.attempt + 1}
		if opts.Delay <= 0 || q.closed {
			if !q.closed {
				q.pushLocked(next)
			}
			return nil
		}
		var timer *time.Timer
		timer = time.AfterFunc(opts.Delay, func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			delete(q.timers, timer)
			if !q.closed {
				q.pushLocked(next)
			}
		})
		q.timers[timer] = struct{}{}
	case opts.DeadLetter:
		q.dead = append(q.dead, env.task)
	}
	return nil
}

type memoryDelivery struct {
	queue *Memory
	env   envelope
}

func (d *memoryDelivery) Task() core.Task {
	return d.env.task
}

func (d *memoryDelivery) Attempt() int {
	return d.env.attempt
}

func (d *memoryDelivery) Ack(context.Context) error {
	return d.queue.ack(d.env)
}

func (d *memoryDelivery) Nack(_ context.Context, opts core.NackOptions) error {
	return d.queue.nack(d.env, opts)
}

var (
	_ core.Enqueuer = (*Memory)(nil)
	_ core.Dequeuer = (*Memory)(nil)
	_ core.Delivery = (*memoryDelivery)(nil)
)
