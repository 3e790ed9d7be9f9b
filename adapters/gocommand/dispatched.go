package gocommand

import (
	"context"
	"sync"

	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-dispatch/command"
	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/query"
)

// Dispatched returns operations that send every call through the go-command
// dispatcher, so they reach whatever a Bus registered. Callers get the
// handler's own error back rather than the dispatcher's wrapper, which keeps
// HTTP status and text codes intact.
func Dispatched() Operations {
	return Operations{
		Retry:           dispatchedCommand[command.RetryMessage]{},
		Replay:          dispatchedCommand[command.ReplayMessage]{},
		TriggerSchedule: dispatchedCommand[command.TriggerScheduleMessage]{},
		GetRun:          dispatchedQuery[query.GetRunMessage, core.RunRecord]{},
		ListDeadLetters: dispatchedQuery[query.ListDeadLettersMessage, []core.DeadLetter]{},
		ListLineage:     dispatchedQuery[query.ListLineageMessage, []core.LineageEdge]{},
	}
}

type dispatchedCommand[T any] struct{}

func (dispatchedCommand[T]) Execute(ctx context.Context, msg T) error {
	if err := validate(msg); err != nil {
		return err
	}
	ctx, slot := withHandlerError(ctx)
	return slot.resolve(commanddispatcher.Dispatch(ctx, msg))
}

type dispatchedQuery[T any, R any] struct{}

func (dispatchedQuery[T, R]) Query(ctx context.Context, msg T) (R, error) {
	if err := validate(msg); err != nil {
		var zero R
		return zero, err
	}
	ctx, slot := withHandlerError(ctx)
	out, err := commanddispatcher.Query[T, R](ctx, msg)
	return out, slot.resolve(err)
}

func validate(msg any) error {
	if v, ok := msg.(interface{ Validate() error }); ok {
		return v.Validate()
	}
	return nil
}

type handlerErrorKey struct{}

// handlerError holds the last error a subscribed handler returned for one
// dispatch.
type handlerError struct {
	mu  sync.Mutex
	err error
}

func withHandlerError(ctx context.Context) (context.Context, *handlerError) {
	slot := &handlerError{}
	return context.WithValue(ctx, handlerErrorKey{}, slot), slot
}

func recordHandlerError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	slot, ok := ctx.Value(handlerErrorKey{}).(*handlerError)
	if !ok {
		return
	}
	slot.mu.Lock()
	slot.err = err
	slot.mu.Unlock()
}

func (h *handlerError) resolve(err error) error {
	if err == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	return err
}

// recordingCommand is what Register subscribes: the handler plus a hook that
// reports its error to a Dispatched caller.
type recordingCommand[T any] struct {
	next gocmd.Commander[T]
}

func (c recordingCommand[T]) Execute(ctx context.Context, msg T) error {
	err := c.next.Execute(ctx, msg)
	recordHandlerError(ctx, err)
	return err
}

type recordingQuery[T any, R any] struct {
	next gocmd.Querier[T, R]
}

func (q recordingQuery[T, R]) Query(ctx context.Context, msg T) (R, error) {
	out, err := q.next.Query(ctx, msg)
	recordHandlerError(ctx, err)
	return out, err
}

var (
	_ gocmd.Commander[command.RetryMessage]                       = dispatchedCommand[command.RetryMessage]{}
	_ gocmd.Querier[query.GetRunMessage, core.RunRecord]          = dispatchedQuery[query.GetRunMessage, core.RunRecord]{}
	_ gocmd.Commander[command.ReplayMessage]                      = recordingCommand[command.ReplayMessage]{}
	_ gocmd.Querier[query.ListLineageMessage, []core.LineageEdge] = recordingQuery[query.ListLineageMessage, []core.LineageEdge]{}
)
