package gocommand

import (
	"context"
	"fmt"
	"strings"

	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	"github.com/goliatone/go-dispatch/command"
	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/query"
	"github.com/goliatone/go-dispatch/replay"
	"github.com/goliatone/go-dispatch/scheduler"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := gocmd.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(gocmd.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

// Operations are the dispatch operator handlers exposed on the bus. Nil
// members are skipped.
type Operations struct {
	Retry           gocmd.Commander[command.RetryMessage]
	Replay          gocmd.Commander[command.ReplayMessage]
	TriggerSchedule gocmd.Commander[command.TriggerScheduleMessage]
	GetRun          gocmd.Querier[query.GetRunMessage, core.RunRecord]
	ListDeadLetters gocmd.Querier[query.ListDeadLettersMessage, []core.DeadLetter]
	ListLineage     gocmd.Querier[query.ListLineageMessage, []core.LineageEdge]
}

// Bus registers dispatch operations with a go-command registry and subscribes
// them on the process-wide dispatcher.
type Bus struct {
	registry      *gocmd.Registry
	subscriptions []commanddispatcher.Subscription
}

func NewBus(registry *gocmd.Registry) *Bus {
	if registry == nil {
		registry = gocmd.NewRegistry()
	}
	return &Bus{registry: registry}
}

func (b *Bus) Registry() *gocmd.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

// MirrorToQueue adds a resolver that copies every registered operation into
// a go-job queue command registry, so operators can run them as jobs.
func (b *Bus) MirrorToQueue(key string, queueRegistry *jobqueuecommand.Registry) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return b.registry.AddResolver(strings.TrimSpace(key), jobqueuecommand.QueueResolver(queueRegistry))
}

func (b *Bus) Register(ops Operations, runnerOpts ...runner.Option) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if ops.Retry != nil {
		if err := registerCommand(b, ops.Retry, runnerOpts...); err != nil {
			return err
		}
	}
	if ops.Replay != nil {
		if err := registerCommand(b, ops.Replay, runnerOpts...); err != nil {
			return err
		}
	}
	if ops.TriggerSchedule != nil {
		if err := registerCommand(b, ops.TriggerSchedule, runnerOpts...); err != nil {
			return err
		}
	}
	if ops.GetRun != nil {
		if err := registerQuery(b, ops.GetRun, runnerOpts...); err != nil {
			return err
		}
	}
	if ops.ListDeadLetters != nil {
		if err := registerQuery(b, ops.ListDeadLetters, runnerOpts...); err != nil {
			return err
		}
	}
	if ops.ListLineage != nil {
		if err := registerQuery(b, ops.ListLineage, runnerOpts...); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) Initialize() error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return b.registry.Initialize()
}

// Close drops every dispatcher subscription made by Register.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	for _, subscription := range b.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func registerCommand[T any](b *Bus, cmd gocmd.Commander[T], runnerOpts ...runner.Option) error {
	subscription := commanddispatcher.SubscribeCommand[T](recordingCommand[T]{next: cmd}, runnerOpts...)
	if err := b.registry.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return err
	}
	b.subscriptions = append(b.subscriptions, subscription)
	return nil
}

func registerQuery[T any, R any](b *Bus, qry gocmd.Querier[T, R], runnerOpts ...runner.Option) error {
	subscription := commanddispatcher.SubscribeQuery[T, R](recordingQuery[T, R]{next: qry}, runnerOpts...)
	if err := b.registry.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return err
	}
	b.subscriptions = append(b.subscriptions, subscription)
	return nil
}

func Retry(ctx context.Context, traceID string) (replay.Result, error) {
	return dispatchWithResult[command.RetryMessage, replay.Result](ctx, command.RetryMessage{TraceID: traceID})
}

func Replay(ctx context.Context, traceID string) (replay.Result, error) {
	return dispatchWithResult[command.ReplayMessage, replay.Result](ctx, command.ReplayMessage{TraceID: traceID})
}

func TriggerSchedule(ctx context.Context, msg command.TriggerScheduleMessage) ([]scheduler.Triggered, error) {
	return dispatchWithResult[command.TriggerScheduleMessage, []scheduler.Triggered](ctx, msg)
}

func GetRun(ctx context.Context, traceID string) (core.RunRecord, error) {
	return dispatchedQuery[query.GetRunMessage, core.RunRecord]{}.Query(ctx, query.GetRunMessage{TraceID: traceID})
}

func ListDeadLetters(ctx context.Context, filter core.DeadLetterFilter) ([]core.DeadLetter, error) {
	return dispatchedQuery[query.ListDeadLettersMessage, []core.DeadLetter]{}.Query(ctx, query.ListDeadLettersMessage{Filter: filter})
}

func ListLineage(ctx context.Context, parentTraceID string) ([]core.LineageEdge, error) {
	return dispatchedQuery[query.ListLineageMessage, []core.LineageEdge]{}.Query(ctx, query.ListLineageMessage{ParentTraceID: parentTraceID})
}

func dispatchWithResult[T any, R any](ctx context.Context, msg T) (R, error) {
	collector := gocmd.NewResult[R]()
	err := dispatchedCommand[T]{}.Execute(gocmd.ContextWithResult(ctx, collector), msg)
	out, _ := collector.Load()
	return out, err
}
