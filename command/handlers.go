package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dispatch/replay"
	"github.com/goliatone/go-dispatch/scheduler"
)

type ReplayService interface {
	Retry(ctx context.Context, traceID string) (replay.Result, error)
	Replay(ctx context.Context, traceID string) (replay.Result, error)
}

type ScheduleTrigger interface {
	Trigger(ctx context.Context, fire scheduler.Fire) ([]scheduler.Triggered, error)
}

type RetryCommand struct {
	service ReplayService
}

func NewRetryCommand(service ReplayService) *RetryCommand {
	return &RetryCommand{service: service}
}

func (c *RetryCommand) Execute(ctx context.Context, msg RetryMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: replay service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.Retry(ctx, msg.TraceID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReplayCommand struct {
	service ReplayService
}

func NewReplayCommand(service ReplayService) *ReplayCommand {
	return &ReplayCommand{service: service}
}

func (c *ReplayCommand) Execute(ctx context.Context, msg ReplayMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: replay service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.Replay(ctx, msg.TraceID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type TriggerScheduleCommand struct {
	trigger ScheduleTrigger
}

func NewTriggerScheduleCommand(trigger ScheduleTrigger) *TriggerScheduleCommand {
	return &TriggerScheduleCommand{trigger: trigger}
}

func (c *TriggerScheduleCommand) Execute(ctx context.Context, msg TriggerScheduleMessage) error {
	if c == nil || c.trigger == nil {
		return commandDependencyError("command: schedule trigger is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.trigger.Trigger(ctx, scheduler.Fire{
		Cron:        msg.Cron,
		ScheduledAt: msg.ScheduledAt,
		TimeZone:    msg.TimeZone,
	})
	storeResult(ctx, out)
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
