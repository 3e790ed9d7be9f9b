package command

import (
	"strings"
	"time"
)

const (
	TypeRetry           = "dispatch.command.retry"
	TypeReplay          = "dispatch.command.replay"
	TypeTriggerSchedule = "dispatch.command.schedule.trigger"
)

// RetryMessage re-admits the latest dead letter of TraceID under a new trace.
type RetryMessage struct {
	TraceID string
}

func (RetryMessage) Type() string { return TypeRetry }

func (m RetryMessage) Validate() error {
	return requireTraceID(m.TraceID)
}

// ReplayMessage behaves like RetryMessage but requires the run to have failed.
type ReplayMessage struct {
	TraceID string
}

func (ReplayMessage) Type() string { return TypeReplay }

func (m ReplayMessage) Validate() error {
	return requireTraceID(m.TraceID)
}

type TriggerScheduleMessage struct {
	Cron        string
	ScheduledAt time.Time
	TimeZone    string
}

func (TriggerScheduleMessage) Type() string { return TypeTriggerSchedule }

func (m TriggerScheduleMessage) Validate() error {
	if strings.TrimSpace(m.Cron) == "" {
		return commandValidationError("cron", "cron expression is required")
	}
	return nil
}

func requireTraceID(traceID string) error {
	if strings.TrimSpace(traceID) == "" {
		return commandValidationError("trace_id", "trace id is required")
	}
	return nil
}
