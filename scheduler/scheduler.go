package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/manifest"
	goerrors "github.com/goliatone/go-errors"
)

// Fire is one cron tick. TimeZone, when set, restricts matching to schedules
// declared in that zone.
type Fire struct {
	Cron        string
	ScheduledAt time.Time
	TimeZone    string
}

type Triggered struct {
	ScheduleID string `json:"scheduleId"`
	TraceID    string `json:"traceId"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

type Store interface {
	core.IdempotencyStore
	core.RunStore
}

type Scheduler struct {
	Config   core.Config
	Resolver manifest.Resolver
	Gate     manifest.Gate
	Store    Store
	Queue    core.Enqueuer
	Observer core.Observer
	Now      func() time.Time
}

func New(cfg core.Config, resolver manifest.Resolver, store Store, queue core.Enqueuer, observer core.Observer) *Scheduler {
	cfg = cfg.Clone()
	if resolver == nil {
		resolver = manifest.DefaultResolver
	}
	return &Scheduler{
		Config:   cfg,
		Resolver: resolver,
		Gate:     manifest.NewGate(cfg.Enablement),
		Store:    store,
		Queue:    queue,
		Observer: observer,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// TraceID is deterministic per schedule and tick so concurrent scheduler
// instances enqueue a tick once.
func TraceID(scheduleID string, scheduledAt time.Time) string {
	return fmt.Sprintf("sched:%s:%d", scheduleID, scheduledAt.Unix())
}

// Trigger enqueues one task per enabled schedule whose cron matches the fire.
// A fire that matches nothing is a no-op.
func (s *Scheduler) Trigger(ctx context.Context, fire Fire) (triggered []Triggered, err error) {
	startedAt := time.Now()
	fire.Cron = manifest.NormalizeCron(fire.Cron)
	defer func() {
		s.Observer.Observe(ctx, startedAt, "scheduler.trigger", err, map[string]any{
			"cron":      fire.Cron,
			"triggered": len(triggered),
		})
	}()
	if s.Store == nil || s.Queue == nil {
		return nil, core.NewError("scheduler: not configured", goerrors.CategoryInternal,
			http.StatusInternalServerError, core.ErrorInternal, nil)
	}
	if fire.Cron == "" {
		return nil, core.NewError("scheduler: cron expression is required", goerrors.CategoryBadInput,
			http.StatusBadRequest, core.ErrorBadInput, nil)
	}
	scheduledAt := fire.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = s.now().Truncate(time.Minute)
	}
	scheduledAt = scheduledAt.UTC()

	resolved, err := s.Resolver.Resolve(ctx, s.Config)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, schedule := range resolved.SchedulesForCron(fire.Cron) {
		if tz := strings.TrimSpace(fire.TimeZone); tz != "" && !strings.EqualFold(tz, schedule.TimeZone) {
			continue
		}
		if !s.Gate.ScheduleEnabled(schedule.ID, resolved).Enabled {
			continue
		}
		result, err := s.enqueue(ctx, schedule, fire.Cron, scheduledAt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		triggered = append(triggered, result)
	}
	return triggered, errors.Join(errs...)
}

func (s *Scheduler) enqueue(ctx context.Context, schedule manifest.Schedule, cron string, scheduledAt time.Time) (Triggered, error) {
	now := s.now()
	payload, err := json.Marshal(map[string]any{
		"scheduleId":  schedule.ID,
		"cron":        cron,
		"scheduledAt": scheduledAt,
		"timeZone":    schedule.TimeZone,
	})
	if err != nil {
		return Triggered{}, err
	}
	task := core.Task{
		Kind:        core.TaskKindScheduledJob,
		TraceID:     TraceID(schedule.ID, scheduledAt),
		WorkspaceID: s.Config.DefaultWorkspace,
		ScheduleID:  schedule.ID,
		Payload:     payload,
		EnqueuedAt:  now,
	}
	task.Normalize(s.Config.DefaultWorkspace)
	result := Triggered{ScheduleID: schedule.ID, TraceID: task.TraceID}

	created, err := s.Store.Claim(ctx, task.TraceID, now)
	if err != nil {
		return result, core.WrapError(err, goerrors.CategoryOperation, "scheduler: claim tick",
			http.StatusInternalServerError, core.ErrorOperationFailed, map[string]any{"trace_id": task.TraceID})
	}
	if !created {
		result.Duplicate = true
		return result, nil
	}
	if err := s.Store.Start(ctx, core.NewStartedRun(task, now)); err != nil {
		return result, core.WrapError(err, goerrors.CategoryOperation, "scheduler: record started run",
			http.StatusInternalServerError, core.ErrorOperationFailed, map[string]any{"trace_id": task.TraceID})
	}
	if err := s.Queue.Enqueue(ctx, task); err != nil {
		return result, core.WrapError(err, goerrors.CategoryOperation, "scheduler: enqueue",
			http.StatusInternalServerError, core.ErrorOperationFailed, map[string]any{"trace_id": task.TraceID})
	}
	return result, nil
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
