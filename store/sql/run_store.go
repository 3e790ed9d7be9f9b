package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type RunStore struct {
	db   *bun.DB
	repo repository.Repository[*runRecord]
}

func NewRunStore(db *bun.DB) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*runRecord](db, runHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid run repository wiring: %w", err)
		}
	}
	return &RunStore{db: db, repo: repo}, nil
}

func (s *RunStore) Start(ctx context.Context, run core.RunRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: run store is not configured")
	}
	run.TraceID = strings.TrimSpace(run.TraceID)
	if run.TraceID == "" {
		return fmt.Errorf("sqlstore: trace id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	now := time.Now().UTC()
	record := &runRecord{
		TraceID:     run.TraceID,
		WorkspaceID: run.WorkspaceID,
		Kind:        string(run.Kind),
		RoutePath:   run.RoutePath,
		ScheduleID:  run.ScheduleID,
		Status:      string(core.RunStatusStarted),
		StartedAt:   run.StartedAt.UTC(),
		UpdatedAt:   now,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (trace_id) DO UPDATE").
		Set("workspace_id = EXCLUDED.workspace_id").
		Set("kind = EXCLUDED.kind").
		Set("route_path = EXCLUDED.route_path").
		Set("schedule_id = EXCLUDED.schedule_id").
		Set("status = EXCLUDED.status").
		Set("started_at = EXCLUDED.started_at").
		Set("finished_at = NULL").
		Set("output = NULL").
		Set("error = ''").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *RunStore) Finish(ctx context.Context, traceID string, outcome core.RunOutcome) (core.RunRecord, error) {
	if s == nil || s.db == nil {
		return core.RunRecord{}, fmt.Errorf("sqlstore: run store is not configured")
	}
	traceID = strings.TrimSpace(traceID)
	if !outcome.Status.Terminal() {
		return core.RunRecord{}, fmt.Errorf("sqlstore: run outcome status %q is not terminal", outcome.Status)
	}
	finishedAt := outcome.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}
	finishedAt = finishedAt.UTC()

	var output *string
	if len(outcome.Output) > 0 {
		value := string(outcome.Output)
		output = &value
	}
	res, err := s.db.NewUpdate().
		Model((*runRecord)(nil)).
		Set("status = ?", string(outcome.Status)).
		Set("finished_at = ?", finishedAt).
		Set("output = ?", output).
		Set("error = ?", outcome.Error).
		Set("updated_at = ?", finishedAt).
		Where("trace_id = ?", traceID).
		Exec(ctx)
	if err != nil {
		return core.RunRecord{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return core.RunRecord{}, fmt.Errorf("sqlstore: finish %q: %w", traceID, core.ErrRunNotFound)
	}
	return s.GetRun(ctx, traceID)
}

func (s *RunStore) GetRun(ctx context.Context, traceID string) (core.RunRecord, error) {
	if s == nil || s.repo == nil {
		return core.RunRecord{}, fmt.Errorf("sqlstore: run store is not configured")
	}
	traceID = strings.TrimSpace(traceID)
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("trace_id", "=", traceID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.RunRecord{}, err
	}
	if len(records) == 0 {
		return core.RunRecord{}, fmt.Errorf("sqlstore: run %q: %w", traceID, core.ErrRunNotFound)
	}
	return runToDomain(records[0]), nil
}

func runToDomain(record *runRecord) core.RunRecord {
	run := core.RunRecord{
		TraceID:     record.TraceID,
		WorkspaceID: record.WorkspaceID,
		Kind:        core.TaskKind(record.Kind),
		RoutePath:   record.RoutePath,
		ScheduleID:  record.ScheduleID,
		Status:      core.RunStatus(record.Status),
		StartedAt:   record.StartedAt.UTC(),
		Error:       record.Error,
	}
	if record.FinishedAt != nil {
		finished := record.FinishedAt.UTC()
		run.FinishedAt = &finished
	}
	if record.Output != nil {
		run.Output = []byte(*record.Output)
	}
	return run
}
