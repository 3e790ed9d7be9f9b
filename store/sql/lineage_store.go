package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type LineageStore struct {
	db   *bun.DB
	repo repository.Repository[*lineageRecord]
}

func NewLineageStore(db *bun.DB) (*LineageStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*lineageRecord](db, lineageHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid lineage repository wiring: %w", err)
		}
	}
	return &LineageStore{db: db, repo: repo}, nil
}

// AppendLineage bumps the per-parent counter and writes the edge in one
// transaction. The counter upsert serializes concurrent replays of the same
// parent, so each child gets a distinct retry count.
func (s *LineageStore) AppendLineage(ctx context.Context, edge core.LineageEdge) (core.LineageEdge, error) {
	if s == nil || s.db == nil {
		return core.LineageEdge{}, fmt.Errorf("sqlstore: lineage store is not configured")
	}
	edge.ParentTraceID = strings.TrimSpace(edge.ParentTraceID)
	edge.ChildTraceID = strings.TrimSpace(edge.ChildTraceID)
	if edge.ParentTraceID == "" || edge.ChildTraceID == "" {
		return core.LineageEdge{}, fmt.Errorf("sqlstore: parent and child trace ids are required")
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now()
	}
	edge.CreatedAt = edge.CreatedAt.UTC()

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var retryCount int
		if err := tx.NewRaw(`
INSERT INTO dispatch_replay_counters (parent_trace_id, last_retry_count, updated_at)
VALUES (?, 1, ?)
ON CONFLICT (parent_trace_id) DO UPDATE
SET last_retry_count = dispatch_replay_counters.last_retry_count + 1,
    updated_at = EXCLUDED.updated_at
RETURNING last_retry_count
`, edge.ParentTraceID, edge.CreatedAt).Scan(ctx, &retryCount); err != nil {
			return err
		}
		edge.RetryCount = retryCount

		record := &lineageRecord{
			ID:                 uuid.NewString(),
			ParentTraceID:      edge.ParentTraceID,
			ChildTraceID:       edge.ChildTraceID,
			SourceDeadLetterID: edge.SourceDeadLetterID,
			RetryCount:         retryCount,
			CreatedAt:          edge.CreatedAt,
		}
		_, err := tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
	if err != nil {
		return core.LineageEdge{}, err
	}
	return edge, nil
}

func (s *LineageStore) ListLineage(ctx context.Context, parentTraceID string) ([]core.LineageEdge, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: lineage store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("parent_trace_id", "=", strings.TrimSpace(parentTraceID)),
		repository.OrderBy("retry_count ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.LineageEdge, 0, len(records))
	for _, record := range records {
		out = append(out, core.LineageEdge{
			ParentTraceID:      record.ParentTraceID,
			ChildTraceID:       record.ChildTraceID,
			SourceDeadLetterID: record.SourceDeadLetterID,
			RetryCount:         record.RetryCount,
			CreatedAt:          record.CreatedAt.UTC(),
		})
	}
	return out, nil
}
