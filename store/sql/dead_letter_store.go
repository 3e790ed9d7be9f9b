package sqlstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

const defaultDeadLetterPageSize = 100

type DeadLetterStore struct {
	db   *bun.DB
	repo repository.Repository[*deadLetterRecord]
}

func NewDeadLetterStore(db *bun.DB) (*DeadLetterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deadLetterRecord](db, deadLetterHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid dead letter repository wiring: %w", err)
		}
	}
	return &DeadLetterStore{db: db, repo: repo}, nil
}

// ErrorHash is the digest stored next to the error text. The unique key is
// (trace_id, error_hash) so arbitrarily long messages stay indexable.
func ErrorHash(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}

func (s *DeadLetterStore) RecordDeadLetter(ctx context.Context, entry core.DeadLetter) (core.DeadLetter, bool, error) {
	if s == nil || s.db == nil {
		return core.DeadLetter{}, false, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	entry.TraceID = strings.TrimSpace(entry.TraceID)
	if entry.TraceID == "" {
		return core.DeadLetter{}, false, fmt.Errorf("sqlstore: trace id is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	record := &deadLetterRecord{
		TraceID:     entry.TraceID,
		WorkspaceID: entry.WorkspaceID,
		PayloadJSON: entry.PayloadJSON,
		Error:       entry.Error,
		ErrorHash:   ErrorHash(entry.Error),
		Retryable:   entry.Retryable,
		CreatedAt:   entry.CreatedAt.UTC(),
	}
	res, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (trace_id, error_hash) DO NOTHING").
		Exec(ctx)
	if err != nil && !isUniqueViolation(err) && !errors.Is(err, sql.ErrNoRows) {
		return core.DeadLetter{}, false, err
	}
	created := false
	if err == nil {
		affected, _ := res.RowsAffected()
		created = affected == 1
	}
	stored, err := s.byTraceAndHash(ctx, record.TraceID, record.ErrorHash)
	if err != nil {
		return core.DeadLetter{}, false, err
	}
	return stored, created, nil
}

func (s *DeadLetterStore) byTraceAndHash(ctx context.Context, traceID string, hash string) (core.DeadLetter, error) {
	record := &deadLetterRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.trace_id = ?", traceID).
		Where("?TableAlias.error_hash = ?", hash).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.DeadLetter{}, fmt.Errorf("sqlstore: dead letter %q: %w", traceID, core.ErrDeadLetterNotFound)
		}
		return core.DeadLetter{}, err
	}
	return deadLetterToDomain(record), nil
}

// LatestDeadLetter returns the most recently inserted row for the trace.
func (s *DeadLetterStore) LatestDeadLetter(ctx context.Context, traceID string) (core.DeadLetter, error) {
	if s == nil || s.repo == nil {
		return core.DeadLetter{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	traceID = strings.TrimSpace(traceID)
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("trace_id", "=", traceID),
		repository.OrderBy("id DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.DeadLetter{}, err
	}
	if len(records) == 0 {
		return core.DeadLetter{}, fmt.Errorf("sqlstore: dead letter %q: %w", traceID, core.ErrDeadLetterNotFound)
	}
	return deadLetterToDomain(records[0]), nil
}

func (s *DeadLetterStore) ListDeadLetters(ctx context.Context, filter core.DeadLetterFilter) ([]core.DeadLetter, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultDeadLetterPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	criteria := []repository.SelectCriteria{}
	if traceID := strings.TrimSpace(filter.TraceID); traceID != "" {
		criteria = append(criteria, repository.SelectBy("trace_id", "=", traceID))
	}
	if workspaceID := strings.TrimSpace(filter.WorkspaceID); workspaceID != "" {
		criteria = append(criteria, repository.SelectBy("workspace_id", "=", workspaceID))
	}
	criteria = append(criteria,
		repository.OrderBy("id DESC"),
		repository.SelectPaginate(limit, offset),
	)
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]core.DeadLetter, 0, len(records))
	for _, record := range records {
		out = append(out, deadLetterToDomain(record))
	}
	return out, nil
}

func deadLetterToDomain(record *deadLetterRecord) core.DeadLetter {
	return core.DeadLetter{
		ID:          record.ID,
		TraceID:     record.TraceID,
		WorkspaceID: record.WorkspaceID,
		PayloadJSON: record.PayloadJSON,
		Error:       record.Error,
		Retryable:   record.Retryable,
		CreatedAt:   record.CreatedAt.UTC(),
	}
}
