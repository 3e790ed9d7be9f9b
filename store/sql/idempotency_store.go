package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

type IdempotencyStore struct {
	db *bun.DB
}

func NewIdempotencyStore(db *bun.DB) (*IdempotencyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &IdempotencyStore{db: db}, nil
}

// Claim inserts the marker unless it exists. The primary key on trace_id
// makes concurrent claims for the same trace resolve to a single winner.
func (s *IdempotencyStore) Claim(ctx context.Context, traceID string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return false, fmt.Errorf("sqlstore: trace id is required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	record := &idempotencyMarkerRecord{TraceID: traceID, CreatedAt: at.UTC()}
	res, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (trace_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *IdempotencyStore) Exists(ctx context.Context, traceID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return false, nil
	}
	return s.db.NewSelect().
		Model((*idempotencyMarkerRecord)(nil)).
		Where("?TableAlias.trace_id = ?", traceID).
		Exists(ctx)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint failed") ||
		strings.Contains(lower, "duplicate key value violates unique constraint")
}
