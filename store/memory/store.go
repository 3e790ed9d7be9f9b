package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

// Store is an in-process core.Store with the same uniqueness rules as the
// SQL schema. It backs tests and single-node development setups.
type Store struct {
	mu          sync.Mutex
	markers     map[string]time.Time
	runs        map[string]core.RunRecord
	deadLetters []core.DeadLetter
	nextID      int64
	counters    map[string]int
	lineage     []core.LineageEdge
	now         func() time.Time
}

func New() *Store {
	return &Store{
		markers:  map[string]time.Time{},
		runs:     map[string]core.RunRecord{},
		counters: map[string]int{},
		now:      time.Now,
	}
}

func (s *Store) Claim(_ context.Context, traceID string, at time.Time) (bool, error) {
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return false, fmt.Errorf("memstore: trace id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.markers[traceID]; exists {
		return false, nil
	}
	if at.IsZero() {
		at = s.now()
	}
	s.markers[traceID] = at.UTC()
	return true, nil
}

func (s *Store) Exists(_ context.Context, traceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.markers[strings.TrimSpace(traceID)]
	return exists, nil
}

func (s *Store) Start(_ context.Context, run core.RunRecord) error {
	run.TraceID = strings.TrimSpace(run.TraceID)
	if run.TraceID == "" {
		return fmt.Errorf("memstore: trace id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	run.StartedAt = run.StartedAt.UTC()
	run.Status = core.RunStatusStarted
	run.FinishedAt = nil
	run.Output = nil
	run.Error = ""
	s.runs[run.TraceID] = run
	return nil
}

func (s *Store) Finish(_ context.Context, traceID string, outcome core.RunOutcome) (core.RunRecord, error) {
	if !outcome.Status.Terminal() {
		return core.RunRecord{}, fmt.Errorf("memstore: run outcome status %q is not terminal", outcome.Status)
	}
	traceID = strings.TrimSpace(traceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[traceID]
	if !ok {
		return core.RunRecord{}, fmt.Errorf("memstore: finish %q: %w", traceID, core.ErrRunNotFound)
	}
	finishedAt := outcome.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = s.now()
	}
	finishedAt = finishedAt.UTC()
	run.Status = outcome.Status
	run.FinishedAt = &finishedAt
	run.Output = append([]byte(nil), outcome.Output...)
	run.Error = outcome.Error
	s.runs[traceID] = run
	return cloneRun(run), nil
}

func (s *Store) GetRun(_ context.Context, traceID string) (core.RunRecord, error) {
	traceID = strings.TrimSpace(traceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[traceID]
	if !ok {
		return core.RunRecord{}, fmt.Errorf("memstore: run %q: %w", traceID, core.ErrRunNotFound)
	}
	return cloneRun(run), nil
}

func (s *Store) RecordDeadLetter(_ context.Context, entry core.DeadLetter) (core.DeadLetter, bool, error) {
	entry.TraceID = strings.TrimSpace(entry.TraceID)
	if entry.TraceID == "" {
		return core.DeadLetter{}, false, fmt.Errorf("memstore: trace id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.deadLetters {
		if existing.TraceID == entry.TraceID && existing.Error == entry.Error {
			return existing, false, nil
		}
	}
	s.nextID++
	entry.ID = s.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	s.deadLetters = append(s.deadLetters, entry)
	return entry, true, nil
}

func (s *Store) LatestDeadLetter(_ context.Context, traceID string) (core.DeadLetter, error) {
	traceID = strings.TrimSpace(traceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.deadLetters) - 1; i >= 0; i-- {
		if s.deadLetters[i].TraceID == traceID {
			return s.deadLetters[i], nil
		}
	}
	return core.DeadLetter{}, fmt.Errorf("memstore: dead letter %q: %w", traceID, core.ErrDeadLetterNotFound)
}

func (s *Store) ListDeadLetters(_ context.Context, filter core.DeadLetterFilter) ([]core.DeadLetter, error) {
	traceID := strings.TrimSpace(filter.TraceID)
	workspaceID := strings.TrimSpace(filter.WorkspaceID)
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.DeadLetter{}
	skipped := 0
	for i := len(s.deadLetters) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.deadLetters[i]
		if traceID != "" && entry.TraceID != traceID {
			continue
		}
		if workspaceID != "" && entry.WorkspaceID != workspaceID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) AppendLineage(_ context.Context, edge core.LineageEdge) (core.LineageEdge, error) {
	edge.ParentTraceID = strings.TrimSpace(edge.ParentTraceID)
	edge.ChildTraceID = strings.TrimSpace(edge.ChildTraceID)
	if edge.ParentTraceID == "" || edge.ChildTraceID == "" {
		return core.LineageEdge{}, fmt.Errorf("memstore: parent and child trace ids are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[edge.ParentTraceID]++
	edge.RetryCount = s.counters[edge.ParentTraceID]
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = s.now()
	}
	edge.CreatedAt = edge.CreatedAt.UTC()
	s.lineage = append(s.lineage, edge)
	return edge, nil
}

func (s *Store) ListLineage(_ context.Context, parentTraceID string) ([]core.LineageEdge, error) {
	parentTraceID = strings.TrimSpace(parentTraceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.LineageEdge{}
	for _, edge := range s.lineage {
		if edge.ParentTraceID == parentTraceID {
			out = append(out, edge)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RetryCount < out[j].RetryCount })
	return out, nil
}

// DeadLetterCount reports how many rows exist for traceID.
func (s *Store) DeadLetterCount(traceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, entry := range s.deadLetters {
		if entry.TraceID == traceID {
			count++
		}
	}
	return count
}

func cloneRun(run core.RunRecord) core.RunRecord {
	if run.FinishedAt != nil {
		finished := *run.FinishedAt
		run.FinishedAt = &finished
	}
	run.Output = append([]byte(nil), run.Output...)
	return run
}

var _ core.Store = (*Store)(nil)
