package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

func TestStore_ClaimOnce(t *testing.T) {
	store := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := store.Claim(ctx, "trace", time.Now())
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if created {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected one winner, got %d", winners)
	}
}

func TestStore_DeadLettersDedupeOnTraceAndError(t *testing.T) {
	store := New()
	ctx := context.Background()
	entry := core.DeadLetter{TraceID: "t", PayloadJSON: "{}", Error: "boom"}

	first, created, err := store.RecordDeadLetter(ctx, entry)
	if err != nil || !created {
		t.Fatalf("expected created, got %v %v", created, err)
	}
	again, created, _ := store.RecordDeadLetter(ctx, entry)
	if created || again.ID != first.ID {
		t.Fatalf("expected duplicate suppressed, got %#v", again)
	}
	entry.Error = "other"
	if _, created, _ := store.RecordDeadLetter(ctx, entry); !created {
		t.Fatalf("expected distinct error to insert")
	}
	if store.DeadLetterCount("t") != 2 {
		t.Fatalf("expected two rows, got %d", store.DeadLetterCount("t"))
	}
	latest, _ := store.LatestDeadLetter(ctx, "t")
	if latest.Error != "other" {
		t.Fatalf("expected newest row, got %#v", latest)
	}
}

func TestStore_RunLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, core.ErrRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_ = store.Start(ctx, core.RunRecord{TraceID: "r"})
	run, err := store.Finish(ctx, "r", core.RunOutcome{Status: core.RunStatusFailed, Error: "x"})
	if err != nil || run.Status != core.RunStatusFailed || run.FinishedAt == nil {
		t.Fatalf("unexpected run %#v err=%v", run, err)
	}
	_ = store.Start(ctx, core.RunRecord{TraceID: "r"})
	run, _ = store.GetRun(ctx, "r")
	if run.Status != core.RunStatusStarted || run.Error != "" {
		t.Fatalf("expected restart to reset outcome, got %#v", run)
	}
}

func TestStore_LineageCounter(t *testing.T) {
	store := New()
	ctx := context.Background()
	for i, child := range []string{"a", "b", "c"} {
		edge, err := store.AppendLineage(ctx, core.LineageEdge{ParentTraceID: "p", ChildTraceID: child})
		if err != nil || edge.RetryCount != i+1 {
			t.Fatalf("expected retry count %d, got %#v err=%v", i+1, edge, err)
		}
	}
	edges, _ := store.ListLineage(ctx, "p")
	if len(edges) != 3 || edges[2].ChildTraceID != "c" {
		t.Fatalf("unexpected lineage %#v", edges)
	}
}
