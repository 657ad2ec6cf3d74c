package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/workgraph/core"
	"github.com/petal-labs/workgraph/runtime"
)

// testDSN returns a unique shared-memory DSN for test isolation.
func testDSN(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
}

func newTestStore(t *testing.T, cfg SQLiteStoreConfig) *SQLiteEventStore {
	t.Helper()
	if cfg.DSN == "" {
		cfg.DSN = testDSN(t)
	}
	store, err := NewSQLiteEventStore(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteEventStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteEventStore_RoundTrip(t *testing.T) {
	store := newTestStore(t, SQLiteStoreConfig{})
	ctx := context.Background()

	in := makeEvent("run-1", 1, runtime.EventNodeSuspended)
	in.NodeID = "migrate"
	in.NodeKind = core.NodeKindExec
	in.Attempt = 3
	in.Elapsed = 42 * time.Millisecond
	in.TraceID = "trace-abc"
	in.SpanID = "span-def"
	in.Payload = map[string]any{"reason": "lock", "coalesced": float64(4)}
	if err := store.Append(ctx, in); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := store.List(ctx, "run-1", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if !got.Time.Equal(in.Time) {
		t.Errorf("Time = %v, want %v", got.Time, in.Time)
	}
	got.Time, in.Time = time.Time{}, time.Time{}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteEventStore_ListPaging(t *testing.T) {
	store := newTestStore(t, SQLiteStoreConfig{})
	ctx := context.Background()
	for i := uint64(1); i <= 5; i++ {
		_ = store.Append(ctx, makeEvent("run-1", i, runtime.EventNodeStarted))
	}
	_ = store.Append(ctx, makeEvent("run-2", 1, runtime.EventRunStarted))

	page, err := store.List(ctx, "run-1", 2, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([]uint64{3, 4}, seqs(page)); diff != "" {
		t.Errorf("page mismatch (-want +got):\n%s", diff)
	}
	if latest, _ := store.LatestSeq(ctx, "run-1"); latest != 5 {
		t.Errorf("LatestSeq = %d, want 5", latest)
	}
	if latest, _ := store.LatestSeq(ctx, "nope"); latest != 0 {
		t.Errorf("LatestSeq(nope) = %d, want 0", latest)
	}
	ids, _ := store.RunIDs(ctx)
	if diff := cmp.Diff([]string{"run-1", "run-2"}, ids); diff != "" {
		t.Errorf("RunIDs mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteEventStore_Summaries(t *testing.T) {
	store := newTestStore(t, SQLiteStoreConfig{})
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	add := func(runID string, seq uint64, kind runtime.EventKind, at time.Time, status string) {
		e := makeEvent(runID, seq, kind)
		e.Time = at
		if status != "" {
			e = e.WithPayload("status", status)
		}
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	add("build", 1, runtime.EventRunStarted, base, "")
	add("build", 2, runtime.EventRunFinished, base.Add(time.Second), "failed")
	add("live", 1, runtime.EventRunStarted, base.Add(time.Minute), "")

	sums, err := store.Summaries(ctx)
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("got %d summaries, want 2", len(sums))
	}
	if sums[0].RunID != "build" || sums[0].Events != 2 || sums[0].Status != "failed" {
		t.Errorf("first summary = %+v", sums[0])
	}
	if !sums[0].Finished.Equal(base.Add(time.Second)) {
		t.Errorf("Finished = %v", sums[0].Finished)
	}
	if sums[1].RunID != "live" || sums[1].Status != "" {
		t.Errorf("second summary = %+v", sums[1])
	}
}

func TestSQLiteEventStore_Prune(t *testing.T) {
	t.Run("by count", func(t *testing.T) {
		store := newTestStore(t, SQLiteStoreConfig{RetentionCount: 2, PruneInterval: time.Hour})
		ctx := context.Background()
		for i := uint64(1); i <= 4; i++ {
			_ = store.Append(ctx, makeEvent("r", i, runtime.EventNodeStarted))
		}
		if err := store.Prune(ctx); err != nil {
			t.Fatalf("Prune: %v", err)
		}
		events, _ := store.List(ctx, "r", 0, 0)
		if diff := cmp.Diff([]uint64{3, 4}, seqs(events)); diff != "" {
			t.Errorf("kept mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("by age", func(t *testing.T) {
		store := newTestStore(t, SQLiteStoreConfig{RetentionAge: time.Hour, PruneInterval: time.Hour})
		ctx := context.Background()
		old := makeEvent("r", 1, runtime.EventRunStarted)
		old.Time = time.Now().Add(-2 * time.Hour)
		recent := makeEvent("r", 2, runtime.EventRunFinished)
		_ = store.Append(ctx, old)
		_ = store.Append(ctx, recent)

		if err := store.Prune(ctx); err != nil {
			t.Fatalf("Prune: %v", err)
		}
		events, _ := store.List(ctx, "r", 0, 0)
		if diff := cmp.Diff([]uint64{2}, seqs(events)); diff != "" {
			t.Errorf("kept mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestSQLiteEventStore_ConcurrentAppend(t *testing.T) {
	store := newTestStore(t, SQLiteStoreConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				seq := uint64(w*25 + i + 1)
				if err := store.Append(ctx, makeEvent("r", seq, runtime.EventNodeStarted)); err != nil {
					t.Errorf("Append(%d): %v", seq, err)
				}
			}
		}(w)
	}
	wg.Wait()

	if latest, _ := store.LatestSeq(ctx, "r"); latest != 100 {
		t.Errorf("LatestSeq = %d, want 100", latest)
	}
}

func TestSQLiteEventStore_CloseIdempotent(t *testing.T) {
	store, err := NewSQLiteEventStore(SQLiteStoreConfig{DSN: testDSN(t), RetentionCount: 1, PruneInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewSQLiteEventStore: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
