package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/petal-labs/workgraph/runtime"
)

type failingStore struct{ MemEventStore }

func (*failingStore) Append(context.Context, runtime.Event) error {
	return errors.New("disk full")
}

func TestStoreSubscriber_Handle(t *testing.T) {
	store := NewMemEventStore()
	sub := NewStoreSubscriber(store, nil)
	sub.Handle(makeEvent("r", 1, runtime.EventRunStarted))

	events, _ := store.List(context.Background(), "r", 0, 0)
	if len(events) != 1 {
		t.Fatalf("stored %d events, want 1", len(events))
	}
}

func TestStoreSubscriber_CountsFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sub := NewStoreSubscriber(&failingStore{}, logger)
	sub.Handle(makeEvent("r", 1, runtime.EventRunStarted))
	sub.Handle(makeEvent("r", 2, runtime.EventRunFinished))
	if sub.Failed() != 2 {
		t.Errorf("Failed() = %d, want 2", sub.Failed())
	}
}
