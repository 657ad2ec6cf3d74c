package bus

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/petal-labs/workgraph/runtime"
)

// StoreSubscriber writes events to an EventStore. Its Handle method is a
// runtime.EventHandler, so it can sit directly on a scheduler run or behind
// a bus subscription via Drain.
type StoreSubscriber struct {
	store  EventStore
	logger *slog.Logger
	failed atomic.Uint64
}

// NewStoreSubscriber creates a new StoreSubscriber.
func NewStoreSubscriber(store EventStore, logger *slog.Logger) *StoreSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSubscriber{store: store, logger: logger}
}

// Handle persists a single event. Failures are logged and counted, never
// returned, so a broken store cannot stall a run.
func (s *StoreSubscriber) Handle(event runtime.Event) {
	if err := s.store.Append(context.Background(), event); err != nil {
		s.failed.Add(1)
		s.logger.Error("failed to persist event",
			"run_id", event.RunID,
			"kind", event.Kind,
			"seq", event.Seq,
			"error", err,
		)
	}
}

// Failed returns the number of events that could not be stored.
func (s *StoreSubscriber) Failed() uint64 {
	return s.failed.Load()
}
