// Package bus distributes scheduler events to subscribers and persists them
// for later inspection. The scheduler publishes through the
// runtime.EventPublisher interface, so it never imports this package.
package bus

import (
	"context"

	"github.com/petal-labs/workgraph/runtime"
)

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event runtime.Event)

	// Subscribe registers a subscriber for a specific run.
	// Returns a Subscription that must be closed when done.
	Subscribe(runID string) Subscription

	// SubscribeAll registers a subscriber that receives events from all runs.
	// Returns a Subscription that must be closed when done.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan runtime.Event

	// Close unsubscribes and releases resources.
	Close() error
}

// Drain feeds every event of sub to handle until the subscription is closed
// or ctx is done. It is meant to run in its own goroutine.
func Drain(ctx context.Context, sub Subscription, handle runtime.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			handle(e)
		}
	}
}
