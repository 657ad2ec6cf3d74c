// Package runtime schedules and executes workgraph graphs.
package runtime

import (
	"time"

	"github.com/petal-labs/workgraph/core"
)

// EventKind identifies the type of event emitted by the scheduler.
type EventKind string

const (
	// EventRunStarted is emitted when Execute begins.
	EventRunStarted EventKind = "run.started"

	// EventCycleBroken is emitted for every edge removed to break a cycle.
	EventCycleBroken EventKind = "cycle.broken"

	// EventNodeDeferred is emitted when a ready node conflicts with a running
	// node and gets a must_not_run_with edge instead of a worker.
	EventNodeDeferred EventKind = "node.deferred"

	// EventNodeStarted is emitted by a worker right before it executes a node.
	EventNodeStarted EventKind = "node.started"

	// EventNodeOutput is emitted by executors that stream output.
	EventNodeOutput EventKind = "node.output"

	// EventNodeSuspended is emitted when a worker could not take its lease or
	// the node's resource lock. The payload carries the reason.
	EventNodeSuspended EventKind = "node.suspended"

	// EventNodeFinished is emitted when a node executed successfully.
	EventNodeFinished EventKind = "node.finished"

	// EventNodeFailed is emitted when a node's executor returned an error.
	EventNodeFailed EventKind = "node.failed"

	// EventNodeSkipped is emitted when a non-executable node leaves the graph.
	EventNodeSkipped EventKind = "node.skipped"

	// EventNodeStateChanged is emitted on every node state transition.
	EventNodeStateChanged EventKind = "node.state_changed"

	// EventRunCanceled is emitted once when the run context is cancelled.
	EventRunCanceled EventKind = "run.canceled"

	// EventRunFinished is emitted when Execute returns.
	EventRunFinished EventKind = "run.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Suspension reasons carried in the "reason" payload of node.suspended.
const (
	SuspendedOnLease  = "lease"
	SuspendedOnLock   = "lock"
	SuspendedOnCancel = "canceled"
)

// Event is a structured record of what happened during a run.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID is the unique identifier for this run.
	RunID string

	// NodeID is the node the event is about (empty for run-level events).
	NodeID string

	// NodeKind is the kind of node (empty for run-level events).
	NodeKind core.NodeKind

	// Time is when the event occurred.
	Time time.Time

	// Attempt counts how many times the node was handed to a worker,
	// starting at 1. Suspensions increase it.
	Attempt int

	// Elapsed is the node execution time, or the run time for run.finished.
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Attempt: 1,
		Payload: make(map[string]any),
	}
}

// WithNode sets the node information on the event.
func (e Event) WithNode(nodeID string, nodeKind core.NodeKind) Event {
	e.NodeID = nodeID
	e.NodeKind = nodeKind
	return e
}

// WithAttempt sets the attempt number on the event.
func (e Event) WithAttempt(attempt int) Event {
	e.Attempt = attempt
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventEmitter is a function type for emitting events.
// Executors receive one through the context to emit node.output events.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior.
// Typical uses include enriching emitted events with trace metadata.
type EventEmitterDecorator func(EventEmitter) EventEmitter

// ChainEmitterDecorators composes decorators so that events pass through
// them in argument order before reaching the wrapped emitter. Nil
// decorators are skipped.
func ChainEmitterDecorators(decorators ...EventEmitterDecorator) EventEmitterDecorator {
	return func(next EventEmitter) EventEmitter {
		for i := len(decorators) - 1; i >= 0; i-- {
			if d := decorators[i]; d != nil {
				if wrapped := d(next); wrapped != nil {
					next = wrapped
				}
			}
		}
		return next
	}
}

// EventPublisher can publish events to external subscribers.
// This interface is satisfied by bus.EventBus, allowing the scheduler
// to distribute events without importing the bus package directly.
type EventPublisher interface {
	Publish(event Event)
}

// EventHandler is a function type for handling events. Handlers are called
// from the coordinator and from workers, so they must be safe for
// concurrent use.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// Events are dropped if the channel is full.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
		}
	}
}
