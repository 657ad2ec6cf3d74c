package otel

import (
	"github.com/petal-labs/workgraph/runtime"
)

// EnrichEmitter wraps an EventEmitter with OpenTelemetry trace context.
// Node events take the node span when one is active and fall back to the
// run span. Events without an active span pass through unchanged.
func EnrichEmitter(emit runtime.EventEmitter, tracing *TracingHandler) runtime.EventEmitter {
	return func(e runtime.Event) {
		if e.NodeID != "" {
			if sc := tracing.ActiveSpanContext(e.RunID, e.NodeID); sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		if e.TraceID == "" && e.RunID != "" {
			if sc := tracing.ActiveRunSpanContext(e.RunID); sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		emit(e)
	}
}

// Decorator returns a runtime.EventEmitterDecorator applying EnrichEmitter.
func Decorator(tracing *TracingHandler) runtime.EventEmitterDecorator {
	return func(next runtime.EventEmitter) runtime.EventEmitter {
		return EnrichEmitter(next, tracing)
	}
}
