// Package otel connects scheduler events to OpenTelemetry traces and metrics.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/workgraph/runtime"
)

// TracingHandler translates scheduler events into spans: one span per run
// and one child span per node execution. Scheduling decisions such as
// suspensions and deferrals become span events.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span
	runCtxs   map[string]context.Context
	nodeSpans map[string]trace.Span // runID:nodeID -> span
}

// NewTracingHandler creates a TracingHandler that starts spans on tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		nodeSpans: make(map[string]trace.Span),
	}
}

// Handle processes one event. It implements runtime.EventHandler semantics.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventRunStarted:
		h.handleRunStarted(e)
	case runtime.EventNodeStarted:
		h.handleNodeStarted(e)
	case runtime.EventNodeFinished:
		h.endNode(e, codes.Ok, "")
	case runtime.EventNodeFailed:
		msg := payloadString(e, "error")
		if msg == "" {
			msg = "unknown error"
		}
		h.endNode(e, codes.Error, msg)
	case runtime.EventNodeSuspended, runtime.EventNodeDeferred, runtime.EventNodeSkipped,
		runtime.EventCycleBroken, runtime.EventRunCanceled:
		h.addEvent(e)
	case runtime.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func (h *TracingHandler) handleRunStarted(e runtime.Event) {
	graphID := payloadString(e, "graph")
	spanName := "run:" + e.RunID
	if graphID != "" {
		spanName = "run:" + graphID
	}

	attrs := []attribute.KeyValue{attribute.String("workgraph.run_id", e.RunID)}
	if graphID != "" {
		attrs = append(attrs, attribute.String("workgraph.graph", graphID))
	}
	if w, ok := e.Payload["workers"].(int); ok {
		attrs = append(attrs, attribute.Int("workgraph.workers", w))
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeStarted(e runtime.Event) {
	h.mu.RLock()
	parent, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()
	if !ok {
		parent = context.Background()
	}

	_, span := h.tracer.Start(parent, "node:"+e.NodeID,
		trace.WithAttributes(
			attribute.String("workgraph.run_id", e.RunID),
			attribute.String("workgraph.node_id", e.NodeID),
			attribute.String("workgraph.node_kind", string(e.NodeKind)),
			attribute.Int("workgraph.attempt", e.Attempt),
			attribute.String("workgraph.worker", payloadString(e, "worker")),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.nodeSpans[nodeKey(e)] = span
	h.mu.Unlock()
}

func (h *TracingHandler) endNode(e runtime.Event, code codes.Code, msg string) {
	h.mu.Lock()
	span, ok := h.nodeSpans[nodeKey(e)]
	delete(h.nodeSpans, nodeKey(e))
	h.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(attribute.String("workgraph.duration", e.Elapsed.String()))
	if code == codes.Error {
		span.RecordError(spanError(msg), trace.WithTimestamp(e.Time))
	}
	span.SetStatus(code, msg)
	span.End(trace.WithTimestamp(e.Time))
}

// addEvent records e on the node span when the node is executing, and on
// the run span otherwise.
func (h *TracingHandler) addEvent(e runtime.Event) {
	h.mu.RLock()
	span, ok := h.nodeSpans[nodeKey(e)]
	if !ok {
		span, ok = h.runSpans[e.RunID]
	}
	h.mu.RUnlock()
	if !ok {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("workgraph.event_kind", string(e.Kind))}
	if e.NodeID != "" {
		attrs = append(attrs, attribute.String("workgraph.node_id", e.NodeID))
	}
	for _, key := range []string{"reason", "running", "state", "source", "target", "type"} {
		switch v := e.Payload[key].(type) {
		case string:
			attrs = append(attrs, attribute.String("workgraph."+key, v))
		case int:
			attrs = append(attrs, attribute.Int("workgraph."+key, v))
		}
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

func (h *TracingHandler) handleRunFinished(e runtime.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	delete(h.runSpans, e.RunID)
	delete(h.runCtxs, e.RunID)
	h.mu.Unlock()
	if !ok {
		return
	}

	status := payloadString(e, "status")
	span.SetAttributes(
		attribute.String("workgraph.duration", e.Elapsed.String()),
		attribute.String("workgraph.status", status),
	)
	if n, ok := e.Payload["executed"].(int); ok {
		span.SetAttributes(attribute.Int("workgraph.executed", n))
	}

	switch status {
	case "completed":
		span.SetStatus(codes.Ok, "")
	default:
		msg := payloadString(e, "error")
		if msg == "" {
			msg = "run " + status
		}
		span.SetStatus(codes.Error, msg)
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext returns the SpanContext of the executing node, or an
// empty SpanContext.
func (h *TracingHandler) ActiveSpanContext(runID, nodeID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.nodeSpans[runID+":"+nodeID]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext of the run, or an empty
// SpanContext.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func nodeKey(e runtime.Event) string {
	return e.RunID + ":" + e.NodeID
}

type spanError string

func (e spanError) Error() string { return string(e) }
