package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/workgraph/runtime"
)

// Metric names recorded by MetricsHandler.
const (
	MetricNodeExecutions  = "workgraph.node.executions"
	MetricNodeFailures    = "workgraph.node.failures"
	MetricNodeSkips       = "workgraph.node.skips"
	MetricNodeSuspensions = "workgraph.node.suspensions"
	MetricNodeDeferrals   = "workgraph.node.deferrals"
	MetricNodeDuration    = "workgraph.node.duration"
	MetricRunDuration     = "workgraph.run.duration"
)

// MetricsHandler translates scheduler events into OpenTelemetry metrics.
type MetricsHandler struct {
	nodeExecutions  metric.Int64Counter
	nodeFailures    metric.Int64Counter
	nodeSkips       metric.Int64Counter
	nodeSuspensions metric.Int64Counter
	nodeDeferrals   metric.Int64Counter
	nodeDuration    metric.Float64Histogram
	runDuration     metric.Float64Histogram
}

// NewMetricsHandler creates the instruments on meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	var (
		h   MetricsHandler
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&h.nodeExecutions, MetricNodeExecutions, "Number of nodes executed successfully"},
		{&h.nodeFailures, MetricNodeFailures, "Number of node failures"},
		{&h.nodeSkips, MetricNodeSkips, "Number of nodes removed without running"},
		{&h.nodeSuspensions, MetricNodeSuspensions, "Number of dispatches suspended on a lease or lock"},
		{&h.nodeDeferrals, MetricNodeDeferrals, "Number of dispatches deferred by mutual exclusion"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	h.nodeDuration, err = meter.Float64Histogram(MetricNodeDuration,
		metric.WithDescription("Duration of node execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	h.runDuration, err = meter.Float64Histogram(MetricRunDuration,
		metric.WithDescription("Duration of a scheduler run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// Handle records the metrics for one event. It implements
// runtime.EventHandler semantics.
func (h *MetricsHandler) Handle(e runtime.Event) {
	ctx := context.Background()
	switch e.Kind {
	case runtime.EventNodeFinished:
		attrs := nodeAttrs(e)
		h.nodeExecutions.Add(ctx, 1, attrs)
		h.nodeDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	case runtime.EventNodeFailed:
		attrs := nodeAttrs(e)
		h.nodeFailures.Add(ctx, 1, attrs)
		h.nodeDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	case runtime.EventNodeSkipped:
		h.nodeSkips.Add(ctx, 1, metric.WithAttributes(
			attribute.String("node_kind", string(e.NodeKind)),
			attribute.String("state", payloadString(e, "state")),
		))
	case runtime.EventNodeSuspended:
		n := int64(1)
		if c, ok := e.Payload["coalesced"].(int); ok && c > 1 {
			n = int64(c)
		}
		h.nodeSuspensions.Add(ctx, n, metric.WithAttributes(
			attribute.String("node_kind", string(e.NodeKind)),
			attribute.String("reason", payloadString(e, "reason")),
		))
	case runtime.EventNodeDeferred:
		h.nodeDeferrals.Add(ctx, 1, metric.WithAttributes(
			attribute.String("node_kind", string(e.NodeKind)),
		))
	case runtime.EventRunFinished:
		h.runDuration.Record(ctx, e.Elapsed.Seconds(), metric.WithAttributes(
			attribute.String("status", payloadString(e, "status")),
		))
	}
}

func nodeAttrs(e runtime.Event) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("node_kind", string(e.NodeKind)),
		attribute.String("node_id", e.NodeID),
	)
}

func payloadString(e runtime.Event, key string) string {
	s, _ := e.Payload[key].(string)
	return s
}
