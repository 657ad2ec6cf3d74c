package otel_test

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/petal-labs/workgraph/core"
	wgotel "github.com/petal-labs/workgraph/otel"
	"github.com/petal-labs/workgraph/runtime"
)

func newTestMeter() (*metric.ManualReader, *metric.MeterProvider) {
	reader := metric.NewManualReader()
	return reader, metric.NewMeterProvider(metric.WithReader(reader))
}

func collectMetrics(t *testing.T, reader *metric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

func counterTotal(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %s not recorded", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is %T, want Sum[int64]", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsHandler_Counters(t *testing.T) {
	reader, mp := newTestMeter()
	h, err := wgotel.NewMetricsHandler(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}

	node := func(kind runtime.EventKind, id string) runtime.Event {
		return runtime.NewEvent(kind, "run-1").WithNode(id, core.NodeKindExec).WithElapsed(20 * time.Millisecond)
	}
	h.Handle(node(runtime.EventNodeFinished, "a"))
	h.Handle(node(runtime.EventNodeFinished, "b"))
	h.Handle(node(runtime.EventNodeFailed, "c"))
	h.Handle(node(runtime.EventNodeSkipped, "d").WithPayload("state", "cancelled"))
	h.Handle(node(runtime.EventNodeSuspended, "e").WithPayload("reason", "lock"))
	h.Handle(node(runtime.EventNodeSuspended, "e").WithPayload("reason", "lock").WithPayload("coalesced", 3))
	h.Handle(node(runtime.EventNodeDeferred, "f"))
	h.Handle(runtime.NewEvent(runtime.EventRunStarted, "run-1"))

	rm := collectMetrics(t, reader)
	tests := []struct {
		name string
		want int64
	}{
		{wgotel.MetricNodeExecutions, 2},
		{wgotel.MetricNodeFailures, 1},
		{wgotel.MetricNodeSkips, 1},
		{wgotel.MetricNodeSuspensions, 4},
		{wgotel.MetricNodeDeferrals, 1},
	}
	for _, tt := range tests {
		if got := counterTotal(t, rm, tt.name); got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
		}
	}

	dur := findMetric(rm, wgotel.MetricNodeDuration)
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("node duration is %T", dur.Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("node duration samples = %d, want 3", count)
	}
}

func TestMetricsHandler_RunDuration(t *testing.T) {
	reader, mp := newTestMeter()
	h, err := wgotel.NewMetricsHandler(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}
	h.Handle(runtime.NewEvent(runtime.EventRunFinished, "run-1").
		WithElapsed(2 * time.Second).
		WithPayload("status", "failed"))

	rm := collectMetrics(t, reader)
	m := findMetric(rm, wgotel.MetricRunDuration)
	if m == nil {
		t.Fatal("run duration not recorded")
	}
	hist := m.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum != 2 {
		t.Fatalf("data points = %+v", hist.DataPoints)
	}
	if v, ok := hist.DataPoints[0].Attributes.Value("status"); !ok || v.AsString() != "failed" {
		t.Errorf("status attribute = %v", v)
	}
}
