package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/workgraph/runtime"
)

// InstrumentationName is the tracer and meter name used by workgraph.
const InstrumentationName = "github.com/petal-labs/workgraph"

// Config configures Setup.
type Config struct {
	// ServiceName is reported as service.name (default "workgraph").
	ServiceName string

	// Endpoint is the OTLP/HTTP traces endpoint URL. Empty disables span
	// export; spans are still created so events carry trace IDs.
	Endpoint string

	// SpanExporter overrides the OTLP exporter, mainly for tests.
	SpanExporter sdktrace.SpanExporter
}

// Provider bundles the tracing and metrics plumbing for one process.
// Metrics are collected on demand through a manual reader.
type Provider struct {
	Tracing *TracingHandler
	Metrics *MetricsHandler

	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// Setup builds the providers and handlers described by cfg.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "workgraph"
	}
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	exporter := cfg.SpanExporter
	if exporter == nil && cfg.Endpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		if err != nil {
			return nil, fmt.Errorf("otel: create OTLP exporter: %w", err)
		}
		exporter = exp
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	metrics, err := NewMetricsHandler(mp.Meter(InstrumentationName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("otel: create instruments: %w", err)
	}

	return &Provider{
		Tracing: NewTracingHandler(tp.Tracer(InstrumentationName)),
		Metrics: metrics,
		tp:      tp,
		mp:      mp,
		reader:  reader,
	}, nil
}

// Handler returns an EventHandler feeding both tracing and metrics.
func (p *Provider) Handler() runtime.EventHandler {
	return runtime.MultiEventHandler(p.Tracing.Handle, p.Metrics.Handle)
}

// Decorator returns the emitter decorator that stamps trace IDs on events.
func (p *Provider) Decorator() runtime.EventEmitterDecorator {
	return Decorator(p.Tracing)
}

// Counters collects the current value of every integer counter, keyed by
// metric name and summed over attributes.
func (p *Provider) Counters(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("otel: collect metrics: %w", err)
	}
	out := make(map[string]int64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out, nil
}

// ForceFlush exports every finished span still queued in the batcher.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

// Shutdown flushes pending spans and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tp.Shutdown(ctx), p.mp.Shutdown(ctx))
}
