// Package telemetry provides the evolution core's tracing and metrics
// surface: spans, span events, counters and histograms. Callers open one
// span per cycle run and per completion call and emit counters for cycle
// outcomes, agent verdicts and evolution deploys; no caller records a
// histogram. The API is a thin set of package-level functions over a
// process-wide OpenTelemetry provider, grounded on telemetry.Counter/
// telemetry.Histogram/telemetry.AddSpanEvent's global-function style in the
// teacher repo (trimmed from its cardinality limiting, baggage propagation,
// and circuit-breaker-protected emission — Hephaestus emits synchronously
// from a single process, so none of that multi-tenant machinery applies).
package telemetry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/hephaestus-ai/hephaestus"

// Provider owns the process-wide tracer and meter plus the instruments
// components record against. Construct one with NewProvider and call Init
// to install it as the package default.
type Provider struct {
	tracer trace.Tracer
	meter  metric.Meter
	tp     *sdktrace.TracerProvider

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewProvider builds a Provider exporting spans via stdouttrace by default,
// or via an OTLP/gRPC collector when OTEL_EXPORTER_OTLP_ENDPOINT is set
// (spec.md leaves telemetry backend selection unspecified; this mirrors the
// teacher's own setupTraceProvider, which falls back to a local exporter
// absent an OTLP endpoint and otherwise dials the collector over gRPC).
func NewProvider() (*Provider, error) {
	exporter, err := newSpanExporter()
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))

	return &Provider{
		tracer:     tp.Tracer(instrumentationName),
		meter:      otel.GetMeterProvider().Meter(instrumentationName),
		tp:         tp,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}, nil
}

// newSpanExporter picks stdouttrace or otlptracegrpc based on
// OTEL_EXPORTER_OTLP_ENDPOINT, the same collector-endpoint env var the
// teacher's setupTraceProvider checks.
func newSpanExporter() (sdktrace.SpanExporter, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: creating stdout trace exporter: %w", err)
		}
		return exporter, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") != "false" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating OTLP trace exporter: %w", err)
	}
	return exporter, nil
}

// Shutdown flushes and stops the underlying trace provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// StartSpan starts a span named for the CycleRunner phase or agent
// invocation it brackets.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddSpanEvent records a point-in-time event on the span already active in
// ctx, a no-op if ctx carries no recording span.
func (p *Provider) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// Counter increments the named counter by 1, creating the instrument on
// first use.
func (p *Provider) Counter(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	p.mu.Lock()
	c, ok := p.counters[name]
	if !ok {
		var err error
		c, err = p.meter.Int64Counter(name)
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.counters[name] = c
	}
	p.mu.Unlock()
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Histogram records value under the named histogram, creating the
// instrument on first use. Used for LLM latency and cycle duration.
func (p *Provider) Histogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	p.mu.Lock()
	h, ok := p.histograms[name]
	if !ok {
		var err error
		h, err = p.meter.Float64Histogram(name)
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.histograms[name] = h
	}
	p.mu.Unlock()
	h.Record(ctx, value, metric.WithAttributes(attrs...))
}

// Duration is a convenience wrapper recording elapsed milliseconds since
// startTime under name.
func (p *Provider) Duration(ctx context.Context, name string, startTime time.Time, attrs ...attribute.KeyValue) {
	p.Histogram(ctx, name, float64(time.Since(startTime).Milliseconds()), attrs...)
}

var (
	defaultMu       sync.RWMutex
	defaultProvider *Provider = noopProvider()
)

func noopProvider() *Provider {
	return &Provider{
		tracer:     otel.GetTracerProvider().Tracer(instrumentationName),
		meter:      otel.GetMeterProvider().Meter(instrumentationName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// Init installs p as the default provider used by the package-level
// functions below. Components that receive a *Provider explicitly (e.g.
// through dependency injection) should prefer calling its methods directly;
// Init exists for call sites, like the agents, cycle runner and completion
// client, that don't thread a Provider through every signature.
func Init(p *Provider) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultProvider = p
}

func current() *Provider {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultProvider
}

// StartSpan delegates to the default provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return current().StartSpan(ctx, name, attrs...)
}

// AddSpanEvent delegates to the default provider.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	current().AddSpanEvent(ctx, name, attrs...)
}

// Counter delegates to the default provider.
func Counter(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	current().Counter(ctx, name, attrs...)
}

// Histogram delegates to the default provider.
func Histogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	current().Histogram(ctx, name, value, attrs...)
}

// Duration delegates to the default provider.
func Duration(ctx context.Context, name string, startTime time.Time, attrs ...attribute.KeyValue) {
	current().Duration(ctx, name, startTime, attrs...)
}
