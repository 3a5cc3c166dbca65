package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNewProviderStartsSpanAndRecordsMetrics(t *testing.T) {
	p, err := NewProvider()
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	ctx, span := p.StartSpan(context.Background(), "cycle.plan", attribute.String("module", ModuleCycle))
	assert.NotNil(t, span)

	p.AddSpanEvent(ctx, "cycle.plan.started")
	span.End()

	assert.NotPanics(t, func() {
		p.Counter(ctx, "hephaestus.cycle.outcomes", attribute.String("outcome", "success"))
		p.Histogram(ctx, "hephaestus.llm.latency_ms", 123.4, attribute.String("module", ModuleAgent))
		p.Duration(ctx, "hephaestus.cycle.duration_ms", time.Now())
	})
}

func TestPackageLevelFunctionsUseInstalledProvider(t *testing.T) {
	p, err := NewProvider()
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	Init(p)
	assert.Same(t, p, current())

	ctx, span := StartSpan(context.Background(), "evolution.observe")
	defer span.End()
	assert.NotPanics(t, func() {
		AddSpanEvent(ctx, "evolution.observe.sample_collected")
		Counter(ctx, "hephaestus.evolution.mutations_total")
		Histogram(ctx, "hephaestus.evolution.fitness_delta", 0.02)
		Duration(ctx, "hephaestus.evolution.observe_duration_ms", time.Now())
	})
}

func TestCounterAndHistogramReuseInstrumentsAcrossCalls(t *testing.T) {
	p, err := NewProvider()
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	ctx := context.Background()
	p.Counter(ctx, "hephaestus.queue.enqueued_total")
	p.Counter(ctx, "hephaestus.queue.enqueued_total")
	assert.Len(t, p.counters, 1)

	p.Histogram(ctx, "hephaestus.queue.depth", 3)
	p.Histogram(ctx, "hephaestus.queue.depth", 5)
	assert.Len(t, p.histograms, 1)
}

func TestNewProviderUsesOTLPExporterWhenEndpointConfigured(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")

	p, err := NewProvider()
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	// otlptracegrpc.New establishes its connection lazily, so this succeeds
	// without a collector actually listening; StartSpan/Shutdown must still
	// behave like the stdouttrace path.
	assert.NotPanics(t, func() {
		_, span := p.StartSpan(context.Background(), "cycle.plan")
		span.End()
	})
}
