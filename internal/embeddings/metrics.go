package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/digitaltwin/internal/embeddings"

// Metrics holds embedding metrics.
type Metrics struct {
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics creates embedding instruments on meter. A nil meter uses the global provider.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Metrics{}
	var err error

	m.duration, err = meter.Float64Histogram(
		"digitaltwin.embedding.duration_seconds",
		metric.WithDescription("Duration of embedding generation, labeled by provider and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = meter.Int64Histogram(
		"digitaltwin.embedding.batch_size",
		metric.WithDescription("Number of texts per document embedding request"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250),
	)
	if err != nil {
		logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"digitaltwin.embedding.errors_total",
		metric.WithDescription("Embedding failures by provider and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}

	return m
}

// Record records one embedding call.
func (m *Metrics) Record(ctx context.Context, provider, operation string, d time.Duration, batch int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	)
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if batch > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batch), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// Instrumented wraps a Provider and records metrics for every call.
type Instrumented struct {
	Provider
	name    string
	metrics *Metrics
}

// WithMetrics wraps p so every call is recorded under the given provider name.
func WithMetrics(p Provider, name string, m *Metrics) *Instrumented {
	return &Instrumented{Provider: p, name: name, metrics: m}
}

// EmbedDocuments delegates and records duration and batch size.
func (i *Instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	out, err := i.Provider.EmbedDocuments(ctx, texts)
	i.metrics.Record(ctx, i.name, "documents", time.Since(start), len(texts), err)
	return out, err
}

// EmbedQuery delegates and records duration.
func (i *Instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	out, err := i.Provider.EmbedQuery(ctx, text)
	i.metrics.Record(ctx, i.name, "query", time.Since(start), 0, err)
	return out, err
}
