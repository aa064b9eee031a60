package vectorstore

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("digitaltwin.vectorstore")

var (
	// OperationsTotal counts index operations.
	// Labels: provider, operation, result (success, error, unavailable)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "digitaltwin",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector index operations",
		},
		[]string{"provider", "operation", "result"},
	)

	// OperationDuration tracks index operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "digitaltwin",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector index operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// HealthStatus indicates primary index health (1=healthy, 0=degraded).
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "digitaltwin",
			Subsystem: "vectorstore",
			Name:      "health_status",
			Help:      "Current primary index health (1=healthy, 0=degraded)",
		},
	)

	// HealthCheckTotal counts health probes.
	// Labels: result (success, error)
	HealthCheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "digitaltwin",
			Subsystem: "vectorstore",
			Name:      "health_checks_total",
			Help:      "Total number of primary index health probes",
		},
		[]string{"result"},
	)

	// FallbackQueriesTotal counts queries served by the fallback index.
	FallbackQueriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "digitaltwin",
			Subsystem: "vectorstore",
			Name:      "fallback_queries_total",
			Help:      "Total number of queries served by the fallback index",
		},
	)
)

// RecordHealthCheckResult records the outcome of a health probe.
func RecordHealthCheckResult(healthy bool) {
	if healthy {
		HealthCheckTotal.WithLabelValues("success").Inc()
		HealthStatus.Set(1)
	} else {
		HealthCheckTotal.WithLabelValues("error").Inc()
		HealthStatus.Set(0)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case KindOf(err).Unavailable():
		return "unavailable"
	default:
		return "error"
	}
}

// Instrumented wraps an Index with tracing spans and Prometheus metrics.
type Instrumented struct {
	Index
	provider string
}

// Instrument wraps idx so every operation is traced and counted under provider.
func Instrument(idx Index, provider string) *Instrumented {
	return &Instrumented{Index: idx, provider: provider}
}

// Unwrap returns the wrapped index.
func (i *Instrumented) Unwrap() Index { return i.Index }

func (i *Instrumented) observe(ctx context.Context, op string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) {
	ctx, span := tracer.Start(ctx, "vectorstore."+op)
	defer span.End()
	span.SetAttributes(append(attrs, attribute.String("provider", i.provider))...)

	start := time.Now()
	err := fn(ctx)
	OperationDuration.WithLabelValues(i.provider, op).Observe(time.Since(start).Seconds())
	OperationsTotal.WithLabelValues(i.provider, op, resultLabel(err)).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", KindOf(err).String()))
		return
	}
	span.SetStatus(codes.Ok, "success")
}

// Upsert delegates and records the operation.
func (i *Instrumented) Upsert(ctx context.Context, records []Record) error {
	var err error
	i.observe(ctx, "upsert", func(ctx context.Context) error {
		err = i.Index.Upsert(ctx, records)
		return err
	}, attribute.Int("record_count", len(records)))
	return err
}

// Query delegates and records the operation.
func (i *Instrumented) Query(ctx context.Context, q Query) ([]Match, error) {
	var (
		out []Match
		err error
	)
	i.observe(ctx, "query", func(ctx context.Context) error {
		out, err = i.Index.Query(ctx, q)
		return err
	}, attribute.Int("top_k", q.TopK))
	return out, err
}

// Info delegates and records the operation.
func (i *Instrumented) Info(ctx context.Context) (Info, error) {
	var (
		out Info
		err error
	)
	i.observe(ctx, "info", func(ctx context.Context) error {
		out, err = i.Index.Info(ctx)
		return err
	})
	return out, err
}

// Reset delegates and records the operation.
func (i *Instrumented) Reset(ctx context.Context) error {
	var err error
	i.observe(ctx, "reset", func(ctx context.Context) error {
		err = i.Index.Reset(ctx)
		return err
	})
	return err
}
