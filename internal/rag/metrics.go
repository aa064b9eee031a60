package rag

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("digitaltwin.rag")

var (
	// QueriesTotal counts answered queries.
	// Labels: outcome (success, degraded, invalid, store_error, generation_error, error)
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "digitaltwin",
			Subsystem: "rag",
			Name:      "queries_total",
			Help:      "Total number of RAG queries by outcome",
		},
		[]string{"outcome"},
	)

	// QueryDuration tracks end-to-end query latency.
	// Labels: mode (complete, stream)
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "digitaltwin",
			Subsystem: "rag",
			Name:      "query_duration_seconds",
			Help:      "Duration of RAG queries in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"mode"},
	)

	// StoreDegradedGauge is 1 while searches are degrading to empty results.
	StoreDegradedGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "digitaltwin",
			Subsystem: "rag",
			Name:      "store_degraded",
			Help:      "Whether the vector store is currently unavailable (1) or healthy (0)",
		},
	)
)

func outcome(err error, degraded bool) string {
	switch {
	case err == nil && degraded:
		return "degraded"
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_error"
	case errors.Is(err, ErrGeneration):
		return "generation_error"
	default:
		return "error"
	}
}
