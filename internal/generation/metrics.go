package generation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("digitaltwin.generation")

var (
	// RequestsTotal counts chat completion requests.
	// Labels: operation (complete, stream), result (success or error kind)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "digitaltwin",
			Subsystem: "generation",
			Name:      "requests_total",
			Help:      "Total number of chat completion requests",
		},
		[]string{"operation", "result"},
	)

	// RequestDuration tracks time to a complete response or to the first byte of a stream.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "digitaltwin",
			Subsystem: "generation",
			Name:      "request_duration_seconds",
			Help:      "Duration of chat completion requests in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// TokensTotal counts tokens reported by the provider.
	// Labels: type (prompt, completion)
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "digitaltwin",
			Subsystem: "generation",
			Name:      "tokens_total",
			Help:      "Total number of tokens consumed",
		},
		[]string{"type"},
	)

	// RetriesTotal counts retried requests.
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "digitaltwin",
			Subsystem: "generation",
			Name:      "retries_total",
			Help:      "Total number of retried chat completion requests",
		},
	)
)

func recordResult(operation string, err error) {
	result := "success"
	if err != nil {
		result = KindOf(err).String()
	}
	RequestsTotal.WithLabelValues(operation, result).Inc()
}

func recordTokens(t TokenCount) {
	TokensTotal.WithLabelValues("prompt").Add(float64(t.Prompt))
	TokensTotal.WithLabelValues("completion").Add(float64(t.Completion))
}
