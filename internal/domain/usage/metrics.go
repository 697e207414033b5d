package usage

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

const namespace = "csv2mt"

// MetricsRecorder exports outcomes as Prometheus metrics.
type MetricsRecorder struct {
	conversions  *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	serviceCalls *prometheus.CounterVec
	tokens       *prometheus.CounterVec
	transactions *prometheus.HistogramVec
	duration     *prometheus.HistogramVec
}

// NewMetricsRecorder registers the collectors with reg.
func NewMetricsRecorder(reg prometheus.Registerer) (*MetricsRecorder, error) {
	m := &MetricsRecorder{
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Conversion requests by resolved parsing method and outcome code.",
		}, []string{"method", "outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "method_attempts_total",
			Help:      "Extraction strategies attempted, by method and whether they yielded transactions.",
		}, []string{"method", "result"}),
		serviceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_calls_total",
			Help:      "Calls made to the document understanding service.",
		}, []string{"category"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_tokens_total",
			Help:      "Tokens consumed by the document understanding service.",
		}, []string{"direction"}),
		transactions: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transactions_per_statement",
			Help:      "Transactions in successfully converted statements.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"category"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Wall time of conversion requests.",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"method"}),
	}

	for _, c := range []prometheus.Collector{m.conversions, m.attempts, m.serviceCalls, m.tokens, m.transactions, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MetricsRecorder) Record(_ context.Context, o statement.ExtractionOutcome) error {
	method := string(o.Method)
	if method == "" {
		method = "none"
	}
	outcome := "success"
	if !o.Success {
		outcome = o.ErrorCode
	}

	m.conversions.WithLabelValues(method, outcome).Inc()
	m.duration.WithLabelValues(method).Observe(o.Duration.Seconds())

	for _, a := range o.Attempts {
		result := "empty"
		switch {
		case a.Transactions > 0:
			result = "yielded"
		case a.Err != nil:
			result = "failed"
		}
		m.attempts.WithLabelValues(string(a.Method), result).Inc()
	}

	category := string(o.Category)
	m.serviceCalls.WithLabelValues(category).Add(float64(o.Usage.Calls))
	m.tokens.WithLabelValues("input").Add(float64(o.Usage.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(o.Usage.OutputTokens))
	if o.Success {
		m.transactions.WithLabelValues(category).Observe(float64(o.TransactionCount()))
	}
	return nil
}
