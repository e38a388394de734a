package metrics

import (
	"time"

	"github.com/passbi/splitticket/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Pricing request outcomes
const (
	OutcomeOK           = "ok"
	OutcomeNoConnection = "no_connection"
	OutcomeRateLimited  = "rate_limited"
	OutcomeTransient    = "transient"
	OutcomeTerminal     = "terminal"
)

// Metrics holds the Prometheus collectors of the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	retryWait       *prometheus.HistogramVec
	buildDuration   prometheus.Histogram
	buildSegments   *prometheus.CounterVec
	savings         prometheus.Histogram
}

// New creates the collectors and registers them with reg unless reg is nil
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "splitticket",
			Name:      "pricing_request_duration_seconds",
			Help:      "Latency of calls to the pricing source.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splitticket",
			Name:      "pricing_requests_total",
			Help:      "Calls to the pricing source by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splitticket",
			Name:      "quote_cache_lookups_total",
			Help:      "Quote cache lookups by result.",
		}, []string{"result"}),
		retryWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "splitticket",
			Name:      "pricing_retry_wait_seconds",
			Help:      "Backoff waits before retrying a pricing call.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 60},
		}, []string{"reason"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "splitticket",
			Name:      "matrix_build_duration_seconds",
			Help:      "Duration of segment matrix builds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		buildSegments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splitticket",
			Name:      "matrix_segments_total",
			Help:      "Segments processed by matrix builds by result.",
		}, []string{"result"}),
		savings: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "splitticket",
			Name:      "plan_savings_euros",
			Help:      "Savings of recommended split-ticket plans.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
	}

	if reg == nil {
		return m
	}

	reg.MustRegister(
		m.requestDuration,
		m.requests,
		m.cacheLookups,
		m.retryWait,
		m.buildDuration,
		m.buildSegments,
		m.savings,
	)

	return m
}

// ObserveRequest records one call to the pricing source
func (m *Metrics) ObserveRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// CacheLookup records a quote cache hit or miss
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RetryWait records a backoff wait
func (m *Metrics) RetryWait(reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.retryWait.WithLabelValues(reason).Observe(d.Seconds())
}

// ObserveBuild records the outcome of a matrix build
func (m *Metrics) ObserveBuild(report models.BuildReport) {
	if m == nil {
		return
	}
	m.buildDuration.Observe(report.Duration.Seconds())
	m.buildSegments.WithLabelValues("priced").Add(float64(report.Priced))
	m.buildSegments.WithLabelValues("no_connection").Add(float64(report.NoConnection))
	m.buildSegments.WithLabelValues("failed").Add(float64(report.Failed))
	m.buildSegments.WithLabelValues("skipped").Add(float64(report.Skipped))
}

// ObservePlan records the savings of a recommended plan
func (m *Metrics) ObservePlan(plan models.TicketPlan) {
	if m == nil || !plan.Recommended {
		return
	}
	m.savings.Observe(plan.Savings.Euros())
}
