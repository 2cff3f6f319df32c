package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"brokerage-mail-ingestor/internal/models"
)

// Run results
const (
	ResultSuccess  = "success"
	ResultFailed   = "failed"
	ResultDisabled = "disabled"
	ResultLocked   = "locked"
)

// Outcome label of a message that failed
const OutcomeError = "error"

// Metrics holds the ingestion collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	messages    *prometheus.CounterVec
	runDuration prometheus.Histogram
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_runs_total",
			Help: "Total number of ingestion cycles by result",
		}, []string{"result"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Total number of fetched messages by outcome",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_run_duration_seconds",
			Help:    "Duration of ingestion cycles",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveRun records the result and duration of one cycle
func (m *Metrics) ObserveRun(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// ObserveMessage records the outcome of one message
func (m *Metrics) ObserveMessage(action models.CaseAction, err error) {
	if m == nil {
		return
	}
	outcome := string(action)
	if err != nil || outcome == "" {
		outcome = OutcomeError
	}
	m.messages.WithLabelValues(outcome).Inc()
}

// Handler serves the collectors of gatherer in the Prometheus text format
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
