// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"interactive-report-service/internal/domain"
)

const namespace = "interactive_report"

// Metrics holds Prometheus metrics for the service.
type Metrics struct {
	VotesFinalized     *prometheus.CounterVec
	DuplicateVotes     *prometheus.CounterVec
	DraftsSaved        *prometheus.CounterVec
	DraftsDiscarded    *prometheus.CounterVec
	FinalizeFailures   *prometheus.CounterVec
	TransactionRetries prometheus.Counter
	Sessions           prometheus.Gauge
	RequestCounter     *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

// New registers the collectors with reg; nil means the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	byType := []string{"type"}
	return &Metrics{
		VotesFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_finalized_total",
			Help:      "Finalized votes by question type",
		}, byType),
		DuplicateVotes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_votes_total",
			Help:      "Finalize attempts rejected because a vote already existed",
		}, byType),
		DraftsSaved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drafts_saved_total",
			Help:      "Draft answers written to the document store",
		}, byType),
		DraftsDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drafts_discarded_total",
			Help:      "Draft writes dropped because a finalize took over",
		}, byType),
		FinalizeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_failures_total",
			Help:      "Finalize attempts that failed and were reverted",
		}, byType),
		TransactionRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "docstore_transaction_retries_total",
			Help:      "Document store transactions retried after a conflict",
		}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_sessions",
			Help:      "Open websocket sessions",
		}),
		RequestCounter: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (m *Metrics) DraftSaved(q domain.Question) {
	m.DraftsSaved.WithLabelValues(string(q.Type)).Inc()
}

func (m *Metrics) DraftDiscarded(q domain.Question) {
	m.DraftsDiscarded.WithLabelValues(string(q.Type)).Inc()
}

func (m *Metrics) DuplicateVote(q domain.Question) {
	m.DuplicateVotes.WithLabelValues(string(q.Type)).Inc()
}

func (m *Metrics) FinalizeFailed(q domain.Question) {
	m.FinalizeFailures.WithLabelValues(string(q.Type)).Inc()
}

func (m *Metrics) VoteFinalized(q domain.Question) {
	m.VotesFinalized.WithLabelValues(string(q.Type)).Inc()
}

func (m *Metrics) TransactionRetried() {
	m.TransactionRetries.Inc()
}

// Middleware records request counts and durations by route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.RequestCounter.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
