// Package metrics exposes Prometheus instruments for the scheduler, the
// token refresh coordinator and the OAuth state registry.
//
// All recording methods are safe to call on a nil *Metrics, so components
// can be built without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cadence"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	OutcomeInvalid = "invalid"
)

// Metrics holds all instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	jobsScheduled    *prometheus.CounterVec
	jobsCancelled    prometheus.Counter
	jobExecutions    *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	armedTimers      prometheus.Gauge
	tokenRefreshes   *prometheus.CounterVec
	stateValidations *prometheus.CounterVec
	recurringRuns    *prometheus.CounterVec
}

// New creates a Metrics with its own registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "jobs_scheduled_total",
			Help:      "Jobs accepted by Schedule.",
		}, []string{"type"}),
		jobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "jobs_cancelled_total",
			Help:      "Jobs cancelled before firing.",
		}),
		jobExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Handler invocations by job type and outcome.",
		}, []string{"type", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "execution_duration_seconds",
			Help:      "Handler execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		armedTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "armed_timers",
			Help:      "In-process timers currently armed.",
		}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credentials",
			Name:      "refreshes_total",
			Help:      "Token refresh attempts by platform and outcome.",
		}, []string{"platform", "outcome"}),
		stateValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oauth",
			Name:      "state_validations_total",
			Help:      "OAuth state validations by outcome.",
		}, []string{"outcome"}),
		recurringRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "runs_total",
			Help:      "Recurring job runs by job name and outcome.",
		}, []string{"job", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsScheduled,
		m.jobsCancelled,
		m.jobExecutions,
		m.jobDuration,
		m.armedTimers,
		m.tokenRefreshes,
		m.stateValidations,
		m.recurringRuns,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// JobScheduled counts an accepted Schedule call.
func (m *Metrics) JobScheduled(jobType string) {
	if m == nil {
		return
	}
	m.jobsScheduled.WithLabelValues(jobType).Inc()
}

// JobCancelled counts a successful Cancel call.
func (m *Metrics) JobCancelled() {
	if m == nil {
		return
	}
	m.jobsCancelled.Inc()
}

// JobExecuted records one handler invocation.
func (m *Metrics) JobExecuted(jobType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobExecutions.WithLabelValues(jobType, outcome).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(elapsed.Seconds())
}

// SetArmedTimers reports the size of the in-process timer set.
func (m *Metrics) SetArmedTimers(n int) {
	if m == nil {
		return
	}
	m.armedTimers.Set(float64(n))
}

// TokenRefreshed records one refresh attempt.
func (m *Metrics) TokenRefreshed(platform, outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(platform, outcome).Inc()
}

// StateValidated records one ValidateState outcome.
func (m *Metrics) StateValidated(outcome string) {
	if m == nil {
		return
	}
	m.stateValidations.WithLabelValues(outcome).Inc()
}

// RecurringRun records one recurring job tick.
func (m *Metrics) RecurringRun(job, outcome string) {
	if m == nil {
		return
	}
	m.recurringRuns.WithLabelValues(job, outcome).Inc()
}
