// Package metrics exposes run and job outcomes as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pkmhub/pkmhub/internal/pipeline"
)

// Metrics holds the collectors of one registry.
type Metrics struct {
	registry    *prometheus.Registry
	items       *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	lastSuccess prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		items: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pkmhub_items_total",
			Help: "Items handled by a job, by action",
		}, []string{"job", "action"}),
		jobErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pkmhub_job_errors_total",
			Help: "Jobs that could not run",
		}, []string{"job"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pkmhub_job_duration_seconds",
			Help:    "Job run time",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"job"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pkmhub_runs_total",
			Help: "Completed runs by outcome",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pkmhub_run_duration_seconds",
			Help:    "Run time of the whole job sequence",
			Buckets: prometheus.ExponentialBuckets(1, 3, 8),
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pkmhub_last_success_timestamp_seconds",
			Help: "Unix time of the last run without job errors",
		}),
	}
}

// ObserveJob records a job's item actions, failure and duration.
func (m *Metrics) ObserveJob(report *pipeline.Report, err error, elapsed time.Duration) {
	if report == nil {
		return
	}
	for _, res := range report.Results {
		m.items.WithLabelValues(report.Job, res.Action).Inc()
	}
	if err != nil {
		m.jobErrors.WithLabelValues(report.Job).Inc()
	}
	m.jobDuration.WithLabelValues(report.Job).Observe(elapsed.Seconds())
}

// ObserveRun records the outcome of one run.
func (m *Metrics) ObserveRun(err error, elapsed time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	} else {
		m.lastSuccess.SetToCurrentTime()
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
