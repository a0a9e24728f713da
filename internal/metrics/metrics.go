// Package metrics exposes run counters for the submission pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors, bound to their own
// registry so repeated runs in one process never double-register.
type Metrics struct {
	registry *prometheus.Registry

	SubmissionsTotal *prometheus.CounterVec
	PollsTotal       prometheus.Counter
	PollFailures     prometheus.Counter
	ArchivesTotal    *prometheus.CounterVec
	FixerFailures    prometheus.Counter
	ActiveJobs       prometheus.Gauge
	JobDuration      prometheus.Histogram
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ladruno_submissions_total",
				Help: "Job submissions by final outcome",
			},
			[]string{"outcome"},
		),
		PollsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ladruno_status_polls_total",
				Help: "Scheduler status queries issued",
			},
		),
		PollFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ladruno_status_poll_failures_total",
				Help: "Transient scheduler query failures",
			},
		),
		ArchivesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ladruno_archives_total",
				Help: "Archive moves by result",
			},
			[]string{"result"},
		),
		FixerFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ladruno_fixer_failures_total",
				Help: "Output files whose write flag could not be cleared",
			},
		),
		ActiveJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ladruno_active_jobs",
				Help: "Jobs currently submitted or running",
			},
		),
		JobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ladruno_job_duration_seconds",
				Help:    "Wall-clock duration of completed jobs",
				Buckets: prometheus.ExponentialBuckets(60, 2, 12),
			},
		),
	}

	m.registry.MustRegister(
		m.SubmissionsTotal,
		m.PollsTotal,
		m.PollFailures,
		m.ArchivesTotal,
		m.FixerFailures,
		m.ActiveJobs,
		m.JobDuration,
	)
	return m
}

// Registry returns the backing registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
