package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kantan-tools/kscrape/internal/model"
)

func init() {
	register(
		jobsCreatedTotal,
		jobsFinishedTotal,
		jobsRunning,
		jobDurationSeconds,
		jobsSweptTotal,
		progressEventsTotal,
	)
}

var (
	jobsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_created_total",
			Help:      "Total number of submitted scrape jobs.",
		},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Scrape jobs which reached a terminal state, labeled by status and reason.",
		},
		[]string{"status", "reason"}, // reason: exit, exit_code, spawn, timeout, canceled
	)

	jobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Number of scrape processes currently running.",
		},
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of scrape processes from spawn to terminal state.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 240, 300, 600},
		},
		[]string{"status"},
	)

	jobsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_swept_total",
			Help:      "Jobs evicted by the retention sweep.",
		},
	)

	progressEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_events_total",
			Help:      "PROGRESS lines parsed from scrape output.",
		},
	)
)

func IncJobCreated() {
	jobsCreatedTotal.Inc()
}

// JobStarted marks a running process, the returned func must be called once
// the job reaches a terminal state.
func JobStarted() func(status model.Status, reason string) {
	start := time.Now()
	jobsRunning.Inc()
	return func(status model.Status, reason string) {
		jobsRunning.Dec()
		jobsFinishedTotal.WithLabelValues(string(status), reason).Inc()
		jobDurationSeconds.WithLabelValues(string(status)).Observe(time.Since(start).Seconds())
	}
}

// IncJobFinished counts a terminal state reached without a running process
func IncJobFinished(status model.Status, reason string) {
	jobsFinishedTotal.WithLabelValues(string(status), reason).Inc()
}

func AddSwept(n int) {
	if n > 0 {
		jobsSweptTotal.Add(float64(n))
	}
}

func IncProgressEvent() {
	progressEventsTotal.Inc()
}
