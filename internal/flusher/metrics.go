package flusher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the pipeline. Register against the default
// registerer in main; tests pass a private registry.
type Metrics struct {
	runs            *prometheus.CounterVec
	eventsFlushed   prometheus.Counter
	eventsDropped   prometheus.Counter
	daysArchived    prometheus.Counter
	rawRowsDeleted  prometheus.Counter
	archivesExpired prometheus.Counter
	flushDuration   prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pageflux",
				Name:      "flush_runs_total",
				Help:      "Flush invocations by outcome.",
			},
			[]string{"outcome"},
		),
		eventsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pageflux",
			Name:      "events_flushed_total",
			Help:      "Events persisted to the durable store.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pageflux",
			Name:      "events_dropped_total",
			Help:      "Malformed queue payloads dropped during normalization.",
		}),
		daysArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pageflux",
			Name:      "archive_days_total",
			Help:      "Archive date buckets created or merged.",
		}),
		rawRowsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pageflux",
			Name:      "archived_rows_deleted_total",
			Help:      "Raw page-view rows deleted by archival.",
		}),
		archivesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pageflux",
			Name:      "archives_expired_total",
			Help:      "Archive rows deleted by retention.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pageflux",
			Name:      "flush_duration_seconds",
			Help:      "Wall time of one flush invocation.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
	}
	reg.MustRegister(
		m.runs, m.eventsFlushed, m.eventsDropped,
		m.daysArchived, m.rawRowsDeleted, m.archivesExpired,
		m.flushDuration,
	)
	return m
}

func (m *Metrics) observe(res Result, err error, elapsed time.Duration) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res.Skipped:
		outcome = "skipped"
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.eventsFlushed.Add(float64(res.Flushed))
	m.eventsDropped.Add(float64(res.Dropped))
	m.daysArchived.Add(float64(res.ArchivedDays))
	m.rawRowsDeleted.Add(float64(res.RawDeleted))
	m.archivesExpired.Add(float64(res.ExpiredArchives))
	m.flushDuration.Observe(elapsed.Seconds())
}
