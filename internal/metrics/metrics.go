// Package metrics collects ingestion counters in a private Prometheus
// registry and writes them in the node-exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Ingest struct {
	registry *prometheus.Registry

	files          *prometheus.CounterVec
	records        *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	runDuration    prometheus.Histogram
	lastRunSuccess prometheus.Gauge
	lastRunTime    prometheus.Gauge
}

func NewIngest(tribunal string) *Ingest {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"tribunal": tribunal}

	files := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "jurisline",
			Subsystem:   "download",
			Name:        "files_total",
			Help:        "Downloaded payload files by status.",
			ConstLabels: labels,
		},
		[]string{"status"},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "jurisline",
			Subsystem:   "store",
			Name:        "records_total",
			Help:        "Records offered to the store by insert status.",
			ConstLabels: labels,
		},
		[]string{"status"},
	)
	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "jurisline",
			Subsystem:   "processor",
			Name:        "outcomes_total",
			Help:        "Processed decisions by classified outcome.",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)
	runDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "jurisline",
			Subsystem:   "ingest",
			Name:        "run_duration_seconds",
			Help:        "Wall time of ingestion runs.",
			Buckets:     []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			ConstLabels: labels,
		},
	)
	lastRunSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "jurisline",
		Subsystem:   "ingest",
		Name:        "last_run_success",
		Help:        "1 when the last run finished without failures.",
		ConstLabels: labels,
	})
	lastRunTime := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "jurisline",
		Subsystem:   "ingest",
		Name:        "last_run_timestamp_seconds",
		Help:        "Unix time the last run finished.",
		ConstLabels: labels,
	})

	registry.MustRegister(files, records, outcomes, runDuration, lastRunSuccess, lastRunTime)

	return &Ingest{
		registry:       registry,
		files:          files,
		records:        records,
		outcomes:       outcomes,
		runDuration:    runDuration,
		lastRunSuccess: lastRunSuccess,
		lastRunTime:    lastRunTime,
	}
}

func (m *Ingest) Registry() *prometheus.Registry { return m.registry }

func (m *Ingest) ObserveFile(status string) {
	m.files.WithLabelValues(status).Inc()
}

func (m *Ingest) ObserveRecords(inserted, duplicate, errored int) {
	m.records.WithLabelValues("inserted").Add(float64(inserted))
	m.records.WithLabelValues("duplicate").Add(float64(duplicate))
	m.records.WithLabelValues("errored").Add(float64(errored))
}

func (m *Ingest) ObserveOutcome(outcome string) {
	m.outcomes.WithLabelValues(outcome).Inc()
}

func (m *Ingest) ObserveRun(d time.Duration, success bool, finished time.Time) {
	m.runDuration.Observe(d.Seconds())
	if success {
		m.lastRunSuccess.Set(1)
	} else {
		m.lastRunSuccess.Set(0)
	}
	m.lastRunTime.Set(float64(finished.Unix()))
}

// WriteTextfile writes the registry to path for the node-exporter textfile
// collector. An empty path is a no-op.
func (m *Ingest) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
