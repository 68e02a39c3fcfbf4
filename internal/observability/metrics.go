package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for a correlation run.
type Metrics struct {
	ReadingsLoaded *prometheus.CounterVec // labels: sensor={sensor1,sensor2}
	RecordsSkipped *prometheus.CounterVec // labels: sensor={sensor1,sensor2}
	Comparisons    prometheus.Counter
	Detections     prometheus.Counter
	SinkErrors     *prometheus.CounterVec // labels: sink

	CorrelationDuration prometheus.Histogram
	LastRunTimestamp    prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates all run metrics on a dedicated registry. A batch run
// exports them once through WriteTextfile rather than serving /metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		ReadingsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "readings_loaded_total",
			Help:      "Readings accepted from each sensor input.",
		}, []string{"sensor"}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "records_skipped_total",
			Help:      "Malformed records dropped in lenient parse mode.",
		}, []string{"sensor"}),
		Comparisons: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "comparisons_total",
			Help:      "Reading pairs compared by the correlator.",
		}),
		Detections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "detections_total",
			Help:      "Genuine detections found.",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "sink_errors_total",
			Help:      "Failed writes per detection sink.",
		}, []string{"sink"}),
		CorrelationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "correlator",
			Name:      "correlation_duration_seconds",
			Help:      "Duration of the pairwise comparison.",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "correlator",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed run.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.ReadingsLoaded,
		m.RecordsSkipped,
		m.Comparisons,
		m.Detections,
		m.SinkErrors,
		m.CorrelationDuration,
		m.LastRunTimestamp,
	)

	return m
}

// NewMetricsForTesting returns Metrics on a fresh registry. Each call is
// independent, so tests can assert on counters without cross-talk.
func NewMetricsForTesting() *Metrics {
	return NewMetrics()
}

// Registry exposes the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the Prometheus text format, for pickup
// by the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
