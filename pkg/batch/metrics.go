package batch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// File outcomes used as the result label
const (
	resultOK            = "ok"
	resultShapeMismatch = "shape_mismatch"
	resultReadFailure   = "read_failure"
	resultFailure       = "failure"
)

// Metrics collects the counters of one batch run in its own registry so
// they can be dumped for a textfile collector when the run ends
type Metrics struct {
	registry     *prometheus.Registry
	files        *prometheus.CounterVec
	bytesWritten prometheus.Counter
	fileDuration prometheus.Histogram
	lastRun      prometheus.Gauge
}

// NewMetrics registers the run metrics in a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		files: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lungprep_files_total",
			Help: "Scan and mask pairs handled, by outcome.",
		}, []string{"result"}),
		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "lungprep_bytes_written_total",
			Help: "Bytes of .npy arrays written.",
		}),
		fileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lungprep_file_duration_seconds",
			Help:    "Time to process one scan and mask pair.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lungprep_last_run_timestamp_seconds",
			Help: "Unix time the last batch run finished.",
		}),
	}
}

func (m *Metrics) observe(result string, elapsed time.Duration) {
	m.files.WithLabelValues(result).Inc()
	m.fileDuration.Observe(elapsed.Seconds())
}

// WriteTextfile stamps the finish time and writes all metrics to path
func (m *Metrics) WriteTextfile(path string) error {
	m.lastRun.SetToCurrentTime()
	return prometheus.WriteToTextfile(path, m.registry)
}
