// Package metrics records import pipeline counters in a private Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "keyshare"

// Metrics holds the pipeline collectors.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	outcomesTotal *prometheus.CounterVec
	runDuration   prometheus.Histogram
}

// New creates the collectors and registers them in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_runs_total",
			Help:      "Import runs by terminal state.",
		}, []string{"state"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_stage_failures_total",
			Help:      "Failed import runs by stage and reason.",
		}, []string{"stage", "reason"}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_outcomes_total",
			Help:      "Per-container import outcomes.",
		}, []string{"kind"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_run_duration_seconds",
			Help:      "Wall time of an import run, including release.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
	}
	m.registry.MustRegister(m.runsTotal, m.stageFailures, m.outcomesTotal, m.runDuration)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RunFinished records a run that ended in state after d.
func (m *Metrics) RunFinished(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(state).Inc()
	m.runDuration.Observe(d.Seconds())
}

// StageFailed records a run that failed at stage for reason.
func (m *Metrics) StageFailed(stage, reason string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage, reason).Inc()
}

// Outcome records one container outcome.
func (m *Metrics) Outcome(kind string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(kind).Inc()
}

// WriteTextfile writes the registry in the Prometheus text format to path,
// for collection by a node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
