package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Per-phase durations in milliseconds, labelled with timing.Phase values.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "firbench_phase_duration_ms",
		Help:    "Duration of each benchmark phase in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 12), // 1us to ~4s
	}, []string{"phase", "backend"})

	Trials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firbench_trials_total",
		Help: "The total number of measured trials by outcome",
	}, []string{"backend", "outcome"})

	MaxAbsError = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firbench_max_abs_error",
		Help: "Largest absolute difference between accelerator and reference outputs in the last trial",
	})

	// Launch geometry
	LocalSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firbench_local_size",
		Help: "Work-group size of the last kernel launch",
	})

	GlobalSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firbench_global_size",
		Help: "Global work-item count of the last kernel launch",
	})

	IdleWorkItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firbench_idle_work_items",
		Help: "Work-items of the last launch that returned without producing an output",
	})
)

// Trial outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeMismatch = "mismatch"
	OutcomeError    = "error"
)

// WriteTextfile writes every registered metric to path in the text exposition
// format, for the node exporter's textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
