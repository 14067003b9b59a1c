package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBenchMetrics(t *testing.T) {
	t.Run("PhaseDuration", func(t *testing.T) {
		PhaseDuration.WithLabelValues("kernel", "emulated").Observe(0.25)
		PhaseDuration.WithLabelValues("cpu", "emulated").Observe(0.5)
		assert.GreaterOrEqual(t, testutil.CollectAndCount(PhaseDuration, "firbench_phase_duration_ms"), 2)
	})

	t.Run("Trials", func(t *testing.T) {
		before := testutil.ToFloat64(Trials.WithLabelValues("emulated", OutcomeOK))
		Trials.WithLabelValues("emulated", OutcomeOK).Inc()
		Trials.WithLabelValues("emulated", OutcomeMismatch).Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(Trials.WithLabelValues("emulated", OutcomeOK)))
	})

	t.Run("gauges", func(t *testing.T) {
		MaxAbsError.Set(1.5e-5)
		LocalSize.Set(16)
		GlobalSize.Set(512)
		IdleWorkItems.Set(15)
		assert.Equal(t, 1.5e-5, testutil.ToFloat64(MaxAbsError))
		assert.Equal(t, float64(16), testutil.ToFloat64(LocalSize))
		assert.Equal(t, float64(512), testutil.ToFloat64(GlobalSize))
		assert.Equal(t, float64(15), testutil.ToFloat64(IdleWorkItems))
	})
}

func TestMetricsRegistration(t *testing.T) {
	metrics := []prometheus.Collector{
		PhaseDuration,
		Trials,
		MaxAbsError,
		LocalSize,
		GlobalSize,
		IdleWorkItems,
	}

	for _, metric := range metrics {
		err := prometheus.Register(metric)
		var already prometheus.AlreadyRegisteredError
		assert.ErrorAs(t, err, &already, "promauto registers every collector")
	}
}

func TestWriteTextfile(t *testing.T) {
	LocalSize.Set(32)
	path := filepath.Join(t.TempDir(), "firbench.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "firbench_local_size 32")

	assert.Error(t, WriteTextfile(filepath.Join(t.TempDir(), "missing", "firbench.prom")))
}
