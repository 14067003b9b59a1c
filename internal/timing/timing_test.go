package timing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEvent struct {
	start, end int64
	err        error
}

func (e stubEvent) ProfilingInfo() (int64, int64, error) {
	return e.start, e.end, e.err
}

func TestMeasure(t *testing.T) {
	s, err := Measure(PhaseKernel, stubEvent{start: 1_000, end: 2_501_000})
	require.NoError(t, err)
	assert.Equal(t, PhaseKernel, s.Phase)
	assert.Equal(t, 2500*time.Microsecond, s.Duration())
	assert.InDelta(t, 2.5, s.Millis(), 1e-12)

	_, err = Measure(PhaseKernel, stubEvent{err: errors.New("profiling disabled")})
	assert.ErrorContains(t, err, "profiling disabled")

	_, err = Measure(PhaseKernel, stubEvent{start: 10, end: 5})
	assert.ErrorContains(t, err, "precedes start")

	_, err = Measure(PhaseKernel, nil)
	assert.Error(t, err)
}

func TestSpan(t *testing.T) {
	input := stubEvent{start: 100, end: 400}
	taps := stubEvent{start: 450, end: 500}

	s, err := Span(PhaseTransferIn, input, taps)
	require.NoError(t, err)
	assert.Equal(t, Sample{Phase: PhaseTransferIn, Start: 100, End: 500}, s)

	_, err = Span(PhaseTransferIn, taps, stubEvent{start: 0, end: 50})
	assert.Error(t, err)
}

func TestStopwatch(t *testing.T) {
	w := StartStopwatch()
	time.Sleep(2 * time.Millisecond)
	s := w.Stop(PhaseCPU)
	assert.Equal(t, PhaseCPU, s.Phase)
	assert.Zero(t, s.Start)
	assert.GreaterOrEqual(t, s.Duration(), 2*time.Millisecond)
}

func TestReport_Validate(t *testing.T) {
	ok := Report{
		TransferIn:  Sample{PhaseTransferIn, 0, 10},
		Kernel:      Sample{PhaseKernel, 20, 21},
		TransferOut: Sample{PhaseTransferOut, 30, 30},
		CPU:         Sample{PhaseCPU, 0, 0},
	}
	assert.NoError(t, ok.Validate())

	zeroKernel := ok
	zeroKernel.Kernel = Sample{PhaseKernel, 20, 20}
	assert.ErrorContains(t, zeroKernel.Validate(), "kernel interval is not positive")

	negative := ok
	negative.TransferOut = Sample{PhaseTransferOut, 30, 25}
	assert.ErrorContains(t, negative.Validate(), "transfer_out interval is negative")

	assert.Equal(t, []Sample{ok.TransferIn, ok.TransferOut, ok.Kernel, ok.CPU}, ok.Samples())
	for _, p := range Phases {
		assert.Equal(t, p, ok.Sample(p).Phase)
		assert.NotEmpty(t, p.Label())
	}
}

func TestSummarize(t *testing.T) {
	assert.Nil(t, Summarize(nil))

	ms := func(phase Phase, v float64) Sample {
		return Sample{Phase: phase, End: int64(v * float64(time.Millisecond))}
	}
	report := func(in, kernel, out, cpu float64) Report {
		return Report{
			TransferIn:  ms(PhaseTransferIn, in),
			Kernel:      ms(PhaseKernel, kernel),
			TransferOut: ms(PhaseTransferOut, out),
			CPU:         ms(PhaseCPU, cpu),
		}
	}

	t.Run("single trial", func(t *testing.T) {
		stats := Summarize([]Report{report(1, 2, 3, 4)})
		require.Len(t, stats, len(Phases))
		k := stats[2]
		assert.Equal(t, PhaseKernel, k.Phase)
		assert.Equal(t, 1, k.N)
		assert.InDelta(t, 2, k.Median, 1e-9)
		assert.InDelta(t, 2, k.Mean, 1e-9)
		assert.Zero(t, k.Variance)
		assert.InDelta(t, 2, k.Min, 1e-9)
		assert.InDelta(t, 2, k.Max, 1e-9)
	})

	t.Run("several trials", func(t *testing.T) {
		stats := Summarize([]Report{
			report(1, 4, 1, 1),
			report(1, 2, 1, 1),
			report(1, 8, 1, 1),
			report(1, 6, 1, 1),
		})
		k := stats[2]
		assert.Equal(t, 4, k.N)
		assert.InDelta(t, 5, k.Median, 1e-9)
		assert.InDelta(t, 5, k.Mean, 1e-9)
		// squared deviations 1+9+9+1 over n-1
		assert.InDelta(t, 20.0/3, k.Variance, 1e-9)
		assert.InDelta(t, 2, k.Min, 1e-9)
		assert.InDelta(t, 8, k.Max, 1e-9)

		in := stats[0]
		assert.Equal(t, PhaseTransferIn, in.Phase)
		assert.InDelta(t, 0, in.Variance, 1e-12)
	})

	t.Run("odd count median", func(t *testing.T) {
		stats := Summarize([]Report{report(3, 1, 1, 1), report(1, 1, 1, 1), report(2, 1, 1, 1)})
		assert.InDelta(t, 2, stats[0].Median, 1e-9)
	})
}
