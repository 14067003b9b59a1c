// Package timing turns accelerator profiling events and host stopwatches into
// comparable per-phase samples.
package timing

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Phase names one timed step of a run.
type Phase string

const (
	PhaseTransferIn  Phase = "transfer_in"
	PhaseKernel      Phase = "kernel"
	PhaseTransferOut Phase = "transfer_out"
	PhaseCPU         Phase = "cpu"
)

// Phases lists every phase in report order.
var Phases = []Phase{PhaseTransferIn, PhaseTransferOut, PhaseKernel, PhaseCPU}

func (p Phase) Label() string {
	switch p {
	case PhaseTransferIn:
		return "Transfer in"
	case PhaseKernel:
		return "Accelerator execution"
	case PhaseTransferOut:
		return "Transfer out"
	case PhaseCPU:
		return "CPU execution"
	default:
		return string(p)
	}
}

// Profiler is satisfied by accelerator events recorded on a profiling queue.
type Profiler interface {
	ProfilingInfo() (start, end int64, err error)
}

// Sample is one timed interval in nanoseconds. Accelerator samples use the
// device clock; CPU samples start at zero.
type Sample struct {
	Phase Phase
	Start int64
	End   int64
}

func (s Sample) Duration() time.Duration {
	return time.Duration(s.End - s.Start)
}

// Millis returns the interval in milliseconds.
func (s Sample) Millis() float64 {
	return float64(s.End-s.Start) / float64(time.Millisecond)
}

// Measure reads the profiled start and end of ev.
func Measure(phase Phase, ev Profiler) (Sample, error) {
	return Span(phase, ev, ev)
}

// Span measures from the start of first to the end of last. Both events must
// come from the same queue so their timestamps share a clock.
func Span(phase Phase, first, last Profiler) (Sample, error) {
	if first == nil || last == nil {
		return Sample{}, fmt.Errorf("%s: no event to measure", phase)
	}
	start, _, err := first.ProfilingInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("%s: failed to read start timestamp: %w", phase, err)
	}
	_, end, err := last.ProfilingInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("%s: failed to read end timestamp: %w", phase, err)
	}
	if end < start {
		return Sample{}, fmt.Errorf("%s: end timestamp %d precedes start %d", phase, end, start)
	}
	return Sample{Phase: phase, Start: start, End: end}, nil
}

// Stopwatch measures host wall-clock time on the monotonic clock.
type Stopwatch struct {
	start time.Time
}

func StartStopwatch() Stopwatch {
	return Stopwatch{start: time.Now()}
}

func (w Stopwatch) Stop(phase Phase) Sample {
	return Sample{Phase: phase, End: int64(time.Since(w.start))}
}

// Report holds the four intervals of one run.
type Report struct {
	TransferIn  Sample
	Kernel      Sample
	TransferOut Sample
	CPU         Sample
}

// Samples returns the report's samples in Phases order.
func (r Report) Samples() []Sample {
	return []Sample{r.TransferIn, r.TransferOut, r.Kernel, r.CPU}
}

// Sample returns the interval recorded for phase.
func (r Report) Sample(phase Phase) Sample {
	switch phase {
	case PhaseTransferIn:
		return r.TransferIn
	case PhaseKernel:
		return r.Kernel
	case PhaseTransferOut:
		return r.TransferOut
	default:
		return r.CPU
	}
}

// Validate checks that no interval is negative and that the kernel took a
// measurable amount of time.
func (r Report) Validate() error {
	var err error
	for _, s := range r.Samples() {
		if s.End < s.Start {
			err = multierr.Append(err, fmt.Errorf("%s interval is negative (%d ns)", s.Phase, s.End-s.Start))
		}
	}
	if r.Kernel.End <= r.Kernel.Start {
		err = multierr.Append(err, fmt.Errorf("kernel interval is not positive (%d ns)", r.Kernel.End-r.Kernel.Start))
	}
	return err
}
