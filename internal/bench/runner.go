// Package bench drives the FIR filter through the accelerator and the CPU
// reference, and reports results and timings side by side.
package bench

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxnlabs/firbench/internal/config"
	"github.com/fxnlabs/firbench/internal/dispatch"
	"github.com/fxnlabs/firbench/internal/fir"
	"github.com/fxnlabs/firbench/internal/gpu"
	"github.com/fxnlabs/firbench/internal/metrics"
	"github.com/fxnlabs/firbench/internal/store"
	"github.com/fxnlabs/firbench/internal/timing"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrMismatch is returned when accelerator and reference outputs disagree.
var ErrMismatch = errors.New("accelerator output does not match the reference")

// Options fixes the filter and the trial schedule of a run.
type Options struct {
	InputSize int
	TapsSize  int
	Pattern   fir.Pattern
	Seed      int64
	Trials    int
	Warmup    int
	Tolerance float64
}

// OptionsFromConfig extracts the run options from a validated config.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	pattern, err := fir.ParsePattern(cfg.Filter.Pattern)
	if err != nil {
		return Options{}, err
	}
	return Options{
		InputSize: cfg.Filter.InputSize,
		TapsSize:  cfg.Filter.TapsSize,
		Pattern:   pattern,
		Seed:      cfg.Filter.Seed,
		Trials:    cfg.Bench.Trials,
		Warmup:    cfg.Bench.Warmup,
		Tolerance: cfg.Bench.Tolerance,
	}, nil
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, run store.Run) (int64, error)
}

// Trial is one measured pass over the filter.
type Trial struct {
	Report     timing.Report
	Geometry   dispatch.Geometry
	Comparison fir.Comparison
	Output     []float32
	Reference  []float32
}

// Result collects every measured trial of a run. Warm-up trials are not kept.
type Result struct {
	Options   Options
	StartedAt time.Time
	Backend   string
	Device    string
	Input     []int16
	Taps      []float32
	Trials    []Trial
	Summary   []timing.Stats
	// RunID is the history id, or 0 when history is disabled.
	RunID int64
}

// Last returns the final measured trial.
func (r *Result) Last() Trial {
	return r.Trials[len(r.Trials)-1]
}

// Mismatches is the total number of disagreeing outputs over all trials.
func (r *Result) Mismatches() int {
	n := 0
	for _, t := range r.Trials {
		n += t.Comparison.Mismatches
	}
	return n
}

func (r *Result) MaxAbsError() float64 {
	m := 0.0
	for _, t := range r.Trials {
		m = max(m, t.Comparison.MaxAbsError)
	}
	return m
}

// Runner executes trials on a bound session. It is not safe for concurrent
// use; the session has a single queue.
type Runner struct {
	session *gpu.Session
	sched   *dispatch.Scheduler
	opts    Options
	history Recorder
	log     *zap.Logger
}

// NewRunner creates a runner. history may be nil.
func NewRunner(session *gpu.Session, sched *dispatch.Scheduler, opts Options, history Recorder, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		session: session,
		sched:   sched,
		opts:    opts,
		history: history,
		log:     log.Named("bench"),
	}
}

// Run generates the test vectors, executes the warm-up and measured trials
// and records the outcome. ctx is checked between trials only. When outputs
// disagree the complete result is returned together with ErrMismatch.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.opts.Trials < 1 {
		return nil, fmt.Errorf("at least one trial is required, got %d", r.opts.Trials)
	}
	input, taps, err := fir.Generate(r.opts.Pattern, r.opts.InputSize, r.opts.TapsSize, r.opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to generate test vectors: %w", err)
	}

	backend := r.session.BackendName()
	res := &Result{
		Options:   r.opts,
		StartedAt: time.Now(),
		Backend:   backend,
		Device:    r.session.Device().Name,
		Input:     input,
		Taps:      taps,
	}

	total := r.opts.Warmup + r.opts.Trials
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run interrupted before trial %d of %d: %w", i+1, total, err)
		}
		trial, err := r.trial(input, taps)
		if err != nil {
			metrics.Trials.WithLabelValues(backend, metrics.OutcomeError).Inc()
			return nil, err
		}
		if i < r.opts.Warmup {
			r.log.Debug("warm-up trial done", zap.Int("trial", i+1))
			continue
		}
		r.observe(backend, trial)
		res.Trials = append(res.Trials, trial)
	}

	reports := make([]timing.Report, len(res.Trials))
	for i, t := range res.Trials {
		reports[i] = t.Report
	}
	res.Summary = timing.Summarize(reports)

	if r.history != nil {
		id, err := r.history.Record(ctx, res.run())
		if err != nil {
			r.log.Warn("failed to record run history", zap.Error(err))
		} else {
			res.RunID = id
		}
	}

	if n := res.Mismatches(); n > 0 {
		last := res.Last().Comparison
		r.log.Error("accelerator output does not match the reference",
			zap.Int("mismatches", n),
			zap.Int("first_mismatch", last.FirstMismatch),
			zap.Float64("max_abs_error", res.MaxAbsError()))
		return res, fmt.Errorf("%w: %s", ErrMismatch, last)
	}
	r.log.Info("run complete",
		zap.Int("trials", len(res.Trials)),
		zap.Float64("max_abs_error", res.MaxAbsError()))
	return res, nil
}

// trial runs the filter once on each path. Buffers are allocated, written
// once, read once and released before it returns.
func (r *Runner) trial(input []int16, taps []float32) (_ Trial, err error) {
	s := r.session
	n, t := len(input), len(taps)

	in, err := s.Allocate(gpu.BufferInput, n*2, gpu.ReadOnly)
	if err != nil {
		return Trial{}, err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(in.Release))
	tb, err := s.Allocate(gpu.BufferTaps, t*4, gpu.ReadOnly)
	if err != nil {
		return Trial{}, err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(tb.Release))
	out, err := s.Allocate(gpu.BufferOutput, n*4, gpu.WriteOnly)
	if err != nil {
		return Trial{}, err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(out.Release))

	inEv, err := s.WriteTo(in, gpu.Int16Bytes(input))
	if err != nil {
		return Trial{}, err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(inEv.Release))
	tapsEv, err := s.WriteTo(tb, gpu.Float32Bytes(taps))
	if err != nil {
		return Trial{}, err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(tapsEv.Release))

	launch, err := r.sched.Launch(s, dispatch.Buffers{Input: in, Output: out, Taps: tb}, t, n)
	if err != nil {
		return Trial{}, err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(launch.Event.Release))

	output := make([]float32, n)
	outEv, err := s.ReadFrom(out, gpu.Float32Bytes(output))
	if err != nil {
		return Trial{}, err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(outEv.Release))

	sw := timing.StartStopwatch()
	reference := fir.Convolve(input, taps)
	cpu := sw.Stop(timing.PhaseCPU)

	report := timing.Report{CPU: cpu}
	if report.TransferIn, err = timing.Span(timing.PhaseTransferIn, inEv, tapsEv); err != nil {
		return Trial{}, err
	}
	if report.Kernel, err = timing.Measure(timing.PhaseKernel, launch.Event); err != nil {
		return Trial{}, err
	}
	if report.TransferOut, err = timing.Measure(timing.PhaseTransferOut, outEv); err != nil {
		return Trial{}, err
	}
	if err := report.Validate(); err != nil {
		return Trial{}, fmt.Errorf("inconsistent timing: %w", err)
	}

	cmp, err := fir.Compare(reference, output, t, r.opts.Tolerance)
	if err != nil {
		return Trial{}, err
	}
	return Trial{
		Report:     report,
		Geometry:   launch.Geometry,
		Comparison: cmp,
		Output:     output,
		Reference:  reference,
	}, nil
}

func (r *Runner) observe(backend string, t Trial) {
	for _, s := range t.Report.Samples() {
		metrics.PhaseDuration.WithLabelValues(string(s.Phase), backend).Observe(s.Millis())
	}
	outcome := metrics.OutcomeOK
	if !t.Comparison.OK() {
		outcome = metrics.OutcomeMismatch
	}
	metrics.Trials.WithLabelValues(backend, outcome).Inc()
	metrics.MaxAbsError.Set(t.Comparison.MaxAbsError)
	metrics.LocalSize.Set(float64(t.Geometry.Local))
	metrics.GlobalSize.Set(float64(t.Geometry.Global))
	metrics.IdleWorkItems.Set(float64(t.Geometry.Idle(r.opts.InputSize, r.opts.TapsSize)))
}

func (r *Result) run() store.Run {
	run := store.Run{
		StartedAt:   r.StartedAt,
		Backend:     r.Backend,
		Device:      r.Device,
		InputSize:   r.Options.InputSize,
		TapsSize:    r.Options.TapsSize,
		Trials:      len(r.Trials),
		MaxAbsError: r.MaxAbsError(),
		Mismatches:  r.Mismatches(),
	}
	if len(r.Trials) > 0 {
		g := r.Last().Geometry
		run.Policy = string(g.Policy)
		run.LocalSize = g.Local
		run.GlobalSize = g.Global
	}
	for _, s := range r.Summary {
		switch s.Phase {
		case timing.PhaseTransferIn:
			run.TransferIn = s.Median
		case timing.PhaseTransferOut:
			run.TransferOut = s.Median
		case timing.PhaseKernel:
			run.Kernel = s.Median
		case timing.PhaseCPU:
			run.CPU = s.Median
		}
	}
	return run
}
