package dispatch

import (
	"fmt"

	"github.com/fxnlabs/firbench/internal/gpu"
	"go.uber.org/zap"
)

// NumArgs is the number of positional arguments of the filter kernel.
const NumArgs = 3

// Buffers are the device buffers a launch binds, in no particular order.
// Launch binds them as input, output, taps.
type Buffers struct {
	Input  *gpu.DeviceBuffer
	Output *gpu.DeviceBuffer
	Taps   *gpu.DeviceBuffer
}

type argSlot struct {
	kind   gpu.BufferKind
	access gpu.AccessMode
}

// argSlots is the fixed kernel signature: (input, output, taps).
var argSlots = [NumArgs]argSlot{
	{gpu.BufferInput, gpu.ReadOnly},
	{gpu.BufferOutput, gpu.WriteOnly},
	{gpu.BufferTaps, gpu.ReadOnly},
}

func (b Buffers) ordered() [NumArgs]*gpu.DeviceBuffer {
	return [NumArgs]*gpu.DeviceBuffer{b.Input, b.Output, b.Taps}
}

// Result is a completed kernel launch.
type Result struct {
	Geometry Geometry
	// Event is the kernel's profiling event.
	Event gpu.Event
}

// Scheduler launches the filter kernel on a bound session.
type Scheduler struct {
	policy Policy
	log    *zap.Logger
}

func NewScheduler(policy Policy, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{policy: policy, log: log.Named("dispatch")}
}

func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Launch binds bufs to the session's kernel, drains the queue, enqueues one
// 1-dimensional range and drains the queue again. It returns once the kernel
// has completed. Nothing is enqueued when geometry or argument checks fail.
func (s *Scheduler) Launch(session *gpu.Session, bufs Buffers, tapsCount, inputCount int) (*Result, error) {
	const op = "Launch"

	geom, err := Compute(s.policy, tapsCount, inputCount)
	if err != nil {
		return nil, gpu.NewLaunchError(op, "invalid launch geometry", err)
	}
	maxWG := session.Device().MaxWorkGroupSize
	if geom.Local > maxWG {
		return nil, gpu.NewLaunchError(op,
			fmt.Sprintf("local size %d for %d taps exceeds device maximum work-group size %d", geom.Local, tapsCount, maxWG), nil)
	}
	if !geom.Covers(inputCount, tapsCount) {
		s.log.Warn("launch geometry does not cover every output",
			zap.String("policy", string(geom.Policy)),
			zap.Int("global", geom.Global),
			zap.Int("outputs", inputCount-tapsCount+1))
	}

	if err := s.bindArgs(session.Kernel(), bufs); err != nil {
		return nil, err
	}

	if err := session.Finish(); err != nil {
		return nil, gpu.NewLaunchError(op, "queue drain before launch failed", err)
	}
	ev, err := session.Queue().EnqueueNDRangeKernel(session.Kernel(), []int{geom.Global}, []int{geom.Local})
	if err != nil {
		return nil, gpu.NewLaunchError(op,
			fmt.Sprintf("failed to enqueue %d work-items in groups of %d", geom.Global, geom.Local), err)
	}
	if err := session.Finish(); err != nil {
		return nil, gpu.NewLaunchError(op, "queue drain after launch failed", err)
	}
	if err := ev.Wait(); err != nil {
		return nil, gpu.NewLaunchError(op, "kernel execution failed", err)
	}

	s.log.Debug("kernel completed",
		zap.String("policy", string(geom.Policy)),
		zap.Int("local", geom.Local),
		zap.Int("global", geom.Global),
		zap.Int("groups", geom.Groups()),
		zap.Int("idle_work_items", geom.Idle(inputCount, tapsCount)))
	return &Result{Geometry: geom, Event: ev}, nil
}

func (s *Scheduler) bindArgs(kernel gpu.Kernel, bufs Buffers) error {
	const op = "Launch"

	n, err := kernel.NumArgs()
	if err != nil {
		return gpu.NewArgumentError(op, -1, "failed to query kernel argument count", err)
	}
	if n != NumArgs {
		idx := min(n, NumArgs)
		return gpu.NewArgumentError(op, idx,
			fmt.Sprintf("kernel %s takes %d arguments, want %d (input, output, taps)", kernel.Name(), n, NumArgs), nil)
	}

	for i, b := range bufs.ordered() {
		slot := argSlots[i]
		switch {
		case b == nil:
			return gpu.NewArgumentError(op, i, fmt.Sprintf("no %s buffer", slot.kind), nil)
		case b.Kind() != slot.kind:
			return gpu.NewArgumentError(op, i,
				fmt.Sprintf("expected the %s buffer, got the %s buffer", slot.kind, b.Kind()), nil)
		case b.Access() != slot.access:
			return gpu.NewArgumentError(op, i,
				fmt.Sprintf("%s buffer must be %s, got %s", slot.kind, slot.access, b.Access()), nil)
		}
		if err := kernel.SetArgBuffer(i, b.Handle()); err != nil {
			return gpu.NewArgumentError(op, i, fmt.Sprintf("failed to bind %s buffer", slot.kind), err)
		}
	}
	return nil
}
