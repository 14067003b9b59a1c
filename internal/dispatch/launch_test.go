package dispatch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fxnlabs/firbench/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// probe wraps a backend to count kernel launches and optionally misreport
// the kernel's argument count.
type probe struct {
	gpu.Backend
	numArgs  int
	launches int
}

func (p *probe) CreateContext(devices []gpu.Device) (gpu.Context, error) {
	c, err := p.Backend.CreateContext(devices)
	if err != nil {
		return nil, err
	}
	return probeContext{c, p}, nil
}

type probeContext struct {
	gpu.Context
	p *probe
}

func (c probeContext) CreateQueue(d gpu.Device, profiling bool) (gpu.Queue, error) {
	q, err := c.Context.CreateQueue(d, profiling)
	if err != nil {
		return nil, err
	}
	return probeQueue{q, c.p}, nil
}

func (c probeContext) CreateProgram(src string) (gpu.Program, error) {
	prog, err := c.Context.CreateProgram(src)
	if err != nil {
		return nil, err
	}
	return probeProgram{prog, c.p}, nil
}

type probeQueue struct {
	gpu.Queue
	p *probe
}

func (q probeQueue) EnqueueNDRangeKernel(k gpu.Kernel, global, local []int) (gpu.Event, error) {
	q.p.launches++
	return q.Queue.EnqueueNDRangeKernel(k.(probeKernel).Kernel, global, local)
}

type probeProgram struct {
	gpu.Program
	p *probe
}

func (prog probeProgram) CreateKernel(name string) (gpu.Kernel, error) {
	k, err := prog.Program.CreateKernel(name)
	if err != nil {
		return nil, err
	}
	return probeKernel{k, prog.p}, nil
}

type probeKernel struct {
	gpu.Kernel
	p *probe
}

func (k probeKernel) NumArgs() (int, error) {
	if k.p.numArgs > 0 {
		return k.p.numArgs, nil
	}
	return k.Kernel.NumArgs()
}

type fixture struct {
	session *gpu.Session
	probe   *probe
	bufs    Buffers
	input   []int16
	taps    []float32
}

func newFixture(t *testing.T, cfg gpu.EmulatedConfig, inputCount, tapsCount int) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	p := &probe{Backend: gpu.NewEmulatedBackend(cfg, log)}
	opts := gpu.BindOptions{
		PlatformIndex: -1,
		BuildOptions:  fmt.Sprintf("-D INPUT_SIZE=%d -D TAPS_SIZE=%d", inputCount, tapsCount),
	}
	s, err := gpu.Bind(p, opts, gpu.EmbeddedSource(), log)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })

	f := &fixture{session: s, probe: p}
	f.input = make([]int16, inputCount)
	for i := range f.input {
		f.input[i] = int16(i%7 - 3)
	}
	f.taps = make([]float32, tapsCount)
	for i := range f.taps {
		f.taps[i] = float32(i%3) * 0.25
	}

	f.bufs.Input, err = s.Allocate(gpu.BufferInput, inputCount*2, gpu.ReadOnly)
	require.NoError(t, err)
	f.bufs.Output, err = s.Allocate(gpu.BufferOutput, inputCount*4, gpu.WriteOnly)
	require.NoError(t, err)
	f.bufs.Taps, err = s.Allocate(gpu.BufferTaps, tapsCount*4, gpu.ReadOnly)
	require.NoError(t, err)
	_, err = s.WriteTo(f.bufs.Input, gpu.Int16Bytes(f.input))
	require.NoError(t, err)
	_, err = s.WriteTo(f.bufs.Taps, gpu.Float32Bytes(f.taps))
	require.NoError(t, err)
	return f
}

func TestScheduler_Launch(t *testing.T) {
	for _, policy := range []Policy{PolicyCovering, PolicyClamped} {
		t.Run(string(policy), func(t *testing.T) {
			const n, taps = 512, 16
			f := newFixture(t, gpu.EmulatedConfig{Workers: 4}, n, taps)
			sched := NewScheduler(policy, zaptest.NewLogger(t))
			assert.Equal(t, policy, sched.Policy())

			res, err := sched.Launch(f.session, f.bufs, taps, n)
			require.NoError(t, err)
			assert.Equal(t, 16, res.Geometry.Local)
			assert.Equal(t, 1, f.probe.launches)

			start, end, err := res.Event.ProfilingInfo()
			require.NoError(t, err)
			assert.Greater(t, end, start)

			out := make([]float32, n)
			_, err = f.session.ReadFrom(f.bufs.Output, gpu.Float32Bytes(out))
			require.NoError(t, err)
			for i := 0; i <= n-taps; i++ {
				var want float32
				for j := 0; j < taps; j++ {
					want += float32(f.input[i+j]) * f.taps[j]
				}
				require.InDelta(t, want, out[i], 1e-4, "output %d", i)
			}
			for i := n - taps + 1; i < n; i++ {
				assert.Zero(t, out[i], "work-items past the last output must not write")
			}
		})
	}
}

func TestScheduler_ArgumentBinding(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(b *Buffers)
		wantIndex int
	}{
		{
			name:      "output and taps swapped",
			mutate:    func(b *Buffers) { b.Output, b.Taps = b.Taps, b.Output },
			wantIndex: 1,
		},
		{
			name:      "input in taps slot",
			mutate:    func(b *Buffers) { b.Taps = b.Input },
			wantIndex: 2,
		},
		{
			name:      "missing input",
			mutate:    func(b *Buffers) { b.Input = nil },
			wantIndex: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, gpu.EmulatedConfig{}, 64, 8)
			bufs := f.bufs
			tt.mutate(&bufs)

			_, err := NewScheduler(PolicyCovering, nil).Launch(f.session, bufs, 8, 64)
			require.Error(t, err)
			assert.True(t, errors.Is(err, gpu.ErrArgumentBinding))
			var gerr *gpu.Error
			require.True(t, errors.As(err, &gerr))
			assert.Equal(t, tt.wantIndex, gerr.Index)
			assert.Zero(t, f.probe.launches, "nothing may be enqueued after a binding failure")
		})
	}

	t.Run("wrong access mode", func(t *testing.T) {
		f := newFixture(t, gpu.EmulatedConfig{}, 64, 8)
		rw, err := f.session.Allocate(gpu.BufferOutput, 64*4, gpu.ReadWrite)
		require.NoError(t, err)
		bufs := f.bufs
		bufs.Output = rw

		_, err = NewScheduler(PolicyCovering, nil).Launch(f.session, bufs, 8, 64)
		var gerr *gpu.Error
		require.True(t, errors.As(err, &gerr))
		assert.Equal(t, gpu.KindArgumentBinding, gerr.Kind)
		assert.Equal(t, 1, gerr.Index)
		assert.Contains(t, err.Error(), "must be write-only")
	})

	t.Run("released buffer", func(t *testing.T) {
		f := newFixture(t, gpu.EmulatedConfig{}, 64, 8)
		require.NoError(t, f.bufs.Taps.Release())

		_, err := NewScheduler(PolicyCovering, nil).Launch(f.session, f.bufs, 8, 64)
		var gerr *gpu.Error
		require.True(t, errors.As(err, &gerr))
		assert.Equal(t, gpu.KindArgumentBinding, gerr.Kind)
		assert.Equal(t, 2, gerr.Index)
	})

	for _, numArgs := range []int{2, 4} {
		t.Run(fmt.Sprintf("kernel takes %d arguments", numArgs), func(t *testing.T) {
			f := newFixture(t, gpu.EmulatedConfig{}, 64, 8)
			f.probe.numArgs = numArgs

			_, err := NewScheduler(PolicyCovering, nil).Launch(f.session, f.bufs, 8, 64)
			var gerr *gpu.Error
			require.True(t, errors.As(err, &gerr))
			assert.Equal(t, gpu.KindArgumentBinding, gerr.Kind)
			assert.Equal(t, min(numArgs, NumArgs), gerr.Index)
			assert.Zero(t, f.probe.launches)
		})
	}
}

func TestScheduler_LaunchErrors(t *testing.T) {
	t.Run("local size above device maximum", func(t *testing.T) {
		f := newFixture(t, gpu.EmulatedConfig{MaxWorkGroupSize: 8}, 64, 16)
		_, err := NewScheduler(PolicyCovering, nil).Launch(f.session, f.bufs, 16, 64)
		require.Error(t, err)
		assert.True(t, errors.Is(err, gpu.ErrLaunch))
		assert.Contains(t, err.Error(), "exceeds device maximum work-group size 8")
		assert.Zero(t, f.probe.launches)
	})

	t.Run("clamped geometry not a group multiple", func(t *testing.T) {
		f := newFixture(t, gpu.EmulatedConfig{}, 100, 16)
		_, err := NewScheduler(PolicyClamped, nil).Launch(f.session, f.bufs, 16, 100)
		assert.True(t, errors.Is(err, gpu.ErrLaunch))
		assert.Zero(t, f.probe.launches)
	})

	t.Run("closed session", func(t *testing.T) {
		f := newFixture(t, gpu.EmulatedConfig{}, 64, 8)
		require.NoError(t, f.session.Close())
		_, err := NewScheduler(PolicyCovering, nil).Launch(f.session, f.bufs, 8, 64)
		assert.Error(t, err)
		assert.Zero(t, f.probe.launches)
	})
}
