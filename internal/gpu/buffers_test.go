package gpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestSession(t *testing.T, cfg EmulatedConfig) *Session {
	t.Helper()
	log := zaptest.NewLogger(t)
	s, err := Bind(NewEmulatedBackend(cfg, log), BindOptions{
		PlatformIndex: -1,
		BuildOptions:  "-D INPUT_SIZE=64 -D TAPS_SIZE=8",
	}, EmbeddedSource(), log)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func TestSession_AllocateAndTransfer(t *testing.T) {
	s := newTestSession(t, EmulatedConfig{})

	b, err := s.Allocate(BufferInput, 8, ReadWrite)
	require.NoError(t, err)
	assert.Equal(t, BufferInput, b.Kind())
	assert.Equal(t, ReadWrite, b.Access())
	assert.Equal(t, 8, b.Size())
	assert.NotNil(t, b.Handle())

	samples := []int16{1, -2, 3, -4}
	wev, err := s.WriteTo(b, Int16Bytes(samples))
	require.NoError(t, err)
	start, end, err := wev.ProfilingInfo()
	require.NoError(t, err)
	assert.Greater(t, end, start)

	got := make([]int16, 4)
	_, err = s.ReadFrom(b, Int16Bytes(got))
	require.NoError(t, err)
	assert.Equal(t, samples, got)

	require.NoError(t, b.Release())
	require.NoError(t, b.Release(), "release is idempotent")
}

func TestSession_TransferRules(t *testing.T) {
	s := newTestSession(t, EmulatedConfig{})

	t.Run("write once", func(t *testing.T) {
		b, err := s.Allocate(BufferTaps, 4, ReadOnly)
		require.NoError(t, err)
		defer b.Release()
		_, err = s.WriteTo(b, Float32Bytes([]float32{0.5}))
		require.NoError(t, err)
		_, err = s.WriteTo(b, Float32Bytes([]float32{0.25}))
		assert.True(t, errors.Is(err, ErrTransfer))
	})

	t.Run("read once", func(t *testing.T) {
		b, err := s.Allocate(BufferOutput, 4, WriteOnly)
		require.NoError(t, err)
		defer b.Release()
		out := make([]float32, 1)
		_, err = s.ReadFrom(b, Float32Bytes(out))
		require.NoError(t, err)
		_, err = s.ReadFrom(b, Float32Bytes(out))
		assert.True(t, errors.Is(err, ErrTransfer))
	})

	t.Run("size must match exactly", func(t *testing.T) {
		b, err := s.Allocate(BufferInput, 8, ReadOnly)
		require.NoError(t, err)
		defer b.Release()
		_, err = s.WriteTo(b, make([]byte, 6))
		assert.True(t, errors.Is(err, ErrTransfer))
		_, err = s.WriteTo(b, make([]byte, 16))
		assert.True(t, errors.Is(err, ErrTransfer))
		_, err = s.ReadFrom(b, make([]byte, 4))
		assert.True(t, errors.Is(err, ErrTransfer))
	})

	t.Run("released buffer", func(t *testing.T) {
		b, err := s.Allocate(BufferInput, 8, ReadOnly)
		require.NoError(t, err)
		require.NoError(t, b.Release())
		_, err = s.WriteTo(b, make([]byte, 8))
		assert.True(t, errors.Is(err, ErrTransfer))
	})

	t.Run("buffer from another session", func(t *testing.T) {
		other := newTestSession(t, EmulatedConfig{})
		b, err := other.Allocate(BufferInput, 8, ReadOnly)
		require.NoError(t, err)
		_, err = s.WriteTo(b, make([]byte, 8))
		assert.True(t, errors.Is(err, ErrTransfer))
	})
}

func TestSession_AllocateFailures(t *testing.T) {
	s := newTestSession(t, EmulatedConfig{GlobalMemory: 4096})

	_, err := s.Allocate(BufferInput, 0, ReadOnly)
	assert.True(t, errors.Is(err, ErrBufferAllocation))

	_, err = s.Allocate(BufferInput, 2048, ReadOnly)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBufferAllocation))
	assert.Contains(t, err.Error(), "max allocation")
}

func TestSession_CloseReleasesOutstandingBuffers(t *testing.T) {
	log := zaptest.NewLogger(t)
	s, err := Bind(NewEmulatedBackend(EmulatedConfig{}, log), BindOptions{PlatformIndex: -1}, EmbeddedSource(), log)
	require.NoError(t, err)
	ctx := s.context.(*emulatedContext)

	_, err = s.Allocate(BufferInput, 1024, ReadOnly)
	require.NoError(t, err)
	_, err = s.Allocate(BufferOutput, 2048, WriteOnly)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Equal(t, 0, ctx.Live())

	_, err = s.Allocate(BufferTaps, 64, ReadOnly)
	assert.True(t, errors.Is(err, ErrBufferAllocation))
}
