package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSize(t *testing.T) {
	tests := []struct {
		taps int
		want int
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{15, 16},
		{16, 16},
		{17, 32},
		{64, 64},
		{100, 128},
	}
	for _, tt := range tests {
		got := LocalSize(tt.taps)
		assert.Equal(t, tt.want, got, "taps=%d", tt.taps)
		assert.GreaterOrEqual(t, got, tt.taps)
		assert.Zero(t, got&(got-1), "local size %d is a power of two", got)
	}
}

func TestClampedGlobalSize(t *testing.T) {
	assert.Equal(t, 1024, ClampedGlobalSize(512))
	assert.Equal(t, 2048, ClampedGlobalSize(2048))
	assert.Equal(t, 2048, ClampedGlobalSize(1024))
	assert.Equal(t, 32, ClampedGlobalSize(16))
}

func TestCoveringGlobalSize(t *testing.T) {
	tests := []struct {
		name              string
		input, taps, want int
	}{
		{"default sizes", 512, 16, 512},
		{"exact fit", 64, 1, 64},
		{"one output", 16, 16, 16},
		{"padded to group", 100, 17, 96},
		{"large input", 100000, 16, 99985 + 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := LocalSize(tt.taps)
			got := CoveringGlobalSize(tt.input, tt.taps, local)
			assert.Equal(t, tt.want, got)
			assert.Zero(t, got%local)
			assert.GreaterOrEqual(t, got, tt.input-tt.taps+1)
			assert.Less(t, got-(tt.input-tt.taps+1), local, "at most one partial group")
		})
	}
}

func TestCompute(t *testing.T) {
	t.Run("covering", func(t *testing.T) {
		g, err := Compute(PolicyCovering, 16, 512)
		require.NoError(t, err)
		assert.Equal(t, Geometry{Policy: PolicyCovering, Local: 16, Global: 512}, g)
		assert.Equal(t, 32, g.Groups())
		assert.True(t, g.Covers(512, 16))
		assert.Equal(t, 15, g.Idle(512, 16))
	})

	t.Run("clamped", func(t *testing.T) {
		g, err := Compute(PolicyClamped, 16, 512)
		require.NoError(t, err)
		assert.Equal(t, 1024, g.Global)
		assert.True(t, g.Covers(512, 16))
		assert.Equal(t, 527, g.Idle(512, 16))
	})

	t.Run("clamped does not cover large inputs", func(t *testing.T) {
		g, err := Compute(PolicyClamped, 16, 4096)
		require.NoError(t, err)
		assert.Equal(t, 2048, g.Global)
		assert.False(t, g.Covers(4096, 16))
		assert.Zero(t, g.Idle(4096, 16))
	})

	errCases := []struct {
		name        string
		policy      Policy
		taps, input int
	}{
		{"zero taps", PolicyCovering, 0, 512},
		{"input shorter than taps", PolicyCovering, 16, 8},
		{"clamped size not a group multiple", PolicyClamped, 16, 100},
		{"unknown policy", Policy("greedy"), 16, 512},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.policy, tt.taps, tt.input)
			assert.Error(t, err)
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyCovering, p)

	p, err = ParsePolicy(" Clamped ")
	require.NoError(t, err)
	assert.Equal(t, PolicyClamped, p)

	_, err = ParsePolicy("doubling")
	assert.Error(t, err)
}
