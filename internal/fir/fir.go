// Package fir is the host reference for the accelerator filter.
package fir

import (
	"fmt"
	"math"
)

// Convolve applies a direct-form FIR filter. The result has len(input)
// elements; output[i] = sum(input[i+j] * taps[j]) for 0 <= i <= n-t and the
// remaining elements are zero.
func Convolve(input []int16, taps []float32) []float32 {
	n, t := len(input), len(taps)
	output := make([]float32, n)
	if t == 0 || n < t {
		return output
	}
	for i := 0; i <= n-t; i++ {
		var acc float32
		for j := 0; j < t; j++ {
			acc += float32(float32(input[i+j]) * taps[j])
		}
		output[i] = acc
	}
	return output
}

// Comparison is the outcome of checking accelerator output against the
// reference.
type Comparison struct {
	// Checked is the number of valid output indices compared.
	Checked    int
	Mismatches int
	// FirstMismatch is the lowest disagreeing index, or -1.
	FirstMismatch int
	MaxAbsError   float64
	Tolerance     float64
}

// OK reports whether every checked index agreed within tolerance.
func (c Comparison) OK() bool {
	return c.Mismatches == 0
}

func (c Comparison) String() string {
	if c.OK() {
		return fmt.Sprintf("%d outputs match (max abs error %.3g, tolerance %.3g)", c.Checked, c.MaxAbsError, c.Tolerance)
	}
	return fmt.Sprintf("%d of %d outputs differ by more than %.3g (first at index %d, max abs error %.3g)",
		c.Mismatches, c.Checked, c.Tolerance, c.FirstMismatch, c.MaxAbsError)
}

// Compare checks actual against expected over the valid output range
// [0, len(expected)-tapsCount]. NaN on either side counts as a mismatch.
func Compare(expected, actual []float32, tapsCount int, tolerance float64) (Comparison, error) {
	if tapsCount <= 0 || tapsCount > len(expected) {
		return Comparison{}, fmt.Errorf("taps count %d out of range for %d outputs", tapsCount, len(expected))
	}
	if len(actual) != len(expected) {
		return Comparison{}, fmt.Errorf("output length mismatch: expected %d, got %d", len(expected), len(actual))
	}
	if tolerance < 0 || math.IsNaN(tolerance) {
		return Comparison{}, fmt.Errorf("invalid tolerance %v", tolerance)
	}

	c := Comparison{FirstMismatch: -1, Tolerance: tolerance}
	for i := 0; i <= len(expected)-tapsCount; i++ {
		c.Checked++
		diff := math.Abs(float64(expected[i]) - float64(actual[i]))
		if math.IsNaN(diff) {
			diff = math.Inf(1)
		}
		c.MaxAbsError = math.Max(c.MaxAbsError, diff)
		if diff > tolerance {
			if c.FirstMismatch < 0 {
				c.FirstMismatch = i
			}
			c.Mismatches++
		}
	}
	return c, nil
}
