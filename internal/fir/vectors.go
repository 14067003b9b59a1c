package fir

import (
	"fmt"
	"math/rand"
	"strings"
)

// Pattern selects how test vectors are generated.
type Pattern string

const (
	// PatternAlternating yields inputs alternating 0/10 for the first
	// tapsCount samples and 0/20 afterwards, with taps alternating 0.5/0.
	PatternAlternating Pattern = "alternating"
	// PatternRandom yields seeded uniform inputs in [-1000, 1000] and taps
	// in [-1, 1] quantized to multiples of 1/64. Every partial sum is then
	// exactly representable in float32 for up to 256 taps, so results do not
	// depend on accumulation order or fused multiply-add.
	PatternRandom Pattern = "random"
)

func ParsePattern(s string) (Pattern, error) {
	switch p := Pattern(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PatternAlternating, nil
	case PatternAlternating, PatternRandom:
		return p, nil
	default:
		return "", fmt.Errorf("unknown input pattern %q (want %s or %s)", s, PatternAlternating, PatternRandom)
	}
}

// Generate builds inputCount input samples and tapsCount coefficients. The
// same arguments always produce the same vectors.
func Generate(pattern Pattern, inputCount, tapsCount int, seed int64) ([]int16, []float32, error) {
	if tapsCount <= 0 || inputCount < tapsCount {
		return nil, nil, fmt.Errorf("invalid sizes: %d inputs, %d taps", inputCount, tapsCount)
	}
	input := make([]int16, inputCount)
	taps := make([]float32, tapsCount)

	switch pattern {
	case PatternAlternating:
		for i := range input {
			switch {
			case i%2 == 0:
				input[i] = 0
			case i < tapsCount:
				input[i] = 10
			default:
				input[i] = 20
			}
		}
		for i := range taps {
			if i%2 == 0 {
				taps[i] = 0.5
			}
		}
	case PatternRandom:
		rng := rand.New(rand.NewSource(seed))
		for i := range input {
			input[i] = int16(rng.Intn(2001) - 1000)
		}
		for i := range taps {
			taps[i] = float32(rng.Intn(129)-64) / 64
		}
	default:
		return nil, nil, fmt.Errorf("unknown input pattern %q", pattern)
	}
	return input, taps, nil
}
