package dispatch

import (
	"fmt"
	"math/bits"
	"strings"
)

// Policy selects how the global work size is derived.
type Policy string

const (
	// PolicyCovering launches the smallest whole number of work-groups that
	// covers every valid output index.
	PolicyCovering Policy = "covering"
	// PolicyClamped launches 2*min(inputCount, 1024) work-items regardless
	// of the tap count and relies on the kernel's index guard.
	PolicyClamped Policy = "clamped"
)

// maxClampedBase caps the input count used by PolicyClamped.
const maxClampedBase = 1024

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyCovering, nil
	case PolicyCovering, PolicyClamped:
		return p, nil
	default:
		return "", fmt.Errorf("unknown geometry policy %q (want %s or %s)", s, PolicyCovering, PolicyClamped)
	}
}

// Geometry is the 1-dimensional launch shape of one kernel invocation.
type Geometry struct {
	Policy Policy
	Local  int
	Global int
}

// Groups returns the number of work-groups launched.
func (g Geometry) Groups() int {
	return g.Global / g.Local
}

// Covers reports whether every valid output index [0, inputCount-tapsCount]
// is assigned a work-item.
func (g Geometry) Covers(inputCount, tapsCount int) bool {
	return g.Global >= inputCount-tapsCount+1
}

// Idle returns the number of work-items that fall past the last valid output
// and exit through the kernel's index guard.
func (g Geometry) Idle(inputCount, tapsCount int) int {
	return max(0, g.Global-(inputCount-tapsCount+1))
}

// LocalSize returns the smallest power of two >= tapsCount.
func LocalSize(tapsCount int) int {
	if tapsCount <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(tapsCount-1))
}

// ClampedGlobalSize returns 2*min(inputCount, 1024).
func ClampedGlobalSize(inputCount int) int {
	return 2 * min(inputCount, maxClampedBase)
}

// CoveringGlobalSize returns ceil((inputCount-tapsCount+1)/local)*local.
func CoveringGlobalSize(inputCount, tapsCount, local int) int {
	outputs := inputCount - tapsCount + 1
	return (outputs + local - 1) / local * local
}

// Compute derives the launch geometry for a filter of tapsCount taps over
// inputCount samples.
func Compute(policy Policy, tapsCount, inputCount int) (Geometry, error) {
	if tapsCount <= 0 {
		return Geometry{}, fmt.Errorf("taps count must be positive, got %d", tapsCount)
	}
	if inputCount < tapsCount {
		return Geometry{}, fmt.Errorf("input count %d is smaller than taps count %d", inputCount, tapsCount)
	}

	g := Geometry{Policy: policy, Local: LocalSize(tapsCount)}
	switch policy {
	case PolicyCovering:
		g.Global = CoveringGlobalSize(inputCount, tapsCount, g.Local)
	case PolicyClamped:
		g.Global = ClampedGlobalSize(inputCount)
		if g.Global%g.Local != 0 {
			return Geometry{}, fmt.Errorf("clamped global size %d is not a multiple of local size %d", g.Global, g.Local)
		}
	default:
		return Geometry{}, fmt.Errorf("unknown geometry policy %q", policy)
	}
	return g, nil
}
