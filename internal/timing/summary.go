package timing

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes one phase over several trials, in milliseconds.
type Stats struct {
	Phase    Phase
	N        int
	Median   float64
	Mean     float64
	Variance float64
	StdDev   float64
	Min      float64
	Max      float64
}

// Summarize computes per-phase statistics over reports, in Phases order. It
// returns nil for no reports. Variance is the unbiased sample variance and
// is zero for a single trial.
func Summarize(reports []Report) []Stats {
	if len(reports) == 0 {
		return nil
	}
	out := make([]Stats, 0, len(Phases))
	for _, phase := range Phases {
		x := make([]float64, len(reports))
		for i, r := range reports {
			x[i] = r.Sample(phase).Millis()
		}
		out = append(out, summarize(phase, x))
	}
	return out
}

func summarize(phase Phase, x []float64) Stats {
	s := Stats{
		Phase: phase,
		N:     len(x),
		Min:   floats.Min(x),
		Max:   floats.Max(x),
	}
	if len(x) == 1 {
		s.Median, s.Mean = x[0], x[0]
		return s
	}
	s.Mean, s.Variance = stat.MeanVariance(x, nil)
	s.StdDev = math.Sqrt(s.Variance)

	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		s.Median = sorted[mid]
	} else {
		s.Median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return s
}
