package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// minScale guards against division by (near) zero when a column is constant.
const minScale = 1e-12

// Moments holds the population mean and standard deviation of a sample.
type Moments struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"` // population
}

// Describe computes the population moments of a sample.
func Describe(values []float64) Moments {
	if len(values) == 0 {
		return Moments{}
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	return Moments{
		Count:  len(values),
		Mean:   mean,
		StdDev: std,
	}
}

// Scale returns the divisor to use when standardizing: the standard deviation,
// or 1 for constant and empty samples.
func (m Moments) Scale() float64 {
	if m.StdDev < minScale || math.IsNaN(m.StdDev) {
		return 1
	}
	return m.StdDev
}

// Mode returns the most frequent value; ties resolve to the smallest value.
// The second return is false for an empty sample.
func Mode(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	_, top := stat.Mode(values, nil)
	counts := make(map[float64]float64, len(values))
	for _, v := range values {
		counts[v]++
	}
	best := math.Inf(1)
	for v, n := range counts {
		if n == top && v < best {
			best = v
		}
	}
	return best, true
}
