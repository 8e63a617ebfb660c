package match

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// degenerateStd is the spread below which a distribution is treated as constant.
const degenerateStd = 1e-6

// Stats is the per-request mean and population standard deviation of one signal.
type Stats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// ComputeStats ignores absent values and returns nil when nothing is left.
func ComputeStats(values []*float64) *Stats {
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if v != nil && !math.IsNaN(*v) {
			present = append(present, *v)
		}
	}
	if len(present) == 0 {
		return nil
	}
	mean, std := stat.PopMeanStdDev(present, nil)
	return &Stats{Mean: mean, Std: std}
}

// Normalize calibrates value against stats, falling back to clamping the value itself.
func Normalize(value float64, stats *Stats) float64 {
	return normalize(value, stats, nil)
}

// NormalizeOr calibrates value against stats; without stats the fallback is clamped instead.
func NormalizeOr(value float64, stats *Stats, fallback float64) float64 {
	return normalize(value, stats, &fallback)
}

func normalize(value float64, stats *Stats, fallback *float64) float64 {
	if stats == nil {
		if fallback != nil {
			return Clamp01(*fallback)
		}
		return Clamp01(value)
	}
	if stats.Std <= degenerateStd {
		if value >= stats.Mean {
			return 1
		}
		return 0
	}
	return Clamp01(Sigmoid((value - stats.Mean) / stats.Std))
}

// Sigmoid is the logistic function, branched on sign so exp never overflows.
func Sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
