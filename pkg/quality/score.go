package quality

import (
	"math"

	"github.com/cuemby/hostfix/pkg/types"
	"github.com/montanaflynn/stats"
)

// Weights controls how the composite score is built
type Weights struct {
	SuccessRate float64 `yaml:"success_rate"`
	Speed       float64 `yaml:"speed"`
	Stability   float64 `yaml:"stability"`

	// SpeedCeilingMs is the average latency at which the speed component
	// reaches zero.
	SpeedCeilingMs float64 `yaml:"speed_ceiling_ms"`

	// VarianceScale is the variance at which the stability component
	// halves.
	VarianceScale float64 `yaml:"variance_scale"`
}

// DefaultWeights returns the 40/40/20 weighting
func DefaultWeights() Weights {
	return Weights{
		SuccessRate:    40,
		Speed:          40,
		Stability:      20,
		SpeedCeilingMs: 1000,
		VarianceScale:  1000,
	}
}

// ComputeScore scores a record. Untested records score zero.
func (w Weights) ComputeScore(rec *types.AddressRecord) float64 {
	if rec == nil || rec.TestCount == 0 {
		return 0
	}
	avg := rec.AvgLatencyMs()
	if rec.LatencyCount == 0 {
		avg = math.Inf(1)
	}
	return w.combine(rec.SuccessRate(), avg, variance(rec.Latencies()))
}

func (w Weights) combine(successRate, avgLatencyMs, variance float64) float64 {
	speed := 1.0
	if w.SpeedCeilingMs > 0 {
		speed = clamp(1-avgLatencyMs/w.SpeedCeilingMs, 0, 1)
	}

	stability := 1.0
	if w.VarianceScale > 0 {
		stability = 1 / (1 + variance/w.VarianceScale)
	}

	return w.SuccessRate*successRate + w.Speed*speed + w.Stability*stability
}

func variance(latencies []float64) float64 {
	if len(latencies) < 2 {
		return 0
	}
	v, err := stats.PopulationVariance(latencies)
	if err != nil {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
