package outcome

import (
	"fmt"
	"math"
	"sort"

	"github.com/tunogya/fractal/pkg/model"
)

// Stability weights
const (
	sampleWeight    = 0.6
	stabilityWeight = 0.4
)

// Config holds configuration for outcome aggregation
type Config struct {
	SampleFloor int // sample count at which the sample factor saturates
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		SampleFloor: 25,
	}
}

// Calculator computes forward outcomes and aggregates them
type Calculator struct {
	cfg Config
}

// NewCalculator creates a new outcome calculator
func NewCalculator(cfg Config) *Calculator {
	if cfg.SampleFloor <= 0 {
		cfg.SampleFloor = DefaultConfig().SampleFloor
	}
	return &Calculator{cfg: cfg}
}

// Forward computes the return and the max drawdown over [end, end+horizon].
// It returns false when the horizon runs past the series or the base close is not positive.
func Forward(closes []float64, end, horizon int) (model.Outcome, bool) {
	if end < 0 || horizon <= 0 || end+horizon >= len(closes) {
		return model.Outcome{}, false
	}

	basePrice := closes[end]
	if basePrice <= 0 {
		return model.Outcome{}, false
	}

	return model.Outcome{
		Return:      closes[end+horizon]/basePrice - 1,
		MaxDrawdown: calculateMDD(closes[end : end+horizon+1]),
	}, true
}

// calculateMDD computes the deepest peak-to-trough decline as a value <= 0
func calculateMDD(closes []float64) float64 {
	peak := closes[0]
	maxDD := 0.0

	for _, c := range closes {
		if c > peak {
			peak = c
		}
		if peak <= 0 {
			continue
		}
		dd := c/peak - 1
		if dd < maxDD {
			maxDD = dd
		}
	}

	return maxDD
}

// Aggregate computes percentile statistics and confidence over a set of outcomes
func (c *Calculator) Aggregate(outcomes []model.Outcome, horizon int) (model.ForwardStats, model.Confidence) {
	stats := model.ForwardStats{HorizonDays: horizon}
	if len(outcomes) == 0 {
		return stats, model.Confidence{}
	}

	returns := make([]float64, len(outcomes))
	drawdowns := make([]float64, len(outcomes))
	for i, o := range outcomes {
		returns[i] = o.Return
		drawdowns[i] = o.MaxDrawdown
	}

	stats.Return = Summarize(returns)
	stats.MaxDrawdown = Summarize(drawdowns)

	return stats, model.Confidence{
		SampleSize:     len(outcomes),
		StabilityScore: Stability(returns, c.cfg.SampleFloor),
	}
}

// Summarize returns the p10/p50/p90 and mean of values
func Summarize(values []float64) model.Distribution {
	if len(values) == 0 {
		return model.Distribution{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return model.Distribution{
		P10:  percentile(sorted, 10),
		P50:  percentile(sorted, 50),
		P90:  percentile(sorted, 90),
		Mean: mean(values),
	}
}

// Stability blends depth of evidence with dispersion of returns:
// min(n/floor, 1)*0.6 + max(0, 1-2*stdDev)*0.4
func Stability(returns []float64, floor int) float64 {
	if len(returns) == 0 {
		return 0
	}
	if floor <= 0 {
		floor = DefaultConfig().SampleFloor
	}

	sampleFactor := math.Min(float64(len(returns))/float64(floor), 1)
	stabilityFactor := math.Max(0, 1-2*stdDev(returns))

	return sampleFactor*sampleWeight + stabilityFactor*stabilityWeight
}

// mean calculates the arithmetic mean
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev calculates the population standard deviation
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	sumSquares := 0.0
	for _, v := range values {
		d := v - m
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}

// percentile calculates the p-th percentile (p in 0-100) of sorted values
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	// Linear interpolation method
	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))

	if lower == upper {
		return sorted[lower]
	}

	fraction := rank - float64(lower)
	return sorted[lower] + fraction*(sorted[upper]-sorted[lower])
}

// Describe returns a one-line summary of forward stats
func Describe(s model.ForwardStats, c model.Confidence) string {
	return fmt.Sprintf(
		"Horizon: %d bars | Samples: %d | Mean: %.4f | P10: %.4f | P50: %.4f | P90: %.4f | MDD50: %.4f | Stability: %.2f",
		s.HorizonDays, c.SampleSize, s.Return.Mean, s.Return.P10, s.Return.P50, s.Return.P90, s.MaxDrawdown.P50, c.StabilityScore,
	)
}
