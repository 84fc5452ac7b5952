package feature

import (
	"github.com/tunogya/fractal/pkg/model"
)

// ExtractWindowFeatures computes the structured statistics persisted for a query window
func ExtractWindowFeatures(closes []float64) model.WindowFeatures {
	slope := calculateTrendSlope(closes)
	rv := calculateRealizedVolatility(closes)
	trend := model.ClassifyTrendBucket(slope)
	vol := model.ClassifyVolBucket(rv)

	return model.WindowFeatures{
		TrendSlope:         slope,
		RealizedVolatility: rv,
		MaxDrawdown:        calculateMaxDrawdown(closes),
		TrendBucket:        trend,
		VolBucket:          vol,
		RegimeTag:          model.RegimeTag(trend, vol),
	}
}

// calculateTrendSlope calculates linear regression slope of close prices,
// expressed as percentage change from the first close per bar
func calculateTrendSlope(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}

	basePrice := closes[0]
	if basePrice == 0 {
		return 0
	}

	n := float64(len(closes))
	var sumX, sumY, sumXY, sumX2 float64
	for i, c := range closes {
		x := float64(i)
		y := finite((c - basePrice) / basePrice)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return 0
	}

	return (n*sumXY - sumX*sumY) / denominator
}

// calculateRealizedVolatility calculates standard deviation of simple returns
func calculateRealizedVolatility(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}

	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			returns[i-1] = finite((closes[i] - closes[i-1]) / closes[i-1])
		}
	}

	_, std := meanStd(returns)
	return std
}

// calculateMaxDrawdown calculates the deepest peak-to-trough move, as a value <= 0
func calculateMaxDrawdown(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}

	peak := closes[0]
	maxDD := 0.0
	for _, c := range closes {
		if c > peak {
			peak = c
		}
		if peak > 0 {
			dd := c/peak - 1
			if dd < maxDD {
				maxDD = dd
			}
		}
	}

	return maxDD
}
