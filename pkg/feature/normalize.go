package feature

import (
	"fmt"
	"math"

	"github.com/tunogya/fractal/pkg/model"
)

// Vector is a fixed-length window representation used for similarity search
type Vector []float64

// BuildVector converts windowLen+1 consecutive closes into a vector of length windowLen.
// It reads nothing outside closes. Non-finite derived values contribute 0.
func BuildVector(closes []float64, mode model.Representation) (Vector, error) {
	if len(closes) < 2 {
		return nil, fmt.Errorf("need at least 2 closes, got %d", len(closes))
	}

	switch mode {
	case model.LogReturnsZScore:
		return zScore(LogReturns(closes)), nil
	case model.RawReturns:
		return RawReturns(closes), nil
	default:
		return nil, fmt.Errorf("unknown representation %q", mode)
	}
}

// LogReturns calculates ln(close[i]/close[i-1]) for every consecutive pair
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}

	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns[i-1] = finite(math.Log(closes[i] / closes[i-1]))
	}
	return returns
}

// RawReturns calculates close[i]/close[0] - 1 for i = 1..n-1
func RawReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}

	base := closes[0]
	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns[i-1] = finite(closes[i]/base - 1)
	}
	return returns
}

// zScore normalizes in place to zero mean and unit variance.
// A zero-variance window becomes all zeros.
func zScore(values []float64) Vector {
	mean, std := meanStd(values)
	out := make(Vector, len(values))
	if std == 0 {
		return out
	}
	for i, v := range values {
		out[i] = finite((v - mean) / std)
	}
	return out
}

// finite maps NaN and ±Inf to 0
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// meanStd calculates mean and population standard deviation
func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	sumSquares := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	variance := sumSquares / float64(len(values))
	std = math.Sqrt(variance)

	return mean, std
}
