package feature

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/fractal/pkg/model"
)

func TestBuildVector_Length(t *testing.T) {
	closes := make([]float64, 31)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	for _, mode := range []model.Representation{model.LogReturnsZScore, model.RawReturns} {
		v, err := BuildVector(closes, mode)
		require.NoError(t, err)
		assert.Len(t, v, 30, mode)
	}
}

func TestBuildVector_UnknownMode(t *testing.T) {
	_, err := BuildVector([]float64{1, 2, 3}, "bogus")
	require.Error(t, err)

	_, err = BuildVector([]float64{1}, model.RawReturns)
	require.Error(t, err)
}

func TestBuildVector_ZScoreHasZeroMeanUnitVariance(t *testing.T) {
	closes := []float64{100, 101, 99, 103, 102, 105, 104, 108}
	v, err := BuildVector(closes, model.LogReturnsZScore)
	require.NoError(t, err)

	mean, std := meanStd(v)
	assert.InDelta(t, 0, mean, 1e-12)
	assert.InDelta(t, 1, std, 1e-12)
}

func TestBuildVector_RawReturnsRelativeToStart(t *testing.T) {
	v, err := BuildVector([]float64{100, 110, 90, 120}, model.RawReturns)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.1, -0.1, 0.2}, []float64(v), 1e-12)
}

func TestBuildVector_NonFiniteBecomesZero(t *testing.T) {
	// a zero close makes one log return -Inf and the next +Inf
	v, err := BuildVector([]float64{100, 0, 100, 101}, model.LogReturnsZScore)
	require.NoError(t, err)
	for _, x := range v {
		assert.False(t, math.IsNaN(x) || math.IsInf(x, 0))
	}

	raw, err := BuildVector([]float64{0, 1, 2}, model.RawReturns)
	require.NoError(t, err)
	assert.Equal(t, Vector{0, 0}, raw)
}

func TestBuildVector_FlatWindowIsZero(t *testing.T) {
	v, err := BuildVector([]float64{5, 5, 5, 5}, model.LogReturnsZScore)
	require.NoError(t, err)
	assert.Equal(t, Vector{0, 0, 0}, v)
}

func TestBuildVector_Deterministic(t *testing.T) {
	closes := []float64{10, 10.5, 10.2, 11, 10.8}
	a, _ := BuildVector(closes, model.LogReturnsZScore)
	b, _ := BuildVector(closes, model.LogReturnsZScore)
	assert.Equal(t, a, b)
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b Vector
		want float64
	}{
		{"identical", Vector{1, 2, 3}, Vector{1, 2, 3}, 1},
		{"opposite", Vector{1, 2, 3}, Vector{-1, -2, -3}, -1},
		{"orthogonal", Vector{1, 0}, Vector{0, 1}, 0},
		{"scaled", Vector{1, 2}, Vector{10, 20}, 1},
		{"zero vector", Vector{0, 0}, Vector{1, 1}, 0},
		{"length mismatch", Vector{1, 2}, Vector{1, 2, 3}, 0},
		{"empty", Vector{}, Vector{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCosine_Bounded(t *testing.T) {
	a := Vector{0.3, -1.2, 4.4, 0.01}
	b := Vector{-2, 0.5, 3.3, 7}
	c := Cosine(a, b)
	assert.LessOrEqual(t, c, 1.0)
	assert.GreaterOrEqual(t, c, -1.0)
}

func TestExtractWindowFeatures(t *testing.T) {
	closes := []float64{100, 102, 104, 103, 106, 108, 110}
	f := ExtractWindowFeatures(closes)

	assert.Greater(t, f.TrendSlope, 0.0)
	assert.Greater(t, f.RealizedVolatility, 0.0)
	assert.InDelta(t, 103.0/104-1, f.MaxDrawdown, 1e-12)
	assert.LessOrEqual(t, f.MaxDrawdown, 0.0)
	assert.Equal(t, model.RegimeTag(f.TrendBucket, f.VolBucket), f.RegimeTag)
}
