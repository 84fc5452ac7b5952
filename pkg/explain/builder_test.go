package explain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/fractal/pkg/model"
)

func rising(n int) []float64 {
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		closes[i] = price
		price *= 1.03
	}
	return closes
}

func TestLabel(t *testing.T) {
	b := NewBuilder(DefaultConfig())

	tests := []struct {
		stability float64
		want      string
	}{
		{0.95, ConfidenceHigh},
		{0.7, ConfidenceHigh},
		{0.69, ConfidenceMedium},
		{0.4, ConfidenceMedium},
		{0.39, ConfidenceLow},
		{0, ConfidenceLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Label(tt.stability), "stability=%v", tt.stability)
	}
}

func TestBuildExplanation(t *testing.T) {
	closes := rising(200)
	ret := 0.05
	matches := []model.Match{
		{Rank: 1, StartIndex: 10, EndIndex: 40, Similarity: 0.99, Outcome: &model.Outcome{Return: ret, MaxDrawdown: -0.01}},
		{Rank: 2, StartIndex: 50, EndIndex: 80, Similarity: 0.97},
	}
	stats := model.ForwardStats{
		HorizonDays: 30,
		Return:      model.Distribution{P10: 0.01, P50: 0.03, P90: 0.05, Mean: 0.03},
	}
	conf := model.Confidence{SampleSize: 2, StabilityScore: 0.43}

	exp := NewBuilder(DefaultConfig()).BuildExplanation(matches, closes, nil, stats, conf, 30, 30)
	require.NotNil(t, exp)

	assert.Equal(t, "strong_uptrend/low_vol", exp.Regime.Tag)
	assert.Equal(t, ConfidenceMedium, exp.ConfidenceLabel)
	require.Len(t, exp.Matches, 2)
	assert.Equal(t, 1.0, exp.RegimeAgreement)
	assert.True(t, exp.Matches[0].SameRegime)
	require.NotNil(t, exp.Matches[0].Return)
	assert.Equal(t, ret, *exp.Matches[0].Return)
	assert.Nil(t, exp.Matches[1].Return)

	joined := strings.Join(exp.Caveats, "\n")
	assert.Contains(t, joined, "not a forecast")
	assert.Contains(t, joined, "Only 2 analogues")
	assert.NotContains(t, joined, "widely dispersed")
	assert.Contains(t, exp.Summary, "Samples: 2")
}

func TestBuildExplanation_Dated(t *testing.T) {
	closes := rising(200)
	day0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	timestamps := make([]time.Time, len(closes))
	for i := range timestamps {
		timestamps[i] = day0.AddDate(0, 0, i)
	}
	matches := []model.Match{{Rank: 1, StartIndex: 10, EndIndex: 40, EndTimestamp: timestamps[40]}}
	b := NewBuilder(DefaultConfig())

	exp := b.BuildExplanation(matches, closes, timestamps, model.ForwardStats{}, model.Confidence{}, 30, 30)
	require.NotNil(t, exp.WindowStart)
	require.NotNil(t, exp.WindowEnd)
	assert.Equal(t, timestamps[169], *exp.WindowStart)
	assert.Equal(t, timestamps[199], *exp.WindowEnd)
	require.Len(t, exp.Matches, 1)
	require.NotNil(t, exp.Matches[0].StartTimestamp)
	assert.Equal(t, timestamps[10], *exp.Matches[0].StartTimestamp)
	assert.Equal(t, timestamps[40], exp.Matches[0].EndTimestamp)

	// misaligned timestamps are ignored rather than misdating matches
	exp = b.BuildExplanation(matches, closes, timestamps[:100], model.ForwardStats{}, model.Confidence{}, 30, 30)
	assert.Nil(t, exp.WindowStart)
	assert.Nil(t, exp.Matches[0].StartTimestamp)
}

func TestBuildExplanation_DispersionCaveats(t *testing.T) {
	stats := model.ForwardStats{
		HorizonDays: 30,
		Return:      model.Distribution{P10: -0.2, P50: 0.01, P90: 0.25},
	}
	conf := model.Confidence{SampleSize: 40, StabilityScore: 0.6}

	exp := NewBuilder(DefaultConfig()).BuildExplanation(nil, rising(100), nil, stats, conf, 30, 30)

	joined := strings.Join(exp.Caveats, "\n")
	assert.Contains(t, joined, "widely dispersed")
	assert.Contains(t, joined, "not consistent")
	assert.NotContains(t, joined, "small sample")
	assert.Empty(t, exp.Matches)
}

func TestBuildExplanation_NeverRecommends(t *testing.T) {
	stats := model.ForwardStats{Return: model.Distribution{P10: -0.5, P90: 0.5}}
	exp := NewBuilder(DefaultConfig()).BuildExplanation(nil, rising(100), nil, stats, model.Confidence{}, 30, 30)

	for _, c := range append(exp.Caveats, exp.Summary) {
		lower := strings.ToLower(c)
		for _, word := range []string{"buy", "sell", "should"} {
			assert.NotContains(t, lower, word)
		}
	}
}
