package rerank

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeight_AtZeroIsOne(t *testing.T) {
	r := NewReranker(DefaultTimeDecayConfig())
	assert.Equal(t, 1.0, r.Weight(0))
}

func TestWeight_StrictlyDecreasing(t *testing.T) {
	r := NewReranker(DefaultTimeDecayConfig())
	prev := r.Weight(0)
	for age := 0.5; age <= 30; age += 0.5 {
		w := r.Weight(age)
		assert.Less(t, w, prev, "age=%v", age)
		assert.Greater(t, w, 0.0)
		prev = w
	}
}

func TestWeight_NegativeAgeClamps(t *testing.T) {
	r := NewReranker(DefaultTimeDecayConfig())
	assert.Equal(t, 1.0, r.Weight(-3))
}

func TestWeight_Disabled(t *testing.T) {
	r := NewReranker(TimeDecayConfig{Enabled: false, Lambda: 0.5})
	for _, age := range []float64{0, 1, 10, 100} {
		assert.Equal(t, 1.0, r.Weight(age))
	}
}

func TestHalfLifeRoundTrip(t *testing.T) {
	for _, lambda := range []float64{0.05, DefaultLambda, 0.3, 1} {
		assert.InDelta(t, math.Ln2, HalfLifeYears(lambda)*lambda, 1e-12)
		assert.InDelta(t, lambda, LambdaFromHalfLife(HalfLifeYears(lambda)), 1e-12)
	}
	assert.InDelta(t, 5.776, HalfLifeYears(DefaultLambda), 1e-3)

	r := NewReranker(DefaultTimeDecayConfig())
	assert.InDelta(t, 0.5, r.Weight(HalfLifeYears(DefaultLambda)), 1e-12)
}

func TestAgeYears(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.InDelta(t, 1.0, AgeYears(now.Add(-365*24*time.Hour-6*time.Hour), now), 1e-9)
	assert.Equal(t, 0.0, AgeYears(now.Add(48*time.Hour), now))
}

func TestRerank_PrefersRecentOnTies(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewReranker(DefaultTimeDecayConfig())

	ranked := r.Rerank([]Candidate{
		{Key: "old", Similarity: 0.9, TEnd: now.AddDate(-10, 0, 0)},
		{Key: "recent", Similarity: 0.9, TEnd: now.AddDate(-1, 0, 0)},
		{Key: "weak", Similarity: 0.2, TEnd: now},
	}, now)

	require.Len(t, ranked, 3)
	assert.Equal(t, "recent", ranked[0].Key)
	assert.Equal(t, "old", ranked[1].Key)
	assert.Equal(t, "weak", ranked[2].Key)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].FinalScore, ranked[i].FinalScore)
	}
}

func TestTopNAndFilter(t *testing.T) {
	now := time.Now()
	r := NewReranker(TimeDecayConfig{Enabled: false})
	cands := []Candidate{
		{Key: "a", Similarity: 0.5, TEnd: now},
		{Key: "b", Similarity: 0.9, TEnd: now},
		{Key: "c", Similarity: 0.7, TEnd: now},
	}

	top := r.TopN(cands, now, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].Key)
	assert.Equal(t, "c", top[1].Key)

	filtered := FilterByMinScore(r.Rerank(cands, now), 0.6)
	assert.Len(t, filtered, 2)
}
