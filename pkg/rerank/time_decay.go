package rerank

import (
	"math"
	"sort"
	"time"
)

// DefaultLambda is the default decay rate per year (half-life about 5.8 years)
const DefaultLambda = 0.12

const daysPerYear = 365.25

// TimeDecayConfig holds configuration for age decay reranking
type TimeDecayConfig struct {
	Enabled bool
	Lambda  float64 // Exponential decay rate per year (higher = faster decay)
}

// DefaultTimeDecayConfig returns a default configuration
func DefaultTimeDecayConfig() TimeDecayConfig {
	return TimeDecayConfig{
		Enabled: true,
		Lambda:  DefaultLambda,
	}
}

// HalfLifeYears converts a decay rate into its half-life
func HalfLifeYears(lambda float64) float64 {
	return math.Ln2 / lambda
}

// LambdaFromHalfLife converts a half-life in years into a decay rate
func LambdaFromHalfLife(years float64) float64 {
	return math.Ln2 / years
}

// AgeYears returns the age of t relative to now, clamped at 0
func AgeYears(t, now time.Time) float64 {
	age := now.Sub(t).Hours() / 24 / daysPerYear
	if age < 0 {
		return 0
	}
	return age
}

// Candidate is anything that can be reranked by age
type Candidate struct {
	Key        string
	Similarity float64
	TEnd       time.Time
}

// RankedResult extends Candidate with reranked score
type RankedResult struct {
	Candidate
	TimeWeight float64
	FinalScore float64
}

// Reranker performs age-based reranking of similarity results
type Reranker struct {
	config TimeDecayConfig
}

// NewReranker creates a new reranker with the given configuration
func NewReranker(config TimeDecayConfig) *Reranker {
	if config.Lambda <= 0 {
		config.Lambda = DefaultLambda
	}
	return &Reranker{config: config}
}

// Weight returns exp(-lambda * ageYears), or 1 when decay is disabled.
// Negative ages are clamped to 0.
func (r *Reranker) Weight(ageYears float64) float64 {
	if !r.config.Enabled {
		return 1
	}
	if ageYears < 0 {
		ageYears = 0
	}
	return math.Exp(-r.config.Lambda * ageYears)
}

// Enabled reports whether decay is applied
func (r *Reranker) Enabled() bool {
	return r.config.Enabled
}

// Rerank weights each candidate by its age relative to now and sorts by final score
// (descending). Ties keep their input order.
func (r *Reranker) Rerank(candidates []Candidate, now time.Time) []RankedResult {
	ranked := make([]RankedResult, len(candidates))

	for i, c := range candidates {
		weight := r.Weight(AgeYears(c.TEnd, now))
		ranked[i] = RankedResult{
			Candidate:  c,
			TimeWeight: weight,
			FinalScore: c.Similarity * weight,
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})

	return ranked
}

// TopN returns the top N results after reranking
func (r *Reranker) TopN(candidates []Candidate, now time.Time, n int) []RankedResult {
	ranked := r.Rerank(candidates, now)
	if len(ranked) <= n {
		return ranked
	}
	return ranked[:n]
}

// FilterByMinScore filters results by minimum final score
func FilterByMinScore(results []RankedResult, minScore float64) []RankedResult {
	var filtered []RankedResult
	for _, r := range results {
		if r.FinalScore >= minScore {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
