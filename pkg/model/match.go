package model

import "time"

// Representation selects how closes are turned into a window vector
type Representation string

const (
	// LogReturnsZScore is log returns normalized to zero mean / unit variance within the window
	LogReturnsZScore Representation = "log_returns_zscore"
	// RawReturns is close[i]/close[0] - 1, keeping literal return magnitude
	RawReturns Representation = "raw_returns"
)

// Valid reports whether r is a known representation
func (r Representation) Valid() bool {
	return r == LogReturnsZScore || r == RawReturns
}

// MatchRequest asks for the historical analogues of the latest window of a series
type MatchRequest struct {
	Symbol             string         `json:"symbol" validate:"required"`
	Timeframe          string         `json:"timeframe" default:"1d" validate:"required"`
	WindowLen          int            `json:"windowLen" validate:"oneof=30 60 90"`
	TopK               int            `json:"topK" default:"10" validate:"gte=1,lte=200"`
	ForwardHorizonDays int            `json:"forwardHorizonDays" default:"30" validate:"gte=1,lte=365"`
	AsOf               *time.Time     `json:"asOf,omitempty"`
	SimilarityMode     Representation `json:"similarityMode,omitempty" validate:"omitempty,oneof=log_returns_zscore raw_returns"`
	IncludeSeriesUsed  bool           `json:"includeSeriesUsed,omitempty"`
}

// Mode returns the representation to use: the explicit one, else raw returns under asOf
func (r *MatchRequest) Mode() Representation {
	if r.SimilarityMode != "" {
		return r.SimilarityMode
	}
	if r.AsOf != nil {
		return RawReturns
	}
	return LogReturnsZScore
}

// Outcome is what happened over the forward horizon after a window ended
type Outcome struct {
	Return      float64 `json:"return"`
	MaxDrawdown float64 `json:"maxDrawdown"` // <= 0
}

// Match is one historical window similar to the current one
type Match struct {
	StartIndex     int       `json:"startIndex"`
	EndIndex       int       `json:"endIndex"`
	StartTimestamp time.Time `json:"startTimestamp"`
	EndTimestamp   time.Time `json:"endTimestamp"`
	Similarity     float64   `json:"similarity"`
	AgeWeight      float64   `json:"ageWeight"`
	Score          float64   `json:"score"` // similarity x age weight
	Rank           int       `json:"rank"`
	Outcome        *Outcome  `json:"outcome,omitempty"`
}

// Distribution is a percentile summary of a set of values
type Distribution struct {
	P10  float64 `json:"p10"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	Mean float64 `json:"mean"`
}

// ForwardStats summarizes the outcomes of all matches
type ForwardStats struct {
	HorizonDays int          `json:"horizonDays"`
	Return      Distribution `json:"return"`
	MaxDrawdown Distribution `json:"maxDrawdown"`
}

// Confidence describes how much evidence backs the forward stats
type Confidence struct {
	SampleSize     int     `json:"sampleSize"`
	StabilityScore float64 `json:"stabilityScore"`
}

// Safety annotations are attached to every response and cannot be switched off
type Safety struct {
	ExcludedFromTraining bool     `json:"excludedFromTraining"`
	ContextOnly          bool     `json:"contextOnly"`
	Notes                []string `json:"notes"`
}

// Pattern describes the query window
type Pattern struct {
	WindowLen      int            `json:"windowLen"`
	Timeframe      string         `json:"timeframe"`
	Representation Representation `json:"representation"`
	StartTimestamp time.Time      `json:"startTimestamp"`
	EndTimestamp   time.Time      `json:"endTimestamp"`
}

// SeriesPoint is a single (timestamp, close) pair
type SeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Close     float64   `json:"close"`
}

// Reasons for ok:false responses
const (
	ReasonInsufficientData = "insufficient_data"
	ReasonNoCandidates     = "no_candidates"
)

// MatchResponse is the result of a match query
type MatchResponse struct {
	OK           bool          `json:"ok"`
	Reason       string        `json:"reason,omitempty"`
	Symbol       string        `json:"symbol"`
	AsOf         time.Time     `json:"asOf"`
	Pattern      Pattern       `json:"pattern"`
	Matches      []Match       `json:"matches"`
	ForwardStats ForwardStats  `json:"forwardStats"`
	Confidence   Confidence    `json:"confidence"`
	Safety       Safety        `json:"safety"`
	SeriesUsed   []SeriesPoint `json:"seriesUsed,omitempty"`

	// Generation and content fingerprint of the series snapshot that produced the response
	Generation  uint64 `json:"-"`
	Fingerprint string `json:"-"`
}
