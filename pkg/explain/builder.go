package explain

import (
	"fmt"
	"time"

	"github.com/tunogya/fractal/pkg/feature"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/outcome"
)

// Confidence labels
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Regime describes the trend and volatility of a window
type Regime struct {
	Tag                string  `json:"tag"`
	TrendBucket        int     `json:"trendBucket"`
	VolBucket          int     `json:"volBucket"`
	TrendSlope         float64 `json:"trendSlope"`
	RealizedVolatility float64 `json:"realizedVolatility"`
}

// MatchContext places one match in its own regime next to what followed it
type MatchContext struct {
	Rank           int        `json:"rank"`
	StartTimestamp *time.Time `json:"startTimestamp,omitempty"`
	EndTimestamp   time.Time  `json:"endTimestamp"`
	Similarity     float64    `json:"similarity"`
	Regime         string     `json:"regime"`
	SameRegime     bool       `json:"sameRegime"`
	Return         *float64   `json:"return,omitempty"`
	MaxDrawdown    *float64   `json:"maxDrawdown,omitempty"`
}

// Explanation is descriptive context for a match response. It never states an action.
type Explanation struct {
	Regime          Regime         `json:"regime"`
	WindowStart     *time.Time     `json:"windowStart,omitempty"`
	WindowEnd       *time.Time     `json:"windowEnd,omitempty"`
	ConfidenceLabel string         `json:"confidenceLabel"`
	RegimeAgreement float64        `json:"regimeAgreement"` // share of matches in the current regime
	Summary         string         `json:"summary"`
	Matches         []MatchContext `json:"matches"`
	Caveats         []string       `json:"caveats"`
}

// Config holds thresholds for labels and caveats
type Config struct {
	HighConfidence   float64 // stability score at or above which confidence is high
	MediumConfidence float64
	SampleFloor      int     // fewer samples than this adds a caveat
	WideSpread       float64 // p90 - p10 return spread that counts as wide
}

// DefaultConfig returns default thresholds
func DefaultConfig() Config {
	return Config{
		HighConfidence:   0.7,
		MediumConfidence: 0.4,
		SampleFloor:      25,
		WideSpread:       0.2,
	}
}

// Builder turns match results into an Explanation
type Builder struct {
	cfg Config
}

// NewBuilder creates a new explanation builder
func NewBuilder(cfg Config) *Builder {
	def := DefaultConfig()
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = def.HighConfidence
	}
	if cfg.MediumConfidence <= 0 {
		cfg.MediumConfidence = def.MediumConfidence
	}
	if cfg.SampleFloor <= 0 {
		cfg.SampleFloor = def.SampleFloor
	}
	if cfg.WideSpread <= 0 {
		cfg.WideSpread = def.WideSpread
	}
	return &Builder{cfg: cfg}
}

// Label maps a stability score to a confidence label
func (b *Builder) Label(stability float64) string {
	switch {
	case stability >= b.cfg.HighConfidence:
		return ConfidenceHigh
	case stability >= b.cfg.MediumConfidence:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// BuildExplanation describes the current window (the last windowLen+1 closes) and
// its matches. closes must cover every match window. timestamps, when parallel to
// closes, date the current window and the start of every match.
func (b *Builder) BuildExplanation(matches []model.Match, closes []float64, timestamps []time.Time, stats model.ForwardStats, conf model.Confidence, windowLen, horizonDays int) *Explanation {
	from := max(0, len(closes)-windowLen-1)
	current := regimeOf(closes[from:])
	dated := len(closes) > 0 && len(timestamps) == len(closes)

	exp := &Explanation{
		Regime:          current,
		ConfidenceLabel: b.Label(conf.StabilityScore),
		Summary:         outcome.Describe(stats, conf),
		Matches:         make([]MatchContext, 0, len(matches)),
	}
	if dated {
		exp.WindowStart, exp.WindowEnd = &timestamps[from], &timestamps[len(timestamps)-1]
	}

	same := 0
	for _, m := range matches {
		mc := MatchContext{
			Rank:         m.Rank,
			EndTimestamp: m.EndTimestamp,
			Similarity:   m.Similarity,
		}
		if m.StartIndex >= 0 && m.EndIndex < len(closes) {
			r := regimeOf(closes[m.StartIndex : m.EndIndex+1])
			mc.Regime = r.Tag
			mc.SameRegime = r.Tag == current.Tag
			if dated {
				start := timestamps[m.StartIndex]
				mc.StartTimestamp = &start
			}
		}
		if mc.SameRegime {
			same++
		}
		if m.Outcome != nil {
			ret, dd := m.Outcome.Return, m.Outcome.MaxDrawdown
			mc.Return = &ret
			mc.MaxDrawdown = &dd
		}
		exp.Matches = append(exp.Matches, mc)
	}
	if len(matches) > 0 {
		exp.RegimeAgreement = float64(same) / float64(len(matches))
	}

	exp.Caveats = b.caveats(exp, stats, conf, horizonDays)
	return exp
}

func (b *Builder) caveats(exp *Explanation, stats model.ForwardStats, conf model.Confidence, horizonDays int) []string {
	caveats := []string{
		fmt.Sprintf("Statistics describe the %d bars that followed past analogues; they are not a forecast.", horizonDays),
	}

	if conf.SampleSize < b.cfg.SampleFloor {
		caveats = append(caveats, fmt.Sprintf("Only %d analogues were found; percentiles rest on a small sample.", conf.SampleSize))
	}
	if spread := stats.Return.P90 - stats.Return.P10; spread > b.cfg.WideSpread {
		caveats = append(caveats, fmt.Sprintf("Analogue outcomes are widely dispersed (p10 to p90 spans %.1f%%).", spread*100))
	}
	if len(exp.Matches) > 0 && exp.RegimeAgreement < 0.5 {
		caveats = append(caveats, fmt.Sprintf("Most analogues formed outside the current %s regime.", exp.Regime.Tag))
	}
	if stats.Return.P10 < 0 && stats.Return.P90 > 0 {
		caveats = append(caveats, "Analogues ended both higher and lower; the sign of the outcome is not consistent.")
	}
	return caveats
}

func regimeOf(closes []float64) Regime {
	f := feature.ExtractWindowFeatures(closes)
	return Regime{
		Tag:                f.RegimeTag,
		TrendBucket:        f.TrendBucket,
		VolBucket:          f.VolBucket,
		TrendSlope:         f.TrendSlope,
		RealizedVolatility: f.RealizedVolatility,
	}
}
