package model

// FeatureVersion is bumped whenever the feature definitions below change meaning
const FeatureVersion = 2

// WindowFeatures contains structured statistics of the query window.
// These are persisted as ML training inputs, never fed back into matching.
type WindowFeatures struct {
	TrendSlope         float64 `json:"trend_slope"`         // linear regression slope of close prices
	RealizedVolatility float64 `json:"realized_volatility"` // standard deviation of returns
	MaxDrawdown        float64 `json:"max_drawdown"`        // maximum peak-to-trough decline (<= 0)
	VolBucket          int     `json:"vol_bucket"`          // volatility bucket (0-9)
	TrendBucket        int     `json:"trend_bucket"`        // trend bucket (-2 to +2)
	RegimeTag          string  `json:"regime_tag"`          // human-readable trend/vol regime
}

// Prediction is the forward distribution implied by the matched analogues
type Prediction struct {
	ReturnP10      float64 `json:"return_p10"`
	ReturnP50      float64 `json:"return_p50"`
	ReturnP90      float64 `json:"return_p90"`
	ReturnMean     float64 `json:"return_mean"`
	DrawdownP50    float64 `json:"drawdown_p50"`
	SampleSize     int     `json:"sample_size"`
	StabilityScore float64 `json:"stability_score"`
}

// Label is the realized outcome of the window once its horizon has elapsed
type Label struct {
	Return      float64 `json:"return"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// FeatureRecord bundles one feature-store upsert
type FeatureRecord struct {
	Meta       WindowMeta     `json:"meta"`
	Features   WindowFeatures `json:"features"`
	Prediction Prediction     `json:"prediction"`
	Label      *Label         `json:"label,omitempty"`
}

// TrendBucket constants
const (
	TrendStrongDown = -2
	TrendDown       = -1
	TrendNeutral    = 0
	TrendUp         = 1
	TrendStrongUp   = 2
)

// ClassifyTrendBucket classifies a trend slope into a bucket
func ClassifyTrendBucket(slope float64) int {
	switch {
	case slope < -0.02:
		return TrendStrongDown
	case slope < -0.005:
		return TrendDown
	case slope < 0.005:
		return TrendNeutral
	case slope < 0.02:
		return TrendUp
	default:
		return TrendStrongUp
	}
}

// ClassifyVolBucket maps daily realized volatility onto 0-9.
// 0.5% daily vol and below is bucket 0, 5% and above is bucket 9.
func ClassifyVolBucket(dailyVol float64) int {
	bucket := int((dailyVol - 0.005) / 0.005)
	if bucket < 0 {
		return 0
	}
	if bucket > 9 {
		return 9
	}
	return bucket
}

// RegimeTag names the combination of trend and volatility buckets
func RegimeTag(trendBucket, volBucket int) string {
	var trend string
	switch trendBucket {
	case TrendStrongDown:
		trend = "strong_downtrend"
	case TrendDown:
		trend = "downtrend"
	case TrendNeutral:
		trend = "range"
	case TrendUp:
		trend = "uptrend"
	default:
		trend = "strong_uptrend"
	}

	vol := "normal_vol"
	switch {
	case volBucket <= 1:
		vol = "low_vol"
	case volBucket >= 6:
		vol = "high_vol"
	}
	return trend + "/" + vol
}
