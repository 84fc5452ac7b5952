package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// WindowMeta identifies a persisted window: which series, which length and where it ends
type WindowMeta struct {
	WindowID       string     `json:"window_id"`
	Symbol         string     `json:"symbol"`
	Timeframe      string     `json:"timeframe"`
	TEnd           time.Time  `json:"t_end"`           // timestamp of the window's last close
	W              int        `json:"w"`               // window length
	HorizonDays    int        `json:"horizon_days"`    // forward horizon of the prediction
	Representation string     `json:"representation"`  // vector mode used for matching
	AsOf           *time.Time `json:"as_of,omitempty"` // simulated cutoff, if any
	FeatureVersion int        `json:"feature_version"` // version for idempotency
}

// GenerateWindowID creates a deterministic window ID based on key parameters
// Format: hash(symbol|tf|t_end|W|horizon|feature_version)
// Same parameters always produce the same ID, so repeated upserts collapse into one row.
func GenerateWindowID(symbol, timeframe string, tEnd time.Time, w, horizon, featureVersion int) string {
	data := fmt.Sprintf("%s|%s|%d|%d|%d|%d",
		symbol,
		timeframe,
		tEnd.Unix(),
		w,
		horizon,
		featureVersion,
	)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16]) // use first 16 bytes (32 hex chars)
}

// NewWindowMeta creates WindowMeta with a generated ID
func NewWindowMeta(symbol, timeframe string, tEnd time.Time, w, horizon, featureVersion int, representation string, asOf *time.Time) WindowMeta {
	return WindowMeta{
		WindowID:       GenerateWindowID(symbol, timeframe, tEnd, w, horizon, featureVersion),
		Symbol:         symbol,
		Timeframe:      timeframe,
		TEnd:           tEnd,
		W:              w,
		HorizonDays:    horizon,
		Representation: representation,
		AsOf:           asOf,
		FeatureVersion: featureVersion,
	}
}
