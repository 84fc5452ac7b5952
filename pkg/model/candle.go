package model

import "time"

// Candle is a single close observation of a series together with its data quality score
type Candle struct {
	Symbol       string    `json:"symbol"`
	Timeframe    string    `json:"timeframe"`
	Timestamp    time.Time `json:"timestamp"`
	Close        float64   `json:"close"`
	QualityScore float64   `json:"quality_score"` // 0..1, 1 = fully trusted
}

// Series is an ordered (oldest first) sequence of candles split into parallel columns
type Series struct {
	Timestamps []time.Time
	Closes     []float64
	Qualities  []float64
}

// NewSeries splits candles into columns. Candles must already be ordered by timestamp.
func NewSeries(candles []Candle) Series {
	s := Series{
		Timestamps: make([]time.Time, len(candles)),
		Closes:     make([]float64, len(candles)),
		Qualities:  make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.Timestamps[i] = c.Timestamp
		s.Closes[i] = c.Close
		s.Qualities[i] = c.QualityScore
	}
	return s
}

// Len returns the number of points in the series
func (s Series) Len() int {
	return len(s.Closes)
}

// Truncate returns the first n points. The result shares backing arrays with s.
func (s Series) Truncate(n int) Series {
	if n >= s.Len() {
		return s
	}
	if n < 0 {
		n = 0
	}
	return Series{
		Timestamps: s.Timestamps[:n],
		Closes:     s.Closes[:n],
		Qualities:  s.Qualities[:n],
	}
}

// MinQuality returns the lowest quality score in [from, to]
func (s Series) MinQuality(from, to int) float64 {
	if from < 0 || to >= len(s.Qualities) || from > to {
		return 0
	}
	min := s.Qualities[from]
	for i := from + 1; i <= to; i++ {
		if s.Qualities[i] < min {
			min = s.Qualities[i]
		}
	}
	return min
}
