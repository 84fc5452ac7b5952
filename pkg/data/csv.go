package data

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tunogya/fractal/pkg/model"
)

// CSVProvider implements SeriesProvider for CSV files.
// Recognized columns: symbol, timeframe, timestamp (or open_time), close, quality_score.
// Missing symbol/timeframe columns match any request; missing quality defaults to 1.
type CSVProvider struct {
	filePath string

	once    sync.Once
	loadErr error
	candles []model.Candle
}

// NewCSVProvider creates a new CSV-based series provider
func NewCSVProvider(filePath string) *CSVProvider {
	return &CSVProvider{filePath: filePath}
}

// load reads the CSV file once
func (p *CSVProvider) load() error {
	p.once.Do(func() {
		file, err := os.Open(p.filePath)
		if err != nil {
			p.loadErr = fmt.Errorf("failed to open CSV file: %w", err)
			return
		}
		defer file.Close()

		p.candles, p.loadErr = ReadCSV(file)
	})
	return p.loadErr
}

// ReadCSV parses candles from CSV with a header row
func ReadCSV(r io.Reader) ([]model.Candle, error) {
	reader := csv.NewReader(r)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	// Parse column indices
	colMap := make(map[string]int)
	for i, col := range header {
		colMap[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := colMap["close"]; !ok {
		return nil, fmt.Errorf("CSV header has no close column")
	}

	var candles []model.Candle
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		candle, err := parseRecord(record, colMap)
		if err != nil {
			continue // Skip invalid records
		}
		candles = append(candles, candle)
	}

	SortCandles(candles)
	return candles, nil
}

// parseRecord parses a CSV record into a Candle
func parseRecord(record []string, colMap map[string]int) (model.Candle, error) {
	getValue := func(name string) string {
		if idx, ok := colMap[name]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	raw := getValue("timestamp")
	if raw == "" {
		raw = getValue("open_time")
	}
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return model.Candle{}, err
	}

	closePrice, err := strconv.ParseFloat(getValue("close"), 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("invalid close: %w", err)
	}

	quality := 1.0
	if q := getValue("quality_score"); q != "" {
		if v, err := strconv.ParseFloat(q, 64); err == nil {
			quality = v
		}
	}

	return model.Candle{
		Symbol:       getValue("symbol"),
		Timeframe:    getValue("timeframe"),
		Timestamp:    ts,
		Close:        closePrice,
		QualityScore: quality,
	}, nil
}

// ParseTimestamp accepts unix milliseconds, RFC3339 or a plain YYYY-MM-DD date (UTC)
func ParseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

// GetSeriesWithQuality returns the candles of symbol/timeframe
func (p *CSVProvider) GetSeriesWithQuality(ctx context.Context, symbol, timeframe string) ([]model.Candle, error) {
	if err := p.load(); err != nil {
		return nil, err
	}

	var result []model.Candle
	for _, c := range p.candles {
		if c.Symbol != "" && symbol != "" && c.Symbol != symbol {
			continue
		}
		if c.Timeframe != "" && timeframe != "" && c.Timeframe != timeframe {
			continue
		}
		if c.Symbol == "" {
			c.Symbol = symbol
		}
		if c.Timeframe == "" {
			c.Timeframe = timeframe
		}
		result = append(result, c)
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("%s %s: %w", symbol, timeframe, ErrNoSeries)
	}
	return result, nil
}
