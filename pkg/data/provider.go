package data

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tunogya/fractal/pkg/model"
)

// SeriesProvider supplies the full history of a symbol/timeframe
type SeriesProvider interface {
	// GetSeriesWithQuality returns candles ordered by time (oldest first)
	GetSeriesWithQuality(ctx context.Context, symbol, timeframe string) ([]model.Candle, error)
}

// ErrNoSeries is returned when a provider has nothing for the requested symbol/timeframe
var ErrNoSeries = errors.New("series not found")

// SortCandles orders candles by timestamp in place
func SortCandles(candles []model.Candle) {
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
}

// MemoryProvider implements SeriesProvider with in-memory storage
type MemoryProvider struct {
	mu     sync.RWMutex
	series map[string][]model.Candle
	loads  atomic.Int64
}

// NewMemoryProvider creates a new in-memory series provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		series: make(map[string][]model.Candle),
	}
}

func seriesKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

// Set replaces the series of symbol/timeframe
func (p *MemoryProvider) Set(symbol, timeframe string, candles []model.Candle) {
	cp := make([]model.Candle, len(candles))
	copy(cp, candles)
	SortCandles(cp)

	p.mu.Lock()
	p.series[seriesKey(symbol, timeframe)] = cp
	p.mu.Unlock()
}

// GetSeriesWithQuality returns a copy of the stored series
func (p *MemoryProvider) GetSeriesWithQuality(ctx context.Context, symbol, timeframe string) ([]model.Candle, error) {
	p.loads.Add(1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	candles, ok := p.series[seriesKey(symbol, timeframe)]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", symbol, timeframe, ErrNoSeries)
	}
	cp := make([]model.Candle, len(candles))
	copy(cp, candles)
	return cp, nil
}

// Loads returns how many times the provider has been read
func (p *MemoryProvider) Loads() int64 {
	return p.loads.Load()
}
