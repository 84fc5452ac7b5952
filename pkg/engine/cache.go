package engine

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/window"
)

// CacheState is the freshness of a series cache
type CacheState string

const (
	StateStale CacheState = "STALE"
	StateFresh CacheState = "FRESH"
)

// snapshot is an immutable view of one loaded series and its window index.
// It is never mutated after publication; a rebuild publishes a new one.
type snapshot struct {
	Generation  uint64
	Fingerprint string
	LoadedAt    time.Time
	Series      model.Series
	Index       *window.Index
}

// seriesCache holds the current snapshot of one symbol/timeframe
type seriesCache struct {
	symbol    string
	timeframe string

	current    atomic.Pointer[snapshot]
	generation atomic.Uint64
}

func cacheKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

// fresh reports whether s is usable at now
func (s *snapshot) fresh(now time.Time, ttl time.Duration) bool {
	return s != nil && now.Sub(s.LoadedAt) < ttl
}

// cacheFor returns the cache of symbol/timeframe, creating it on first use
func (e *Engine) cacheFor(symbol, timeframe string) *seriesCache {
	key := cacheKey(symbol, timeframe)
	if c, ok := e.caches.Load(key); ok {
		return c.(*seriesCache)
	}
	c, _ := e.caches.LoadOrStore(key, &seriesCache{symbol: symbol, timeframe: timeframe})
	return c.(*seriesCache)
}

// acquire returns a FRESH snapshot, rebuilding it when the cache is STALE.
// Concurrent callers for the same series share one rebuild.
func (e *Engine) acquire(ctx context.Context, symbol, timeframe string) (*snapshot, error) {
	c := e.cacheFor(symbol, timeframe)
	if s := c.current.Load(); s.fresh(e.clock(), e.cfg.CacheTTL) {
		return s, nil
	}
	return e.rebuild(ctx, c, false)
}

// rebuild loads the series and builds its index under single flight.
// Unless forced, a rebuild that finds a fresh snapshot (published by a flight that
// just finished) returns it instead of loading again.
func (e *Engine) rebuild(ctx context.Context, c *seriesCache, force bool) (*snapshot, error) {
	key := cacheKey(c.symbol, c.timeframe)

	v, err, _ := e.flight.Do(key, func() (interface{}, error) {
		if s := c.current.Load(); !force && s.fresh(e.clock(), e.cfg.CacheTTL) {
			return s, nil
		}

		start := time.Now()
		candles, err := e.provider.GetSeriesWithQuality(ctx, c.symbol, c.timeframe)
		if err != nil {
			e.metrics.RecordRebuild(false, time.Since(start))
			return nil, &Error{Kind: KindSeriesUnavailable, Op: "engine.rebuild", Err: err}
		}

		series := model.NewSeries(candles)
		index := window.NewIndex(e.cfg.IndexModes...).WithClock(e.clock)
		index.BuildAll(series.Timestamps, series.Closes, e.cfg.WindowLengths, e.cfg.DefaultHorizonDays)

		s := &snapshot{
			Generation:  c.generation.Add(1),
			Fingerprint: seriesFingerprint(e.cfgDigest, c.symbol, c.timeframe, series),
			LoadedAt:    e.clock(),
			Series:      series,
			Index:       index,
		}
		c.current.Store(s)

		e.metrics.RecordRebuild(true, time.Since(start))
		e.log.Info().
			Str("symbol", c.symbol).
			Str("timeframe", c.timeframe).
			Uint64("generation", s.Generation).
			Int("points", series.Len()).
			Bool("index_empty", index.Empty()).
			Dur("duration", time.Since(start)).
			Msg("series cache rebuilt")
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot), nil
}

// Invalidate marks the cache of symbol/timeframe STALE. In-flight queries keep
// the snapshot they already hold.
func (e *Engine) Invalidate(symbol, timeframe string) {
	if c, ok := e.caches.Load(cacheKey(symbol, timeframe)); ok {
		c.(*seriesCache).current.Store(nil)
		e.log.Info().Str("symbol", symbol).Str("timeframe", timeframe).Msg("series cache invalidated")
	}
}

// InvalidateAll marks every cache STALE
func (e *Engine) InvalidateAll() {
	n := 0
	e.caches.Range(func(_, v any) bool {
		v.(*seriesCache).current.Store(nil)
		n++
		return true
	})
	e.log.Info().Int("caches", n).Msg("all series caches invalidated")
}

// Rebuild reloads symbol/timeframe immediately regardless of freshness
func (e *Engine) Rebuild(ctx context.Context, symbol, timeframe string) error {
	_, err := e.rebuild(ctx, e.cacheFor(symbol, timeframe), true)
	return err
}

// State returns the freshness of the symbol/timeframe cache
func (e *Engine) State(symbol, timeframe string) CacheState {
	c, ok := e.caches.Load(cacheKey(symbol, timeframe))
	if !ok {
		return StateStale
	}
	if c.(*seriesCache).current.Load().fresh(e.clock(), e.cfg.CacheTTL) {
		return StateFresh
	}
	return StateStale
}

// Generation returns the generation of the FRESH snapshot, 0 when the cache is STALE
func (e *Engine) Generation(symbol, timeframe string) uint64 {
	c, ok := e.caches.Load(cacheKey(symbol, timeframe))
	if !ok {
		return 0
	}
	if s := c.(*seriesCache).current.Load(); s.fresh(e.clock(), e.cfg.CacheTTL) {
		return s.Generation
	}
	return 0
}

// Fingerprint identifies the content of the FRESH snapshot, "" when the cache is STALE.
// Engines with equal settings that loaded equal series report the same fingerprint,
// so it can key caches shared between processes.
func (e *Engine) Fingerprint(symbol, timeframe string) string {
	c, ok := e.caches.Load(cacheKey(symbol, timeframe))
	if !ok {
		return ""
	}
	if s := c.(*seriesCache).current.Load(); s.fresh(e.clock(), e.cfg.CacheTTL) {
		return s.Fingerprint
	}
	return ""
}

// seriesFingerprint hashes the engine settings digest and every point of the series
func seriesFingerprint(cfgDigest []byte, symbol, timeframe string, s model.Series) string {
	h := sha256.New()
	h.Write(cfgDigest)
	fmt.Fprintf(h, "|%s|%s|%d|", symbol, timeframe, s.Len())

	var buf [24]byte
	for i := range s.Closes {
		binary.LittleEndian.PutUint64(buf[0:], uint64(s.Timestamps[i].UnixNano()))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(s.Closes[i]))
		binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(s.Qualities[i]))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// CacheInfo describes one series cache
type CacheInfo struct {
	Symbol      string     `json:"symbol"`
	Timeframe   string     `json:"timeframe"`
	State       CacheState `json:"state"`
	Generation  uint64     `json:"generation"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	LoadedAt    time.Time  `json:"loadedAt"`
	Points      int        `json:"points"`
}

// Caches lists all known series caches
func (e *Engine) Caches() []CacheInfo {
	now := e.clock()
	var infos []CacheInfo
	e.caches.Range(func(_, v any) bool {
		c := v.(*seriesCache)
		info := CacheInfo{Symbol: c.symbol, Timeframe: c.timeframe, State: StateStale}
		if s := c.current.Load(); s != nil {
			info.Generation = s.Generation
			info.Fingerprint = s.Fingerprint
			info.LoadedAt = s.LoadedAt
			info.Points = s.Series.Len()
			if s.fresh(now, e.cfg.CacheTTL) {
				info.State = StateFresh
			}
		}
		infos = append(infos, info)
		return true
	})
	return infos
}
