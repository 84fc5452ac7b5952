package server

import (
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/fractal/pkg/cache"
	"github.com/tunogya/fractal/pkg/data"
	"github.com/tunogya/fractal/pkg/engine"
	"github.com/tunogya/fractal/pkg/metrics"
	"github.com/tunogya/fractal/pkg/model"
)

func testProvider(n int) *data.MemoryProvider {
	rng := rand.New(rand.NewSource(1))
	day0 := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]model.Candle, n)
	price := 100.0
	for i := range candles {
		price *= math.Exp(rng.NormFloat64() * 0.02)
		candles[i] = model.Candle{Timestamp: day0.AddDate(0, 0, i), Close: price, QualityScore: 1}
	}
	p := data.NewMemoryProvider()
	p.Set("BTC", "1d", candles)
	return p
}

func newTestServer(t *testing.T, cfg Config) (*Server, *data.MemoryProvider) {
	t.Helper()
	p := testProvider(1000)
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	eng := engine.New(p, engine.WithMetrics(rec))
	return New(eng, cfg, WithCache(cache.NewTTLCache(100)), WithMetrics(rec, reg)), p
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDPropagated(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestMatch_OKAndCached(t *testing.T) {
	s, p := newTestServer(t, Config{})
	body := `{"symbol":"BTC","timeframe":"1d","windowLen":30,"topK":5,"forwardHorizonDays":30}`

	rec := do(t, s, http.MethodPost, "/api/fractal/match", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	var resp model.MatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Len(t, resp.Matches, 5)
	assert.True(t, resp.Safety.ExcludedFromTraining)
	assert.True(t, resp.Safety.ContextOnly)

	again := do(t, s, http.MethodPost, "/api/fractal/match", body)
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, "HIT", again.Header().Get("X-Cache"))
	assert.JSONEq(t, rec.Body.String(), again.Body.String())
	assert.EqualValues(t, 1, p.Loads())

	// an invalidated series is reloaded before any cached response is served
	inv := do(t, s, http.MethodPost, "/api/admin/cache/invalidate", `{"symbol":"BTC","timeframe":"1d"}`)
	require.Equal(t, http.StatusOK, inv.Code)

	third := do(t, s, http.MethodPost, "/api/fractal/match", body)
	require.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, "MISS", third.Header().Get("X-Cache"))
	assert.EqualValues(t, 2, p.Loads())
}

func TestMatch_SharedCacheAcrossServers(t *testing.T) {
	shared := cache.NewTTLCache(100)
	serverWith := func(p *data.MemoryProvider) *Server {
		s := New(engine.New(p), Config{}, WithCache(shared))
		rec := do(t, s, http.MethodPost, "/api/admin/index/rebuild", `{"symbol":"BTC"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return s
	}
	body := `{"symbol":"BTC","windowLen":30,"topK":5}`

	first := do(t, serverWith(testProvider(1000)), http.MethodPost, "/api/fractal/match", body)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	// same snapshot generation, different series
	longer := do(t, serverWith(testProvider(1200)), http.MethodPost, "/api/fractal/match", body)
	require.Equal(t, http.StatusOK, longer.Code, longer.Body.String())
	assert.Equal(t, "MISS", longer.Header().Get("X-Cache"))
	assert.NotEqual(t, first.Body.String(), longer.Body.String())

	var resp model.MatchResponse
	require.NoError(t, json.Unmarshal(longer.Body.Bytes(), &resp))
	assert.Equal(t, "2018-04-14", resp.AsOf.Format(time.DateOnly))

	// equal data on another server reuses the stored response
	replica := do(t, serverWith(testProvider(1000)), http.MethodPost, "/api/fractal/match", body)
	require.Equal(t, http.StatusOK, replica.Code)
	assert.Equal(t, "HIT", replica.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), replica.Body.String())
}

func TestMatch_JSONShape(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rec := do(t, s, http.MethodPost, "/api/fractal/match",
		`{"symbol":"BTC","windowLen":60,"asOf":"2016-06-01","includeSeriesUsed":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	for _, key := range []string{"ok", "asOf", "pattern", "matches", "forwardStats", "confidence", "safety", "seriesUsed"} {
		assert.Contains(t, raw, key)
	}
	assert.NotContains(t, raw, "Generation")

	pattern := raw["pattern"].(map[string]any)
	assert.Equal(t, "raw_returns", pattern["representation"])
	assert.Len(t, raw["seriesUsed"], 61)
}

func TestMatch_Errors(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	tests := []struct {
		name   string
		body   string
		status int
		field  string
	}{
		{"bad window", `{"symbol":"BTC","windowLen":45}`, http.StatusBadRequest, "windowLen"},
		{"missing symbol", `{"windowLen":30}`, http.StatusBadRequest, "symbol"},
		{"bad asOf", `{"symbol":"BTC","windowLen":30,"asOf":"yesterday"}`, http.StatusBadRequest, "asOf"},
		{"unknown series", `{"symbol":"DOGE","windowLen":30}`, http.StatusNotFound, ""},
		{"malformed", `{"symbol":`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/fractal/match", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.field, body.Field)
		})
	}
}

func TestExplain(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rec := do(t, s, http.MethodPost, "/api/fractal/explain", `{"symbol":"BTC","windowLen":30}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, true, raw["ok"])
	require.Contains(t, raw, "explanation")
	exp := raw["explanation"].(map[string]any)
	assert.Contains(t, exp, "confidenceLabel")
	assert.Contains(t, exp, "caveats")
}

func TestAdmin_RebuildAndCaches(t *testing.T) {
	s, p := newTestServer(t, Config{})

	rec := do(t, s, http.MethodPost, "/api/admin/index/rebuild", `{"symbol":"BTC"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, p.Loads())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["generation"])

	rec = do(t, s, http.MethodGet, "/api/admin/caches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []engine.CacheInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, engine.StateFresh, infos[0].State)

	rec = do(t, s, http.MethodPost, "/api/admin/cache/invalidate", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/admin/caches", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	assert.Equal(t, engine.StateStale, infos[0].State)

	rec = do(t, s, http.MethodPost, "/api/admin/index/rebuild", `{"symbol":"NOPE"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/admin/index/rebuild", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, Config{RateLimit: 0.001, Burst: 1})

	first := do(t, s, http.MethodPost, "/api/admin/cache/invalidate", `{}`)
	assert.Equal(t, http.StatusOK, first.Code)
	second := do(t, s, http.MethodPost, "/api/admin/cache/invalidate", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// health checks are never limited
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	do(t, s, http.MethodPost, "/api/fractal/match", `{"symbol":"BTC","windowLen":30}`)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fractal_matches_total")
	assert.Contains(t, rec.Body.String(), "fractal_cache_rebuilds_total")
}
