package app

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/fractal/pkg/cache"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/persist"
	"github.com/tunogya/fractal/pkg/store/duckdb"
	"github.com/tunogya/fractal/pkg/window"
)

func writeCSV(t *testing.T, dir string, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,close\n")
	day0 := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		price := 100 * math.Exp(0.1*math.Sin(float64(i)*2*math.Pi/45)+0.0005*float64(i))
		fmt.Fprintf(&b, "%s,%.6f\n", day0.AddDate(0, 0, i).Format(time.DateOnly), price)
	}
	path := filepath.Join(dir, "series.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "fractal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestResources_CloseInReverseOrder(t *testing.T) {
	res := NewResources(zerolog.Nop())
	var order []string
	res.Add("a", func() error { order = append(order, "a"); return nil })
	res.Add("b", func() error { order = append(order, "b"); return fmt.Errorf("boom") })
	res.Add("c", func() error { order = append(order, "c"); return nil })

	res.Close()
	assert.Equal(t, []string{"c", "b", "a"}, order)

	res.Close()
	assert.Len(t, order, 3)
}

func TestSetup(t *testing.T) {
	dir := t.TempDir()
	csv := writeCSV(t, dir, 10)
	path := writeConfig(t, dir, fmt.Sprintf("source:\n  type: csv\n  csv_path: %s\nlog:\n  level: debug\n", csv))

	cfg, log, err := Setup(path)
	require.NoError(t, err)
	assert.Equal(t, "csv", cfg.Source.Type)
	assert.Equal(t, zerolog.DebugLevel, log.GetLevel())

	_, _, err = Setup(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestOpenProvider_CSV(t *testing.T) {
	dir := t.TempDir()
	csv := writeCSV(t, dir, 10)
	path := writeConfig(t, dir, fmt.Sprintf("source:\n  type: csv\n  csv_path: %s\n", csv))
	cfg, _, err := Setup(path)
	require.NoError(t, err)

	res := NewResources(zerolog.Nop())
	defer res.Close()

	p, err := OpenProvider(context.Background(), cfg, res)
	require.NoError(t, err)
	candles, err := p.GetSeriesWithQuality(context.Background(), "BTC", "1d")
	require.NoError(t, err)
	assert.Len(t, candles, 10)
	assert.Equal(t, "BTC", candles[0].Symbol)
}

func TestOpenFeatureStoreAndCache(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, fmt.Sprintf("duckdb:\n  feature_path: %s\npersist:\n  sink: discard\ncache:\n  backend: none\n",
		filepath.Join(dir, "features.duckdb")))
	cfg, _, err := Setup(path)
	require.NoError(t, err)

	ctx := context.Background()
	res := NewResources(zerolog.Nop())
	defer res.Close()

	store, err := OpenFeatureStore(ctx, cfg, zerolog.Nop(), res)
	require.NoError(t, err)
	assert.IsType(t, persist.Discard{}, store)

	cfg.Persist.Sink = "duckdb"
	store, err = OpenFeatureStore(ctx, cfg, zerolog.Nop(), res)
	require.NoError(t, err)
	assert.IsType(t, &duckdb.FeatureRepo{}, store)

	c, err := OpenCache(ctx, cfg, res)
	require.NoError(t, err)
	assert.IsType(t, cache.Nop{}, c)

	cfg.Cache.Backend = "memory"
	c, err = OpenCache(ctx, cfg, res)
	require.NoError(t, err)
	assert.IsType(t, &cache.TTLCache{}, c)
}

func TestEngineWithDuckDBPersistence(t *testing.T) {
	dir := t.TempDir()
	csv := writeCSV(t, dir, 600)
	features := filepath.Join(dir, "features.duckdb")
	path := writeConfig(t, dir, fmt.Sprintf(
		"source:\n  type: csv\n  csv_path: %s\nduckdb:\n  feature_path: %s\npersist:\n  sink: duckdb\n", csv, features))
	cfg, _, err := Setup(path)
	require.NoError(t, err)

	ctx := context.Background()
	res := NewResources(zerolog.Nop())

	provider, err := OpenProvider(ctx, cfg, res)
	require.NoError(t, err)
	eng, err := NewEngine(ctx, cfg, provider, zerolog.Nop(), nil, res)
	require.NoError(t, err)

	resp, err := eng.Match(ctx, model.MatchRequest{Symbol: "BTC", Timeframe: "1d", WindowLen: 30})
	require.NoError(t, err)
	require.True(t, resp.OK, resp.Reason)

	// closing drains the dispatcher before the database
	res.Close()

	client, err := duckdb.NewClient(ctx, features)
	require.NoError(t, err)
	defer client.Close()

	n, err := duckdb.NewWindowRepo(client).Count(ctx, "BTC", "1d")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

type recordingSink struct {
	calls map[string]int
}

func (s *recordingSink) Sync(_ context.Context, _, _ string, ix *window.Index, mode model.Representation, w int) (int, error) {
	n := ix.Count(mode, w)
	s.calls[fmt.Sprintf("%s/%d", mode, w)] = n
	return n, nil
}

func TestImportIndexAndMirror(t *testing.T) {
	dir := t.TempDir()
	csv := writeCSV(t, dir, 200)
	ctx := context.Background()

	client, err := duckdb.NewClient(ctx, ":memory:")
	require.NoError(t, err)
	defer client.Close()
	repo := duckdb.NewCandleRepo(client)

	candles, err := ImportCSV(ctx, csv, "ETH", "1d", repo)
	require.NoError(t, err)
	require.Len(t, candles, 200)

	stored, err := repo.GetSeriesWithQuality(ctx, "ETH", "1d")
	require.NoError(t, err)
	assert.Len(t, stored, 200)

	cfg, _, err := Setup("")
	require.NoError(t, err)
	ix := BuildIndex(cfg.Engine, stored)
	assert.True(t, ix.Has(model.LogReturnsZScore, 30))
	assert.True(t, ix.Has(model.RawReturns, 90))

	sink := &recordingSink{calls: map[string]int{}}
	total, err := Mirror(ctx, sink, "ETH", "1d", ix, cfg.Engine, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, sink.calls, 6)
	assert.Equal(t, 200-30, sink.calls["log_returns_zscore/30"])
	assert.Positive(t, total)
}
