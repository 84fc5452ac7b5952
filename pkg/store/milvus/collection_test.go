package milvus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/window"
)

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "fractal_windows_w30", CollectionName(30))
	assert.Equal(t, "fractal_windows_w90", CollectionName(90))
}

func TestWindowsFromIndex(t *testing.T) {
	day0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 200
	timestamps := make([]time.Time, n)
	closes := make([]float64, n)
	for i := range closes {
		timestamps[i] = day0.AddDate(0, 0, i)
		closes[i] = 100 + float64(i%17)
	}

	ix := window.NewIndex(model.LogReturnsZScore)
	ix.BuildAll(timestamps, closes, []int{30}, 30)
	entries := ix.Entries(model.LogReturnsZScore, 30)
	require.NotEmpty(t, entries)

	rows := WindowsFromIndex("BTC", "1d", model.LogReturnsZScore, 30, entries)
	require.Len(t, rows, len(entries))

	first := rows[0]
	assert.Len(t, first.Embedding, 30)
	assert.EqualValues(t, 30, first.WindowLen)
	assert.Equal(t, "log_returns_zscore", first.Representation)
	assert.True(t, first.TEnd.Equal(timestamps[30]))
	assert.Equal(t, model.GenerateWindowID("BTC", "1d", timestamps[30], 30, 0, model.FeatureVersion), first.WindowID)

	ids := make(map[string]bool, len(rows))
	for _, r := range rows {
		ids[r.WindowID] = true
	}
	assert.Len(t, ids, len(rows))
}

func TestSeriesFilter(t *testing.T) {
	cut := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	f := SeriesFilter("BTC", "1d", model.RawReturns, cut)
	assert.Equal(t, `symbol == "BTC" && timeframe == "1d" && representation == "raw_returns" && t_end <= 1609459200`, f)
}

func TestCandidates(t *testing.T) {
	tEnd := time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC)
	got := Candidates([]SearchResult{{WindowID: "a", Score: 0.5, TEnd: tEnd}})
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Key)
	assert.InDelta(t, 0.5, got[0].Similarity, 1e-9)
	assert.True(t, got[0].TEnd.Equal(tEnd))
}
