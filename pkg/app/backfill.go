package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tunogya/fractal/pkg/data"
	"github.com/tunogya/fractal/pkg/engine"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/store/duckdb"
	"github.com/tunogya/fractal/pkg/window"
)

// ImportCSV loads the symbol/timeframe rows of a CSV file into the candles table
func ImportCSV(ctx context.Context, path, symbol, timeframe string, repo *duckdb.CandleRepo) ([]model.Candle, error) {
	candles, err := data.NewCSVProvider(path).GetSeriesWithQuality(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	if err := repo.InsertBatch(ctx, candles); err != nil {
		return nil, fmt.Errorf("store candles: %w", err)
	}
	return candles, nil
}

// BuildIndex builds the window index of a series the same way the engine does
func BuildIndex(cfg engine.Config, candles []model.Candle) *window.Index {
	cfg = cfg.WithDefaults()
	series := model.NewSeries(candles)
	ix := window.NewIndex(cfg.IndexModes...)
	ix.BuildAll(series.Timestamps, series.Closes, cfg.WindowLengths, cfg.DefaultHorizonDays)
	return ix
}

// VectorSink receives index columns, such as a Milvus collection
type VectorSink interface {
	Sync(ctx context.Context, symbol, timeframe string, ix *window.Index, mode model.Representation, w int) (int, error)
}

// Mirror pushes every (mode, window length) column of ix into sink
func Mirror(ctx context.Context, sink VectorSink, symbol, timeframe string, ix *window.Index, cfg engine.Config, log zerolog.Logger) (int, error) {
	cfg = cfg.WithDefaults()
	total := 0
	for _, w := range cfg.WindowLengths {
		for _, mode := range cfg.IndexModes {
			if !ix.Has(mode, w) {
				continue
			}
			n, err := sink.Sync(ctx, symbol, timeframe, ix, mode, w)
			total += n
			if err != nil {
				return total, fmt.Errorf("mirror %s w=%d: %w", mode, w, err)
			}
			log.Info().Str("mode", string(mode)).Int("window_len", w).Int("vectors", n).Msg("mirrored window vectors")
		}
	}
	return total, nil
}
