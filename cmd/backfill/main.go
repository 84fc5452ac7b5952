package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tunogya/fractal/pkg/app"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/store/duckdb"
	"github.com/tunogya/fractal/pkg/store/milvus"
)

var (
	configPath string
	csvPath    string
	symbol     string
	timeframe  string
	mirror     bool
)

var rootCmd = &cobra.Command{
	Use:   "fractal-backfill",
	Short: "Load a close series into DuckDB and mirror its window index",
	Long: `fractal-backfill imports the rows of one symbol/timeframe from a CSV file
into the DuckDB candles table, builds the window index exactly as the engine
does and, when Milvus is enabled, mirrors every window vector into the
per-length collections.

Example usage:
  fractal-backfill --csv data/btc_1d.csv --symbol BTC
  fractal-backfill --csv data/eth_1d.csv --symbol ETH --mirror`,
	SilenceUsage: true,
	RunE:         runBackfill,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML configuration (defaults when empty)")
	rootCmd.Flags().StringVar(&csvPath, "csv", "", "CSV file with timestamp and close columns")
	rootCmd.Flags().StringVar(&symbol, "symbol", "", "Symbol to import")
	rootCmd.Flags().StringVar(&timeframe, "timeframe", "1d", "Timeframe to import")
	rootCmd.Flags().BoolVar(&mirror, "mirror", false, "Mirror the window index into Milvus (implied by milvus.enabled)")
	rootCmd.MarkFlagRequired("csv")
	rootCmd.MarkFlagRequired("symbol")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, log, err := app.Setup(configPath)
	if err != nil {
		return err
	}
	log = log.With().Str("component", "backfill").Str("symbol", symbol).Str("timeframe", timeframe).Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := app.NewResources(log)
	defer res.Close()

	start := time.Now()
	client, err := app.OpenDuckDB(ctx, cfg.DuckDB.Path, res)
	if err != nil {
		return fmt.Errorf("duckdb: %w", err)
	}
	repo := duckdb.NewCandleRepo(client)

	candles, err := app.ImportCSV(ctx, csvPath, symbol, timeframe, repo)
	if err != nil {
		return err
	}
	total, err := repo.Count(ctx, symbol, timeframe)
	if err != nil {
		return err
	}
	log.Info().Int("imported", len(candles)).Int64("stored", total).Msg("candles stored")

	if !mirror && !cfg.Milvus.Enabled {
		log.Info().Dur("elapsed", time.Since(start)).Msg("backfill complete")
		return nil
	}

	// index the full stored series, not just the imported rows
	series, err := repo.GetSeriesWithQuality(ctx, symbol, timeframe)
	if err != nil {
		return err
	}
	ix := app.BuildIndex(cfg.Engine, series)
	if ix.Empty() {
		log.Warn().Int("points", len(series)).Msg("series too short for any window length, nothing to mirror")
		return nil
	}

	mc, err := milvus.NewClient(ctx, cfg.Milvus.Config)
	if err != nil {
		return err
	}
	res.Add("milvus", mc.Close)

	n, err := app.Mirror(ctx, mc, symbol, timeframe, ix, cfg.Engine, log)
	if err != nil {
		return err
	}

	log.Info().
		Int("vectors", n).
		Int("feature_version", model.FeatureVersion).
		Dur("elapsed", time.Since(start)).
		Msg("backfill complete")
	return nil
}
