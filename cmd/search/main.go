package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tunogya/fractal/pkg/app"
	"github.com/tunogya/fractal/pkg/data"
	"github.com/tunogya/fractal/pkg/engine"
	"github.com/tunogya/fractal/pkg/feature"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/rerank"
	"github.com/tunogya/fractal/pkg/store/milvus"
)

var (
	configPath string
	format     string

	symbol      string
	timeframe   string
	windowLen   int
	topK        int
	horizon     int
	asOf        string
	mode        string
	withExplain bool
	persistRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "fractal-search",
	Short: "Query historical pattern matches from the command line",
	Long: `fractal-search runs the fractal engine against the configured series and
prints the matched historical windows with their forward outcome distribution.
The output is descriptive context, not a trading signal.`,
	SilenceUsage: true,
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match the latest window of a series against its own history",
	Long: `Match the latest window (or the window ending at --asof) against every earlier
non-overlapping window of the same series.

Example usage:
  fractal-search match --symbol BTC --window 30
  fractal-search match --symbol BTC --window 60 --asof 2022-06-01 --format json
  fractal-search match --symbol ETH --window 90 --explain`,
	RunE: runMatch,
}

var similarCmd = &cobra.Command{
	Use:   "similar",
	Short: "Look up similar windows in the Milvus mirror",
	Long: `Search the Milvus collection of the window length for vectors close to the
latest window, restricted to windows that end at least the minimum gap before
it, and rerank the hits by age decay.`,
	RunE: runSimilar,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration (defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format: table, json")
	rootCmd.PersistentFlags().StringVar(&symbol, "symbol", "", "Symbol to query")
	rootCmd.PersistentFlags().StringVar(&timeframe, "timeframe", "1d", "Timeframe to query")
	rootCmd.PersistentFlags().IntVar(&windowLen, "window", 30, "Window length: 30, 60 or 90")
	rootCmd.PersistentFlags().IntVar(&topK, "topk", 10, "Number of matches")
	rootCmd.PersistentFlags().IntVar(&horizon, "horizon", 30, "Forward horizon in days")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "", "Similarity mode: log_returns_zscore, raw_returns")
	rootCmd.MarkPersistentFlagRequired("symbol")

	matchCmd.Flags().StringVar(&asOf, "asof", "", "Simulated cutoff (YYYY-MM-DD, RFC3339 or unix ms)")
	matchCmd.Flags().BoolVar(&withExplain, "explain", false, "Attach the descriptive explanation")
	matchCmd.Flags().BoolVar(&persistRun, "persist", false, "Persist the query window to the feature store")

	rootCmd.AddCommand(matchCmd, similarCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func request() (model.MatchRequest, error) {
	req := model.MatchRequest{
		Symbol:             symbol,
		Timeframe:          timeframe,
		WindowLen:          windowLen,
		TopK:               topK,
		ForwardHorizonDays: horizon,
		SimilarityMode:     model.Representation(mode),
	}
	if asOf != "" {
		t, err := data.ParseTimestamp(asOf)
		if err != nil {
			return req, fmt.Errorf("--asof: %w", err)
		}
		req.AsOf = &t
	}
	return req, nil
}

func runMatch(cmd *cobra.Command, args []string) error {
	cfg, log, err := app.Setup(configPath)
	if err != nil {
		return err
	}
	cfg.Persist.Enabled = persistRun

	ctx := cmd.Context()
	res := app.NewResources(log)
	defer res.Close()

	req, err := request()
	if err != nil {
		return err
	}

	provider, err := app.OpenProvider(ctx, cfg, res)
	if err != nil {
		return err
	}
	eng, err := app.NewEngine(ctx, cfg, provider, log, nil, res)
	if err != nil {
		return err
	}

	var out any
	var resp *model.MatchResponse
	if withExplain {
		er, err := eng.Explain(ctx, req)
		if err != nil {
			return err
		}
		out, resp = er, er.MatchResponse
	} else {
		resp, err = eng.Match(ctx, req)
		if err != nil {
			return err
		}
		out = resp
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	writeMatchTable(cmd.OutOrStdout(), resp)
	if er, ok := out.(*engine.ExplainResponse); ok && er.Explanation != nil {
		writeExplanation(cmd.OutOrStdout(), er.Explanation)
	}
	return nil
}

func runSimilar(cmd *cobra.Command, args []string) error {
	cfg, log, err := app.Setup(configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	res := app.NewResources(log)
	defer res.Close()

	provider, err := app.OpenProvider(ctx, cfg, res)
	if err != nil {
		return err
	}
	candles, err := provider.GetSeriesWithQuality(ctx, symbol, timeframe)
	if err != nil {
		return err
	}
	series := model.NewSeries(candles)

	repr := model.Representation(mode)
	if repr == "" {
		repr = model.LogReturnsZScore
	}
	end := series.Len() - 1
	if end < windowLen {
		return fmt.Errorf("series has %d points, need more than %d", series.Len(), windowLen)
	}
	current, err := feature.BuildVector(series.Closes[end-windowLen:end+1], repr)
	if err != nil {
		return err
	}

	eng := engine.New(provider, engine.WithConfig(cfg.Engine))
	lastEnd := end - eng.MinGap(horizon)
	if lastEnd < windowLen {
		return fmt.Errorf("no history ends before the minimum gap")
	}

	mc, err := milvus.NewClient(ctx, cfg.Milvus.Config)
	if err != nil {
		return err
	}
	res.Add("milvus", mc.Close)

	filter := milvus.SeriesFilter(symbol, timeframe, repr, series.Timestamps[lastEnd])
	hits, err := mc.Search(ctx, current.ToFloat32(), filter, topK*3)
	if err != nil {
		return err
	}

	decay := eng.Config().AgeDecay
	reranker := rerank.NewReranker(rerank.TimeDecayConfig{Enabled: decay.Enabled, Lambda: decay.Lambda})
	ranked := reranker.TopN(milvus.Candidates(hits), series.Timestamps[end], topK)

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(ranked)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s w=%d ending %s (%s)\n\n",
		symbol, timeframe, windowLen, series.Timestamps[end].Format(time.DateOnly), repr)
	writeSimilarTable(cmd.OutOrStdout(), ranked)
	return nil
}
