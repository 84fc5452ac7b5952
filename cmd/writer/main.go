package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tunogya/fractal/pkg/app"
	natsq "github.com/tunogya/fractal/pkg/queue/nats"
	"github.com/tunogya/fractal/pkg/store/duckdb"
)

var (
	configPath   string
	consumerName string
)

var rootCmd = &cobra.Command{
	Use:   "fractal-writer",
	Short: "Persist feature upserts from NATS into DuckDB",
	Long: `fractal-writer consumes fractal.features.upsert from JetStream and writes each
record into the DuckDB feature store. Failed writes are redelivered with backoff;
malformed messages are terminated.`,
	SilenceUsage: true,
	RunE:         runWriter,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML configuration (defaults when empty)")
	rootCmd.Flags().StringVar(&consumerName, "consumer", "feature-writer", "Durable JetStream consumer name")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWriter(cmd *cobra.Command, args []string) error {
	cfg, log, err := app.Setup(configPath)
	if err != nil {
		return err
	}
	log = log.With().Str("component", "writer").Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := app.NewResources(log)
	defer res.Close()

	client, err := app.OpenDuckDB(ctx, cfg.DuckDB.FeaturePath, res)
	if err != nil {
		return fmt.Errorf("duckdb: %w", err)
	}
	store := duckdb.NewFeatureRepo(client)

	nc, err := natsq.NewClient(cfg.NATS, log)
	if err != nil {
		return err
	}
	res.Add("nats", func() error { nc.Close(); return nil })

	if err := nc.CreateStream(ctx, []string{natsq.SubjectFeatureUpsert}); err != nil {
		return err
	}

	consumer, err := nc.Subscribe(ctx, natsq.SubjectFeatureUpsert, consumerName, natsq.FeatureWriteHandler(store))
	if err != nil {
		return err
	}
	res.Add("consumer", func() error { consumer.Stop(); return nil })

	log.Info().
		Str("nats", cfg.NATS.URL).
		Str("duckdb", cfg.DuckDB.FeaturePath).
		Str("consumer", consumerName).
		Msg("writer started, waiting for messages")

	<-ctx.Done()
	log.Info().Msg("shutting down writer")
	return nil
}
