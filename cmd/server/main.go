package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/tunogya/fractal/pkg/app"
	"github.com/tunogya/fractal/pkg/metrics"
	"github.com/tunogya/fractal/pkg/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fractal-server",
	Short: "Serve historical pattern matches over HTTP",
	Long: `fractal-server answers match and explain requests for the configured series,
persists every successful query window as an ML feature row and exposes
admin endpoints to invalidate or rebuild the in-memory window index.`,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML configuration (defaults when empty)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, log, err := app.Setup(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := app.NewResources(log)
	defer res.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	provider, err := app.OpenProvider(ctx, cfg, res)
	if err != nil {
		return fmt.Errorf("series provider: %w", err)
	}

	eng, err := app.NewEngine(ctx, cfg, provider, log, rec, res)
	if err != nil {
		return err
	}

	respCache, err := app.OpenCache(ctx, cfg, res)
	if err != nil {
		return fmt.Errorf("response cache: %w", err)
	}

	srv := server.New(eng, server.Config{
		Addr:            cfg.Server.Addr,
		RateLimit:       cfg.Server.RateLimit,
		Burst:           cfg.Server.Burst,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CacheTTL:        cfg.Cache.TTL,
	},
		server.WithCache(respCache),
		server.WithLogger(log),
		server.WithMetrics(rec, reg),
	)

	log.Info().
		Str("source", cfg.Source.Type).
		Bool("persist", cfg.Persist.Enabled).
		Str("sink", cfg.Persist.Sink).
		Str("cache", cfg.Cache.Backend).
		Msg("fractal server starting")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	return srv.Stop(context.Background())
}
