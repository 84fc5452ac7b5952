// Package app wires configuration into the concrete stores, caches and engine
// shared by the fractal binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/tunogya/fractal/pkg/cache"
	"github.com/tunogya/fractal/pkg/config"
	"github.com/tunogya/fractal/pkg/data"
	"github.com/tunogya/fractal/pkg/engine"
	"github.com/tunogya/fractal/pkg/logger"
	"github.com/tunogya/fractal/pkg/metrics"
	"github.com/tunogya/fractal/pkg/persist"
	natsq "github.com/tunogya/fractal/pkg/queue/nats"
	"github.com/tunogya/fractal/pkg/store/duckdb"
)

// responseCacheEntries bounds the in-memory response cache
const responseCacheEntries = 1024

// Resources releases what a binary opened, in reverse order
type Resources struct {
	log     zerolog.Logger
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// NewResources creates an empty resource list
func NewResources(log zerolog.Logger) *Resources {
	return &Resources{log: log}
}

// Add registers fn to run on Close
func (r *Resources) Add(name string, fn func() error) {
	r.closers = append(r.closers, closer{name: name, fn: fn})
}

// Close releases every registered resource, logging failures
func (r *Resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.fn(); err != nil {
			r.log.Warn().Err(err).Str("resource", c.name).Msg("close failed")
		}
	}
	r.closers = nil
}

// Setup loads configuration (file plus environment) and builds the root logger
func Setup(path string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}

// OpenDuckDB opens a DuckDB database and registers it for closing
func OpenDuckDB(ctx context.Context, path string, res *Resources) (*duckdb.Client, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create duckdb directory: %w", err)
		}
	}
	client, err := duckdb.NewClient(ctx, path)
	if err != nil {
		return nil, err
	}
	res.Add("duckdb "+path, client.Close)
	return client, nil
}

// OpenProvider returns the Series Provider selected by source.type
func OpenProvider(ctx context.Context, cfg *config.Config, res *Resources) (data.SeriesProvider, error) {
	switch cfg.Source.Type {
	case "csv":
		return data.NewCSVProvider(cfg.Source.CSVPath), nil
	default:
		client, err := OpenDuckDB(ctx, cfg.DuckDB.Path, res)
		if err != nil {
			return nil, err
		}
		return duckdb.NewCandleRepo(client), nil
	}
}

// OpenFeatureStore returns the store selected by persist.sink
func OpenFeatureStore(ctx context.Context, cfg *config.Config, log zerolog.Logger, res *Resources) (persist.FeatureStore, error) {
	switch cfg.Persist.Sink {
	case "discard":
		return persist.Discard{}, nil
	case "duckdb":
		client, err := OpenDuckDB(ctx, cfg.DuckDB.FeaturePath, res)
		if err != nil {
			return nil, err
		}
		return duckdb.NewFeatureRepo(client), nil
	default:
		nc, err := natsq.NewClient(cfg.NATS, log)
		if err != nil {
			return nil, err
		}
		res.Add("nats", func() error { nc.Close(); return nil })
		if err := nc.CreateStream(ctx, []string{natsq.SubjectFeatureUpsert}); err != nil {
			return nil, err
		}
		return natsq.NewFeaturePublisher(nc), nil
	}
}

// OpenCache returns the response cache selected by cache.backend
func OpenCache(ctx context.Context, cfg *config.Config, res *Resources) (cache.BytesCache, error) {
	switch cfg.Cache.Backend {
	case "none":
		return cache.Nop{}, nil
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		res.Add("redis", rc.Close)
		return rc, nil
	default:
		return cache.NewTTLCache(responseCacheEntries), nil
	}
}

// NewEngine builds the engine and, when persistence is enabled, its started dispatcher.
// The dispatcher is registered for draining on Close.
func NewEngine(ctx context.Context, cfg *config.Config, provider data.SeriesProvider, log zerolog.Logger, rec *metrics.Recorder, res *Resources) (*engine.Engine, error) {
	opts := []engine.Option{
		engine.WithConfig(cfg.Engine),
		engine.WithLogger(log),
		engine.WithMetrics(rec),
	}

	if cfg.Persist.Enabled {
		store, err := OpenFeatureStore(ctx, cfg, log, res)
		if err != nil {
			return nil, fmt.Errorf("feature store: %w", err)
		}
		d := persist.NewDispatcher(store, cfg.Persist.Config, log, rec)
		d.Start()
		res.Add("dispatcher", func() error {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Persist.WriteTimeout)
			defer cancel()
			return d.Stop(stopCtx)
		})
		opts = append(opts, engine.WithFeatureSink(d))
	}

	return engine.New(provider, opts...), nil
}
