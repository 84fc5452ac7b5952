package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/fractal/pkg/model"
	natsq "github.com/tunogya/fractal/pkg/queue/nats"
	"github.com/tunogya/fractal/pkg/store/milvus"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fractal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, time.Hour, c.Engine.CacheTTL)
	assert.Equal(t, 120, c.Engine.MinGapFloorDays)
	assert.Equal(t, 0.12, c.Engine.AgeDecay.Lambda)
	assert.Equal(t, "duckdb", c.Source.Type)
	assert.Equal(t, "nats", c.Persist.Sink)
	assert.Equal(t, 256, c.Persist.QueueSize)
	assert.Equal(t, 200*time.Millisecond, c.Persist.BaseDelay)
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "memory", c.Cache.Backend)
	assert.Equal(t, "data/features.duckdb", c.DuckDB.FeaturePath)
	assert.Equal(t, natsq.DefaultConfig(), c.NATS)
	assert.Equal(t, milvus.DefaultConfig(), c.Milvus.Config)
	assert.False(t, c.Milvus.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: console
engine:
  cache_ttl: 30m
  window_lengths: [30, 60]
  index_modes: [raw_returns]
  min_quality: 0.8
  age_decay:
    enabled: true
    lambda: 0.2
source:
  type: csv
  csv_path: data/btc.csv
persist:
  sink: duckdb
  workers: 4
  max_delay: 2s
server:
  addr: ":9090"
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 30*time.Minute, c.Engine.CacheTTL)
	assert.Equal(t, []int{30, 60}, c.Engine.WindowLengths)
	assert.Equal(t, []model.Representation{model.RawReturns}, c.Engine.IndexModes)
	assert.Equal(t, 0.8, c.Engine.MinQuality)
	assert.True(t, c.Engine.AgeDecay.Enabled)
	assert.Equal(t, 0.2, c.Engine.AgeDecay.Lambda)
	assert.Equal(t, "data/btc.csv", c.Source.CSVPath)
	assert.Equal(t, "duckdb", c.Persist.Sink)
	assert.Equal(t, 4, c.Persist.Workers)
	assert.Equal(t, 2*time.Second, c.Persist.MaxDelay)
	assert.Equal(t, 256, c.Persist.QueueSize)
	assert.Equal(t, ":9090", c.Server.Addr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown sink", "persist:\n  sink: kafka\n"},
		{"csv without path", "source:\n  type: csv\n"},
		{"quality out of range", "engine:\n  min_quality: 2\n"},
		{"unknown mode", "engine:\n  index_modes: [dtw]\n"},
		{"malformed yaml", "engine: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("FRACTAL_DUCKDB_PATH", "/tmp/x.duckdb")
	t.Setenv("FRACTAL_NATS_URL", "nats://nats:4222")
	t.Setenv("FRACTAL_MILVUS_ADDR", "milvus:19530")
	t.Setenv("FRACTAL_REDIS_ADDR", "redis:6379")
	t.Setenv("FRACTAL_LOG_LEVEL", "WARN")

	c, err := LoadWithEnv("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/x.duckdb", c.DuckDB.Path)
	assert.Equal(t, "nats://nats:4222", c.NATS.URL)
	assert.True(t, c.Milvus.Enabled)
	assert.Equal(t, "milvus:19530", c.Milvus.Addr)
	assert.Equal(t, "redis", c.Cache.Backend)
	assert.Equal(t, "redis:6379", c.Cache.Redis.Addr)
	assert.Equal(t, "warn", c.Log.Level)
}
