package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fractal.log")
	l, err := New(Config{Level: "debug", Output: path})
	require.NoError(t, err)
	l.Debug().Msg("hello")
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Output: "stdout"})
	require.NoError(t, err)

	cl := Component(l.Output(&buf), "engine")
	cl.Info().Str("symbol", "BTC").Msg("rebuilt")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "BTC", entry["symbol"])
	assert.Equal(t, "info", entry["level"])
}
