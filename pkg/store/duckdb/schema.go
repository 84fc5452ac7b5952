package duckdb

import (
	"context"
	"fmt"
)

// CreateCandlesTable creates the close series table read by the engine
const CreateCandlesTable = `
CREATE TABLE IF NOT EXISTS candles (
    symbol VARCHAR NOT NULL,
    timeframe VARCHAR NOT NULL,
    ts TIMESTAMP NOT NULL,
    close DOUBLE NOT NULL,
    quality_score DOUBLE NOT NULL DEFAULT 1.0,
    PRIMARY KEY (symbol, timeframe, ts)
);
`

// CreateWindowsTable creates the persisted query window table
const CreateWindowsTable = `
CREATE TABLE IF NOT EXISTS windows (
    window_id VARCHAR PRIMARY KEY,
    symbol VARCHAR NOT NULL,
    timeframe VARCHAR NOT NULL,
    t_end TIMESTAMP NOT NULL,
    w INTEGER NOT NULL,
    horizon_days INTEGER NOT NULL,
    representation VARCHAR NOT NULL,
    as_of TIMESTAMP,
    feature_version INTEGER NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_windows_symbol_tf ON windows(symbol, timeframe);
`

// CreateWindowFeaturesTable creates the ML feature table
const CreateWindowFeaturesTable = `
CREATE TABLE IF NOT EXISTS window_features (
    window_id VARCHAR PRIMARY KEY,
    trend_slope DOUBLE,
    realized_volatility DOUBLE,
    max_drawdown DOUBLE,
    vol_bucket INTEGER,
    trend_bucket INTEGER,
    regime_tag VARCHAR
);
`

// CreateWindowOutcomesTable holds the analogue prediction and, once known, the realized label
const CreateWindowOutcomesTable = `
CREATE TABLE IF NOT EXISTS window_outcomes (
    window_id VARCHAR PRIMARY KEY,
    ret_p10 DOUBLE,
    ret_p50 DOUBLE,
    ret_p90 DOUBLE,
    ret_mean DOUBLE,
    mdd_p50 DOUBLE,
    sample_size INTEGER,
    stability_score DOUBLE,
    label_return DOUBLE,
    label_mdd DOUBLE
);
`

// InitializeSchema creates all required tables
func InitializeSchema(ctx context.Context, c *Client) error {
	schemas := []string{
		CreateCandlesTable,
		CreateWindowsTable,
		CreateWindowFeaturesTable,
		CreateWindowOutcomesTable,
	}

	for _, schema := range schemas {
		if err := c.Exec(ctx, schema); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}
