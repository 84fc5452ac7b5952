package duckdb

import (
	"context"
	"fmt"

	"github.com/tunogya/fractal/pkg/data"
	"github.com/tunogya/fractal/pkg/model"
)

const upsertCandle = `
	INSERT INTO candles (symbol, timeframe, ts, close, quality_score)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
		close = EXCLUDED.close,
		quality_score = EXCLUDED.quality_score
`

// CandleRepo stores close series and serves them to the engine
type CandleRepo struct {
	client *Client
}

// NewCandleRepo creates a new candle repository
func NewCandleRepo(client *Client) *CandleRepo {
	return &CandleRepo{client: client}
}

// InsertBatch upserts candles in a transaction
func (r *CandleRepo) InsertBatch(ctx context.Context, candles []model.Candle) error {
	tx, err := r.client.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertCandle)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, c.Symbol, c.Timeframe, c.Timestamp.UTC(), c.Close, c.QualityScore)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	return tx.Commit()
}

// GetSeriesWithQuality returns the full series of symbol/timeframe in timestamp order
func (r *CandleRepo) GetSeriesWithQuality(ctx context.Context, symbol, timeframe string) ([]model.Candle, error) {
	query := `
		SELECT symbol, timeframe, ts, close, quality_score
		FROM candles
		WHERE symbol = ? AND timeframe = ?
		ORDER BY ts ASC
	`

	rows, err := r.client.Query(ctx, query, symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.Timestamp, &c.Close, &c.QualityScore); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candles: %w", err)
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("%s %s: %w", symbol, timeframe, data.ErrNoSeries)
	}
	return candles, nil
}

// Count returns the total number of candles for a symbol/timeframe
func (r *CandleRepo) Count(ctx context.Context, symbol, timeframe string) (int64, error) {
	var count int64
	row := r.client.QueryRow(ctx,
		"SELECT COUNT(*) FROM candles WHERE symbol = ? AND timeframe = ?",
		symbol, timeframe,
	)
	err := row.Scan(&count)
	return count, err
}

// Series lists the stored symbol/timeframe pairs
func (r *CandleRepo) Series(ctx context.Context) ([][2]string, error) {
	rows, err := r.client.Query(ctx, "SELECT DISTINCT symbol, timeframe FROM candles ORDER BY symbol, timeframe")
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var s [2]string
		if err := rows.Scan(&s[0], &s[1]); err != nil {
			return nil, fmt.Errorf("failed to scan series: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
