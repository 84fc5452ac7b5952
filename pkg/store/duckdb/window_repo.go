package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tunogya/fractal/pkg/model"
)

const upsertWindow = `
	INSERT INTO windows (window_id, symbol, timeframe, t_end, w, horizon_days, representation, as_of, feature_version, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT (window_id) DO UPDATE SET
		representation = EXCLUDED.representation,
		as_of = EXCLUDED.as_of,
		updated_at = CURRENT_TIMESTAMP
`

// WindowRepo handles persisted window metadata
type WindowRepo struct {
	client *Client
}

// NewWindowRepo creates a new window repository
func NewWindowRepo(client *Client) *WindowRepo {
	return &WindowRepo{client: client}
}

// upsertTx writes meta inside tx
func (r *WindowRepo) upsertTx(ctx context.Context, tx *sql.Tx, m model.WindowMeta) error {
	var asOf interface{}
	if m.AsOf != nil {
		asOf = m.AsOf.UTC()
	}
	_, err := tx.ExecContext(ctx, upsertWindow,
		m.WindowID, m.Symbol, m.Timeframe, m.TEnd.UTC(), m.W, m.HorizonDays, m.Representation, asOf, m.FeatureVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert window: %w", err)
	}
	return nil
}

// Exists checks if a window exists by ID
func (r *WindowRepo) Exists(ctx context.Context, windowID string) (bool, error) {
	var count int
	row := r.client.QueryRow(ctx, "SELECT COUNT(*) FROM windows WHERE window_id = ?", windowID)
	err := row.Scan(&count)
	return count > 0, err
}

// GetByID retrieves window metadata by ID
func (r *WindowRepo) GetByID(ctx context.Context, windowID string) (*model.WindowMeta, error) {
	query := `
		SELECT window_id, symbol, timeframe, t_end, w, horizon_days, representation, as_of, feature_version
		FROM windows
		WHERE window_id = ?
	`

	row := r.client.QueryRow(ctx, query, windowID)
	var m model.WindowMeta
	var asOf sql.NullTime
	err := row.Scan(&m.WindowID, &m.Symbol, &m.Timeframe, &m.TEnd, &m.W, &m.HorizonDays, &m.Representation, &asOf, &m.FeatureVersion)
	if err != nil {
		return nil, err
	}
	m.TEnd = m.TEnd.UTC()
	if asOf.Valid {
		t := asOf.Time.UTC()
		m.AsOf = &t
	}

	return &m, nil
}

// Count returns the number of persisted windows of a symbol/timeframe
func (r *WindowRepo) Count(ctx context.Context, symbol, timeframe string) (int64, error) {
	var count int64
	row := r.client.QueryRow(ctx,
		"SELECT COUNT(*) FROM windows WHERE symbol = ? AND timeframe = ?",
		symbol, timeframe,
	)
	err := row.Scan(&count)
	return count, err
}
