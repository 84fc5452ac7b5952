package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tunogya/fractal/pkg/model"
)

const upsertFeatures = `
	INSERT INTO window_features (
		window_id, trend_slope, realized_volatility, max_drawdown,
		vol_bucket, trend_bucket, regime_tag
	)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (window_id) DO UPDATE SET
		trend_slope = EXCLUDED.trend_slope,
		realized_volatility = EXCLUDED.realized_volatility,
		max_drawdown = EXCLUDED.max_drawdown,
		vol_bucket = EXCLUDED.vol_bucket,
		trend_bucket = EXCLUDED.trend_bucket,
		regime_tag = EXCLUDED.regime_tag
`

// a missing label never erases one that was already recorded
const upsertOutcome = `
	INSERT INTO window_outcomes (
		window_id, ret_p10, ret_p50, ret_p90, ret_mean, mdd_p50,
		sample_size, stability_score, label_return, label_mdd
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (window_id) DO UPDATE SET
		ret_p10 = EXCLUDED.ret_p10,
		ret_p50 = EXCLUDED.ret_p50,
		ret_p90 = EXCLUDED.ret_p90,
		ret_mean = EXCLUDED.ret_mean,
		mdd_p50 = EXCLUDED.mdd_p50,
		sample_size = EXCLUDED.sample_size,
		stability_score = EXCLUDED.stability_score,
		label_return = COALESCE(EXCLUDED.label_return, window_outcomes.label_return),
		label_mdd = COALESCE(EXCLUDED.label_mdd, window_outcomes.label_mdd)
`

// ErrWindowNotFound is returned when no persisted window has the requested ID
var ErrWindowNotFound = errors.New("window not found")

// FeatureRepo is the DuckDB feature store: one upsert writes window, features and outcome rows
type FeatureRepo struct {
	client  *Client
	windows *WindowRepo
}

// NewFeatureRepo creates a new feature repository
func NewFeatureRepo(client *Client) *FeatureRepo {
	return &FeatureRepo{client: client, windows: NewWindowRepo(client)}
}

// UpsertWindow writes one record atomically, keyed by meta.WindowID
func (r *FeatureRepo) UpsertWindow(ctx context.Context, meta model.WindowMeta, f model.WindowFeatures, p model.Prediction, label *model.Label) error {
	tx, err := r.client.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.windows.upsertTx(ctx, tx, meta); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, upsertFeatures,
		meta.WindowID, f.TrendSlope, f.RealizedVolatility, f.MaxDrawdown,
		f.VolBucket, f.TrendBucket, f.RegimeTag,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert features: %w", err)
	}

	var labelRet, labelMDD interface{}
	if label != nil {
		labelRet, labelMDD = label.Return, label.MaxDrawdown
	}
	_, err = tx.ExecContext(ctx, upsertOutcome,
		meta.WindowID, p.ReturnP10, p.ReturnP50, p.ReturnP90, p.ReturnMean, p.DrawdownP50,
		p.SampleSize, p.StabilityScore, labelRet, labelMDD,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert outcome: %w", err)
	}

	return tx.Commit()
}

// GetByID reassembles the persisted record of a window
func (r *FeatureRepo) GetByID(ctx context.Context, windowID string) (*model.FeatureRecord, error) {
	meta, err := r.windows.GetByID(ctx, windowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", windowID, ErrWindowNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get window: %w", err)
	}

	query := `
		SELECT f.trend_slope, f.realized_volatility, f.max_drawdown, f.vol_bucket, f.trend_bucket, f.regime_tag,
			o.ret_p10, o.ret_p50, o.ret_p90, o.ret_mean, o.mdd_p50, o.sample_size, o.stability_score,
			o.label_return, o.label_mdd
		FROM window_features f
		JOIN window_outcomes o ON o.window_id = f.window_id
		WHERE f.window_id = ?
	`

	rec := model.FeatureRecord{Meta: *meta}
	f, p := &rec.Features, &rec.Prediction
	var labelRet, labelMDD sql.NullFloat64
	err = r.client.QueryRow(ctx, query, windowID).Scan(
		&f.TrendSlope, &f.RealizedVolatility, &f.MaxDrawdown, &f.VolBucket, &f.TrendBucket, &f.RegimeTag,
		&p.ReturnP10, &p.ReturnP50, &p.ReturnP90, &p.ReturnMean, &p.DrawdownP50, &p.SampleSize, &p.StabilityScore,
		&labelRet, &labelMDD,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get features: %w", err)
	}
	if labelRet.Valid {
		rec.Label = &model.Label{Return: labelRet.Float64, MaxDrawdown: labelMDD.Float64}
	}

	return &rec, nil
}

// GetByBuckets returns window IDs of a series that share the given regime buckets
func (r *FeatureRepo) GetByBuckets(ctx context.Context, symbol, timeframe string, trendBucket, volBucket int) ([]string, error) {
	query := `
		SELECT w.window_id
		FROM windows w
		JOIN window_features f ON f.window_id = w.window_id
		WHERE w.symbol = ? AND w.timeframe = ? AND f.trend_bucket = ? AND f.vol_bucket = ?
		ORDER BY w.t_end ASC
	`

	rows, err := r.client.Query(ctx, query, symbol, timeframe, trendBucket, volBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to query features: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan window id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
