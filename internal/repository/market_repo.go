package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/flipdeck-api/internal/models"
)

// ========================================
// Market Repository
// ========================================

// SQLiteMarketRepository implements MarketRepository for SQLite.
type SQLiteMarketRepository struct {
	db DBTX
}

// NewSQLiteMarketRepository creates a new SQLite market repository.
func NewSQLiteMarketRepository(db DBTX) *SQLiteMarketRepository {
	return &SQLiteMarketRepository{db: db}
}

func (r *SQLiteMarketRepository) Insert(ctx context.Context, observations []*models.MarketObservation) error {
	query := `INSERT INTO market_observations (id, model_id, platform, region, condition, price, sold, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	for _, o := range observations {
		sold := 0
		if o.Sold {
			sold = 1
		}
		if _, err := r.db.ExecContext(ctx, query,
			o.ID, o.ModelID, o.Platform, nullString(o.Region), string(o.Condition), o.Price, sold, formatTime(o.ObservedAt),
		); err != nil {
			return fmt.Errorf("failed to insert observation %s: %w", o.ID, err)
		}
	}
	return nil
}

// ListForModel returns observations for a model since the given time, oldest first.
// An empty region matches every region.
func (r *SQLiteMarketRepository) ListForModel(ctx context.Context, modelID, region string, since time.Time) ([]*models.MarketObservation, error) {
	query := `SELECT id, model_id, platform, COALESCE(region, ''), condition, price, sold, observed_at
		FROM market_observations
		WHERE model_id = ? AND observed_at >= ? AND (? = '' OR region = ?)
		ORDER BY observed_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, modelID, formatTime(since), region, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.MarketObservation
	for rows.Next() {
		var o models.MarketObservation
		var condition, observedAt string
		var sold int
		if err := rows.Scan(&o.ID, &o.ModelID, &o.Platform, &o.Region, &condition, &o.Price, &sold, &observedAt); err != nil {
			return nil, err
		}
		o.Condition = models.Condition(condition)
		o.Sold = sold == 1
		o.ObservedAt = parseTime(observedAt)
		out = append(out, &o)
	}
	return out, rows.Err()
}
