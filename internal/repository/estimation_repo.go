package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/flipdeck-api/internal/models"
)

// ========================================
// Estimation Repository
// ========================================

// SQLiteEstimationRepository implements EstimationRepository for SQLite.
type SQLiteEstimationRepository struct {
	db DBTX
}

// NewSQLiteEstimationRepository creates a new SQLite estimation repository.
func NewSQLiteEstimationRepository(db DBTX) *SQLiteEstimationRepository {
	return &SQLiteEstimationRepository{db: db}
}

func (r *SQLiteEstimationRepository) Create(ctx context.Context, rec *models.EstimationRecord) error {
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to encode estimation result: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO estimations (id, user_id, model_id, idempotency_key, credit_cost, result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.ModelID, nullString(rec.IdempotencyKey), rec.CreditCost, string(resultJSON), formatTime(rec.CreatedAt),
	)
	return err
}

func (r *SQLiteEstimationRepository) scan(row interface{ Scan(...any) error }) (*models.EstimationRecord, error) {
	var rec models.EstimationRecord
	var key sql.NullString
	var resultJSON, createdAt string
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.ModelID, &key, &rec.CreditCost, &resultJSON, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return nil, fmt.Errorf("failed to decode estimation %s: %w", rec.ID, err)
	}
	rec.IdempotencyKey = key.String
	rec.CreatedAt = parseTime(createdAt)
	return &rec, nil
}

func (r *SQLiteEstimationRepository) GetByID(ctx context.Context, userID, id string) (*models.EstimationRecord, error) {
	rec, err := r.scan(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, model_id, idempotency_key, credit_cost, result_json, created_at
		FROM estimations WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (r *SQLiteEstimationRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.EstimationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, model_id, idempotency_key, credit_cost, result_json, created_at
		FROM estimations WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.EstimationRecord
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteEstimationRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM estimations WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

func (r *SQLiteEstimationRepository) ReserveKey(ctx context.Context, userID, key, estimationID string, expiresAt, now time.Time) (bool, error) {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM estimation_dedupe WHERE user_id = ? AND idempotency_key = ? AND expires_at <= ?`,
		userID, key, formatTime(now),
	); err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO estimation_dedupe (user_id, idempotency_key, estimation_id, expires_at)
		VALUES (?, ?, ?, ?) ON CONFLICT(user_id, idempotency_key) DO NOTHING`,
		userID, key, estimationID, formatTime(expiresAt),
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteEstimationRepository) LookupKey(ctx context.Context, userID, key string, now time.Time) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT estimation_id FROM estimation_dedupe
		WHERE user_id = ? AND idempotency_key = ? AND expires_at > ?`,
		userID, key, formatTime(now),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (r *SQLiteEstimationRepository) PruneKeys(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM estimation_dedupe WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
