package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ========================================
// Quota Repository
// ========================================

// SQLiteQuotaRepository implements QuotaRepository for SQLite.
type SQLiteQuotaRepository struct {
	db DBTX
}

// NewSQLiteQuotaRepository creates a new SQLite quota repository.
func NewSQLiteQuotaRepository(db DBTX) *SQLiteQuotaRepository {
	return &SQLiteQuotaRepository{db: db}
}

func (r *SQLiteQuotaRepository) GetUsed(ctx context.Context, userID, day string) (int, error) {
	var used int
	err := r.db.QueryRowContext(ctx,
		`SELECT used FROM community_quotas WHERE user_id = ? AND day = ?`, userID, day,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return used, err
}

func (r *SQLiteQuotaRepository) Increment(ctx context.Context, userID, day string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO community_quotas (user_id, day, used) VALUES (?, ?, 1)
		ON CONFLICT(user_id, day) DO UPDATE SET used = used + 1`,
		userID, day,
	)
	return err
}

func (r *SQLiteQuotaRepository) GetCooldownUntil(ctx context.Context, userID string) (*time.Time, error) {
	var until string
	err := r.db.QueryRowContext(ctx,
		`SELECT cooldown_until FROM community_cooldowns WHERE user_id = ?`, userID,
	).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := parseTime(until)
	return &t, nil
}

func (r *SQLiteQuotaRepository) SetCooldown(ctx context.Context, userID string, lastClaimAt, until time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO community_cooldowns (user_id, last_claim_at, cooldown_until) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_claim_at = excluded.last_claim_at, cooldown_until = excluded.cooldown_until`,
		userID, formatTime(lastClaimAt), formatTime(until),
	)
	return err
}

func (r *SQLiteQuotaRepository) PruneBefore(ctx context.Context, day string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM community_quotas WHERE day < ?`, day)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
