package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmylchreest/flipdeck-api/internal/models"
)

// ========================================
// Credit Repository
// ========================================

// SQLiteCreditRepository implements CreditRepository for SQLite.
type SQLiteCreditRepository struct {
	db DBTX
}

// NewSQLiteCreditRepository creates a new SQLite credit repository.
func NewSQLiteCreditRepository(db DBTX) *SQLiteCreditRepository {
	return &SQLiteCreditRepository{db: db}
}

func (r *SQLiteCreditRepository) GetAccount(ctx context.Context, userID string) (*models.CreditAccount, error) {
	query := `SELECT user_id, plan, balance, reset_at, created_at, updated_at
		FROM credit_accounts WHERE user_id = ? AND deleted_at IS NULL`

	var acct models.CreditAccount
	var resetAt, createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&acct.UserID, &acct.Plan, &acct.Balance, &resetAt, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	acct.ResetAt = parseTime(resetAt)
	acct.CreatedAt = parseTime(createdAt)
	acct.UpdatedAt = parseTime(updatedAt)
	return &acct, nil
}

func (r *SQLiteCreditRepository) CreateAccount(ctx context.Context, acct *models.CreditAccount) (bool, error) {
	query := `INSERT INTO credit_accounts (user_id, plan, balance, reset_at, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		acct.UserID, acct.Plan, formatTime(acct.ResetAt), formatTime(acct.CreatedAt), formatTime(acct.UpdatedAt),
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

func (r *SQLiteCreditRepository) ApplyDelta(ctx context.Context, userID string, delta int64, now time.Time) (int64, bool, error) {
	query := `UPDATE credit_accounts
		SET balance = balance + ?, updated_at = ?
		WHERE user_id = ? AND deleted_at IS NULL AND balance + ? >= 0
		RETURNING balance`

	var balance int64
	err := r.db.QueryRowContext(ctx, query, delta, formatTime(now), userID, delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

func (r *SQLiteCreditRepository) ApplyDeltaIfBalance(ctx context.Context, userID string, expected, delta int64, now time.Time) (int64, bool, error) {
	query := `UPDATE credit_accounts
		SET balance = balance + ?, updated_at = ?
		WHERE user_id = ? AND deleted_at IS NULL AND balance = ? AND balance + ? >= 0
		RETURNING balance`

	var balance int64
	err := r.db.QueryRowContext(ctx, query, delta, formatTime(now), userID, expected, delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

func (r *SQLiteCreditRepository) AppendEntry(ctx context.Context, e *models.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (id, user_id, amount, source, reason, reference, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.UserID, e.Amount, string(e.Source), nullString(e.Reason), nullString(e.Reference),
		e.BalanceAfter, formatTime(e.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateReference
	}
	return err
}

func (r *SQLiteCreditRepository) HasReference(ctx context.Context, source models.LedgerSource, reference string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE source = ? AND reference = ?)`,
		string(source), reference,
	).Scan(&exists)
	return exists == 1, err
}

func (r *SQLiteCreditRepository) ListEntries(ctx context.Context, userID string, limit, offset int) ([]*models.LedgerEntry, error) {
	query := `SELECT id, user_id, amount, source, reason, reference, balance_after, created_at
		FROM ledger_entries WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var source, createdAt string
		var reason, reference sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &source, &reason, &reference, &e.BalanceAfter, &createdAt); err != nil {
			return nil, err
		}
		e.Source = models.LedgerSource(source)
		e.Reason = reason.String
		e.Reference = reference.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (r *SQLiteCreditRepository) CountEntries(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

func (r *SQLiteCreditRepository) SumEntries(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = ?`, userID).Scan(&sum)
	return sum, err
}

func (r *SQLiteCreditRepository) SetPlan(ctx context.Context, userID, plan string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE credit_accounts SET plan = ?, updated_at = ? WHERE user_id = ?`,
		plan, formatTime(now), userID,
	)
	return err
}

func (r *SQLiteCreditRepository) SetResetAt(ctx context.Context, userID string, resetAt, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE credit_accounts SET reset_at = ?, updated_at = ? WHERE user_id = ?`,
		formatTime(resetAt), formatTime(now), userID,
	)
	return err
}

func (r *SQLiteCreditRepository) ListDueForReset(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM credit_accounts
		WHERE deleted_at IS NULL AND reset_at <= ?
		ORDER BY reset_at ASC LIMIT ?`,
		formatTime(now), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteCreditRepository) MarkDeleted(ctx context.Context, userID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE credit_accounts SET deleted_at = ?, updated_at = ? WHERE user_id = ? AND deleted_at IS NULL`,
		formatTime(now), formatTime(now), userID,
	)
	return err
}
