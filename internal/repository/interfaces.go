// Package repository defines repository interfaces for data access.
// User identities are managed by Clerk; user_id columns hold Clerk user IDs.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/flipdeck-api/internal/models"
)

// ErrDuplicateReference is returned when a ledger entry reuses a (source, reference) pair.
var ErrDuplicateReference = errors.New("ledger reference already recorded")

// DBTX is the query surface shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreditRepository defines methods for credit account and ledger data access.
// Balances change only through relative deltas.
type CreditRepository interface {
	GetAccount(ctx context.Context, userID string) (*models.CreditAccount, error)
	// CreateAccount inserts the account with a zero balance. Returns false if it already exists.
	CreateAccount(ctx context.Context, acct *models.CreditAccount) (bool, error)
	// ApplyDelta adds delta to the balance unless the result would be negative.
	// Returns the new balance and false when the guard rejected the update
	// (insufficient balance or unknown account).
	ApplyDelta(ctx context.Context, userID string, delta int64, now time.Time) (int64, bool, error)
	// ApplyDeltaIfBalance is ApplyDelta guarded on the balance still equalling expected.
	ApplyDeltaIfBalance(ctx context.Context, userID string, expected, delta int64, now time.Time) (int64, bool, error)
	// AppendEntry records a ledger entry. Returns ErrDuplicateReference on reference reuse.
	AppendEntry(ctx context.Context, entry *models.LedgerEntry) error
	HasReference(ctx context.Context, source models.LedgerSource, reference string) (bool, error)
	ListEntries(ctx context.Context, userID string, limit, offset int) ([]*models.LedgerEntry, error)
	CountEntries(ctx context.Context, userID string) (int, error)
	// SumEntries returns the sum of all ledger amounts for a user.
	SumEntries(ctx context.Context, userID string) (int64, error)
	SetPlan(ctx context.Context, userID, plan string, now time.Time) error
	SetResetAt(ctx context.Context, userID string, resetAt, now time.Time) error
	// ListDueForReset returns user IDs whose reset boundary has passed.
	ListDueForReset(ctx context.Context, now time.Time, limit int) ([]string, error)
	MarkDeleted(ctx context.Context, userID string, now time.Time) error
}

// TaskRepository defines methods for community task and job data access.
type TaskRepository interface {
	Create(ctx context.Context, task *models.CommunityTask) error
	GetByID(ctx context.Context, id string) (*models.CommunityTask, error)
	// ListAvailable returns available tasks ordered by priority desc, reward desc.
	ListAvailable(ctx context.Context, limit int) ([]*models.CommunityTask, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.CommunityTask, error)
	// TryClaim moves an available task to claimed for userID.
	// Returns false if the task was not available.
	TryClaim(ctx context.Context, taskID, userID, jobID string, now time.Time) (bool, error)
	// Transition moves a task from one of the given states to another.
	// Returns false if the task was not in any of the from states.
	Transition(ctx context.Context, taskID string, from []models.TaskState, to models.TaskState, reason string, now time.Time) (bool, error)
	CreateJob(ctx context.Context, job *models.TaskJob) error
	GetJob(ctx context.Context, jobID string) (*models.TaskJob, error)
	// AdvanceProgress stores counters only if neither decreases and at least one increases,
	// and the job is still active and not past its expiry. Returns false when the
	// report was ignored.
	AdvanceProgress(ctx context.Context, jobID string, pages, ads int, now, expiresAt time.Time) (bool, error)
	// RaiseCounters sets counters to max(stored, given).
	RaiseCounters(ctx context.Context, jobID string, pages, ads int) error
	// ListExpiredJobs returns active job IDs whose expiry has passed.
	ListExpiredJobs(ctx context.Context, now time.Time, limit int) ([]string, error)
	CountAvailable(ctx context.Context) (int, error)
}

// QuotaRepository defines methods for daily claim quota and cooldown data access.
type QuotaRepository interface {
	GetUsed(ctx context.Context, userID, day string) (int, error)
	Increment(ctx context.Context, userID, day string) error
	// GetCooldownUntil returns the end of the user's cooldown, or nil if none was recorded.
	GetCooldownUntil(ctx context.Context, userID string) (*time.Time, error)
	SetCooldown(ctx context.Context, userID string, lastClaimAt, until time.Time) error
	// PruneBefore deletes quota rows for days strictly before day.
	PruneBefore(ctx context.Context, day string) (int64, error)
}

// MarketRepository defines methods for market observation data access.
type MarketRepository interface {
	Insert(ctx context.Context, observations []*models.MarketObservation) error
	ListForModel(ctx context.Context, modelID, region string, since time.Time) ([]*models.MarketObservation, error)
}

// EstimationRepository defines methods for estimation history and replay key data access.
type EstimationRepository interface {
	Create(ctx context.Context, rec *models.EstimationRecord) error
	GetByID(ctx context.Context, userID, id string) (*models.EstimationRecord, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.EstimationRecord, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	// ReserveKey binds an idempotency key to an estimation until expiresAt.
	// Expired bindings are replaced. Returns false if a live binding exists.
	ReserveKey(ctx context.Context, userID, key, estimationID string, expiresAt, now time.Time) (bool, error)
	// LookupKey returns the estimation bound to a live key, or "".
	LookupKey(ctx context.Context, userID, key string, now time.Time) (string, error)
	PruneKeys(ctx context.Context, now time.Time) (int64, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	Credit     CreditRepository
	Task       TaskRepository
	Quota      QuotaRepository
	Market     MarketRepository
	Estimation EstimationRepository

	db *sql.DB // nil when bound to a transaction or built from mocks
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	r := bind(db)
	r.db = db
	return r
}

func bind(q DBTX) *Repositories {
	return &Repositories{
		Credit:     NewSQLiteCreditRepository(q),
		Task:       NewSQLiteTaskRepository(q),
		Quota:      NewSQLiteQuotaRepository(q),
		Market:     NewSQLiteMarketRepository(q),
		Estimation: NewSQLiteEstimationRepository(q),
	}
}

// RunInTx runs fn with repositories bound to a single transaction. The
// transaction commits if fn returns nil and rolls back otherwise.
// When r is already transaction-bound (or has no database) fn runs directly
// against r, so calls compose.
func (r *Repositories) RunInTx(ctx context.Context, fn func(tx *Repositories) error) error {
	if r.db == nil {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(bind(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DB returns the underlying database handle, or nil when transaction-bound.
func (r *Repositories) DB() *sql.DB {
	return r.db
}
