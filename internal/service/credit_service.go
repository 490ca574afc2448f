package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/flipdeck-api/internal/constants"
	"github.com/jmylchreest/flipdeck-api/internal/metrics"
	"github.com/jmylchreest/flipdeck-api/internal/models"
	"github.com/jmylchreest/flipdeck-api/internal/repository"
)

// resetRetries bounds ResetMonthly attempts when the balance moves mid-reset.
const resetRetries = 3

// resetBatchSize is how many due accounts ResetDue loads per pass.
const resetBatchSize = 200

// CreditService owns every balance movement. All changes are relative deltas
// paired with a ledger entry in the same transaction, so the balance always
// equals the sum of the account's entries.
type CreditService struct {
	repos  *repository.Repositories
	logger *slog.Logger
	now    func() time.Time
}

// NewCreditService creates a new credit service.
func NewCreditService(repos *repository.Repositories, logger *slog.Logger) *CreditService {
	return &CreditService{
		repos:  repos,
		logger: logger.With("component", "credits"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetAccount returns the user's account, or ErrAccountNotFound.
func (s *CreditService) GetAccount(ctx context.Context, userID string) (*models.CreditAccount, error) {
	acct, err := s.repos.Credit.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if acct == nil {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

// EnsureAccount creates the account on first sight, opening it with the
// plan's monthly allotment. Calling it again is a no-op.
func (s *CreditService) EnsureAccount(ctx context.Context, userID, plan string) (*models.CreditAccount, error) {
	now := s.now()
	ent := constants.Resolve(plan)

	var opened *models.LedgerEntry
	err := s.repos.RunInTx(ctx, func(tx *repository.Repositories) error {
		created, err := tx.Credit.CreateAccount(ctx, &models.CreditAccount{
			UserID:    userID,
			Plan:      string(ent.Plan),
			ResetAt:   constants.NextMonthlyReset(now),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		if !created || ent.MonthlyCredits == 0 {
			return nil
		}
		opened, err = s.applyEntry(ctx, tx, userID, ent.MonthlyCredits, models.SourceSubscription,
			"opening allotment", "signup:"+userID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if opened != nil {
		s.logger.Info("credit account opened", "user_id", userID, "plan", ent.Plan, "balance", opened.BalanceAfter)
		s.record(opened)
	}
	return s.GetAccount(ctx, userID)
}

// Debit removes amount credits. It fails with ErrInsufficientCredits, leaving
// the balance and ledger untouched, when the balance cannot cover it.
func (s *CreditService) Debit(ctx context.Context, userID string, amount int64, reason string) (*models.CreditAccount, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var entry *models.LedgerEntry
	err := s.repos.RunInTx(ctx, func(tx *repository.Repositories) error {
		var err error
		entry, err = s.debitTx(ctx, tx, userID, amount, reason, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(entry)
	return s.GetAccount(ctx, userID)
}

// Credit adds amount credits from source. A non-empty reference makes the
// call idempotent: a second credit with the same (source, reference) is a no-op.
func (s *CreditService) Credit(ctx context.Context, userID string, amount int64, source models.LedgerSource, reference string) (*models.CreditAccount, error) {
	if amount < 0 || !source.Valid() || source == models.SourceEstimationDebit || source == models.SourceExpiry {
		return nil, ErrInvalidAmount
	}
	if amount == 0 {
		return s.GetAccount(ctx, userID)
	}

	var entry *models.LedgerEntry
	err := s.repos.RunInTx(ctx, func(tx *repository.Repositories) error {
		var err error
		entry, err = s.creditTx(ctx, tx, userID, amount, source, "", reference)
		return err
	})
	if errors.Is(err, repository.ErrDuplicateReference) {
		s.logger.Info("duplicate credit ignored", "user_id", userID, "source", source, "reference", reference)
		return s.GetAccount(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	if entry == nil {
		s.logger.Info("duplicate credit ignored", "user_id", userID, "source", source, "reference", reference)
	} else {
		s.record(entry)
	}
	return s.GetAccount(ctx, userID)
}

// ResetMonthly forfeits the remaining balance and grants the plan's monthly
// allotment, then moves the reset boundary to the next month. The result is
// written as two ledger entries (expiry, subscription).
func (s *CreditService) ResetMonthly(ctx context.Context, userID string) (*models.CreditAccount, error) {
	acct, _, err := s.reset(ctx, userID, false)
	return acct, err
}

// ResetDue resets every account whose reset boundary is at or before now.
// Accounts that fail are logged and left for the next run.
func (s *CreditService) ResetDue(ctx context.Context, now time.Time) (int, error) {
	done := 0
	failed := make(map[string]bool)

	for {
		ids, err := s.repos.Credit.ListDueForReset(ctx, now, resetBatchSize)
		if err != nil {
			return done, fmt.Errorf("failed to list due accounts: %w", err)
		}

		progressed := false
		for _, id := range ids {
			if failed[id] {
				continue
			}
			if ctx.Err() != nil {
				return done, ctx.Err()
			}
			_, applied, err := s.reset(ctx, id, true)
			if err != nil {
				s.logger.Error("monthly reset failed", "user_id", id, "error", err)
				failed[id] = true
				continue
			}
			if applied {
				done++
				progressed = true
			}
		}

		if len(ids) < resetBatchSize || !progressed {
			break
		}
	}

	if done > 0 || len(failed) > 0 {
		s.logger.Info("monthly reset sweep completed", "reset", done, "failed", len(failed))
	}
	return done, nil
}

// DueForReset returns the IDs of accounts whose reset boundary has passed.
func (s *CreditService) DueForReset(ctx context.Context, now time.Time) ([]string, error) {
	return s.repos.Credit.ListDueForReset(ctx, now, resetBatchSize)
}

// reset reports applied=false when a scheduled reset found the account no
// longer due or the period already granted.
func (s *CreditService) reset(ctx context.Context, userID string, onlyIfDue bool) (*models.CreditAccount, bool, error) {
	var err error
	for attempt := 1; attempt <= resetRetries; attempt++ {
		var entries []*models.LedgerEntry
		applied := false
		now := s.now()

		err = s.repos.RunInTx(ctx, func(tx *repository.Repositories) error {
			acct, err := tx.Credit.GetAccount(ctx, userID)
			if err != nil {
				return fmt.Errorf("failed to get account: %w", err)
			}
			if acct == nil {
				return ErrAccountNotFound
			}
			if onlyIfDue && acct.ResetAt.After(now) {
				return nil
			}

			// Scheduled resets are keyed on the period they close.
			var reference string
			if onlyIfDue {
				reference = fmt.Sprintf("reset:%s:%s", userID, acct.ResetAt.Format("2006-01"))
			}

			if acct.Balance > 0 {
				balance, ok, err := tx.Credit.ApplyDeltaIfBalance(ctx, userID, acct.Balance, -acct.Balance, now)
				if err != nil {
					return fmt.Errorf("failed to forfeit balance: %w", err)
				}
				if !ok {
					return ErrLedgerConflict
				}
				forfeit := &models.LedgerEntry{
					ID:           ulid.Make().String(),
					UserID:       userID,
					Amount:       -acct.Balance,
					Source:       models.SourceExpiry,
					Reason:       "monthly reset",
					Reference:    reference,
					BalanceAfter: balance,
					CreatedAt:    now,
				}
				if err := tx.Credit.AppendEntry(ctx, forfeit); err != nil {
					return fmt.Errorf("failed to record forfeit: %w", err)
				}
				entries = append(entries, forfeit)
			}

			ent := constants.Resolve(acct.Plan)
			if ent.MonthlyCredits > 0 {
				grant, err := s.applyEntry(ctx, tx, userID, ent.MonthlyCredits, models.SourceSubscription,
					"monthly allotment", reference, now)
				if err != nil {
					return err
				}
				if grant == nil {
					return repository.ErrDuplicateReference
				}
				entries = append(entries, grant)
			}

			if err := tx.Credit.SetResetAt(ctx, userID, constants.NextMonthlyReset(now), now); err != nil {
				return fmt.Errorf("failed to advance reset date: %w", err)
			}
			applied = true
			return nil
		})

		if errors.Is(err, ErrLedgerConflict) {
			s.logger.Warn("balance moved during reset, retrying", "user_id", userID, "attempt", attempt)
			continue
		}
		if errors.Is(err, repository.ErrDuplicateReference) {
			s.logger.Info("reset period already granted", "user_id", userID)
			acct, err := s.GetAccount(ctx, userID)
			return acct, false, err
		}
		if err != nil {
			return nil, false, err
		}

		s.record(entries...)
		acct, err := s.GetAccount(ctx, userID)
		if err == nil && len(entries) > 0 {
			s.logger.Info("monthly reset applied", "user_id", userID, "plan", acct.Plan, "balance", acct.Balance)
		}
		return acct, applied, err
	}
	return nil, false, err
}

// SetPlan records a subscription change. The balance is untouched; the new
// allotment applies from the next reset.
func (s *CreditService) SetPlan(ctx context.Context, userID, plan string) error {
	p := constants.NormalizePlanName(plan)
	if err := s.repos.Credit.SetPlan(ctx, userID, string(p), s.now()); err != nil {
		return fmt.Errorf("failed to set plan: %w", err)
	}
	s.logger.Info("plan changed", "user_id", userID, "plan", p)
	return nil
}

// MarkDeleted hides the account. Ledger history is kept.
func (s *CreditService) MarkDeleted(ctx context.Context, userID string) error {
	if err := s.repos.Credit.MarkDeleted(ctx, userID, s.now()); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	s.logger.Info("credit account deleted", "user_id", userID)
	return nil
}

// History returns a page of ledger entries, newest first, and the total count.
func (s *CreditService) History(ctx context.Context, userID string, limit, offset int) ([]*models.LedgerEntry, int, error) {
	entries, err := s.repos.Credit.ListEntries(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list ledger: %w", err)
	}
	total, err := s.repos.Credit.CountEntries(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count ledger: %w", err)
	}
	return entries, total, nil
}

// Summary returns the client-facing account view.
func (s *CreditService) Summary(ctx context.Context, userID string) (*models.AccountSummary, error) {
	acct, err := s.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	ent := constants.Resolve(acct.Plan)
	return &models.AccountSummary{
		CreditsRemaining: acct.Balance,
		ResetDate:        acct.ResetAt,
		Plan:             string(ent.Plan),
		PlanDisplayName:  ent.DisplayName,
	}, nil
}

// debitTx debits inside the caller's transaction.
func (s *CreditService) debitTx(ctx context.Context, tx *repository.Repositories, userID string, amount int64, reason, reference string) (*models.LedgerEntry, error) {
	entry, err := s.applyEntry(ctx, tx, userID, -amount, models.SourceEstimationDebit, reason, reference, s.now())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, repository.ErrDuplicateReference
	}
	return entry, nil
}

// creditTx credits inside the caller's transaction. Returns a nil entry when
// the reference was already credited.
func (s *CreditService) creditTx(ctx context.Context, tx *repository.Repositories, userID string, amount int64, source models.LedgerSource, reason, reference string) (*models.LedgerEntry, error) {
	return s.applyEntry(ctx, tx, userID, amount, source, reason, reference, s.now())
}

// applyEntry moves the balance by delta and appends the matching ledger entry.
// Returns (nil, nil) when reference was already recorded for source.
func (s *CreditService) applyEntry(ctx context.Context, tx *repository.Repositories, userID string, delta int64, source models.LedgerSource, reason, reference string, now time.Time) (*models.LedgerEntry, error) {
	if reference != "" {
		seen, err := tx.Credit.HasReference(ctx, source, reference)
		if err != nil {
			return nil, fmt.Errorf("failed to check ledger reference: %w", err)
		}
		if seen {
			return nil, nil
		}
	}

	balance, ok, err := tx.Credit.ApplyDelta(ctx, userID, delta, now)
	if err != nil {
		return nil, fmt.Errorf("failed to apply balance delta: %w", err)
	}
	if !ok {
		acct, err := tx.Credit.GetAccount(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get account: %w", err)
		}
		if acct == nil {
			return nil, ErrAccountNotFound
		}
		return nil, ErrInsufficientCredits
	}

	entry := &models.LedgerEntry{
		ID:           ulid.Make().String(),
		UserID:       userID,
		Amount:       delta,
		Source:       source,
		Reason:       reason,
		Reference:    reference,
		BalanceAfter: balance,
		CreatedAt:    now,
	}
	if err := tx.Credit.AppendEntry(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateReference) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return entry, nil
}

// record logs and counts committed entries.
func (s *CreditService) record(entries ...*models.LedgerEntry) {
	for _, e := range entries {
		if e == nil {
			continue
		}
		s.logger.Info("ledger entry recorded",
			"user_id", e.UserID,
			"amount", e.Amount,
			"source", e.Source,
			"balance_after", e.BalanceAfter,
		)
		metrics.RecordLedgerMutation(string(e.Source))
	}
}
