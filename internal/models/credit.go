// Package models defines the domain models for the application.
// The UserID fields reference Clerk user IDs (e.g., "user_xxx").
package models

import "time"

// ========================================
// Credit Account
// ========================================

// CreditAccount is a user's metered credit balance.
// Invariant: Balance equals the sum of the account's ledger entries and is never negative.
type CreditAccount struct {
	UserID    string    `json:"user_id"`
	Plan      string    `json:"plan"`     // starter | pro | elite
	Balance   int64     `json:"balance"`  // Current credits
	ResetAt   time.Time `json:"reset_at"` // Next monthly reset boundary
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ========================================
// Ledger
// ========================================

// LedgerSource records where a ledger movement came from.
type LedgerSource string

const (
	SourceSubscription    LedgerSource = "subscription"     // Monthly allotment
	SourceRecharge        LedgerSource = "recharge"         // Purchased credit pack
	SourceCommunityReward LedgerSource = "community_reward" // Completed community task
	SourceEstimationDebit LedgerSource = "estimation_debit" // Priced estimation
	SourceExpiry          LedgerSource = "expiry"           // Forfeited at monthly reset
)

// Valid reports whether s is a known source.
func (s LedgerSource) Valid() bool {
	switch s {
	case SourceSubscription, SourceRecharge, SourceCommunityReward, SourceEstimationDebit, SourceExpiry:
		return true
	}
	return false
}

// LedgerEntry is a single signed movement on a credit account.
type LedgerEntry struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Amount       int64        `json:"amount"` // Positive=credit, Negative=debit
	Source       LedgerSource `json:"source"`
	Reason       string       `json:"reason,omitempty"`
	Reference    string       `json:"reference,omitempty"` // Idempotency reference (payment, job, estimation)
	BalanceAfter int64        `json:"balance_after"`
	CreatedAt    time.Time    `json:"created_at"`
}

// AccountSummary is the read-only account view exposed to clients.
type AccountSummary struct {
	CreditsRemaining int64     `json:"credits_remaining"`
	ResetDate        time.Time `json:"reset_date"`
	Plan             string    `json:"plan"`
	PlanDisplayName  string    `json:"plan_display_name"`
}
