package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261012-143000",
		Description: "Track deleted accounts for Clerk user.deleted webhooks",
		Up: []string{
			// Deleted users keep their ledger for audit; the account is frozen
			`ALTER TABLE credit_accounts ADD COLUMN deleted_at TEXT`,
		},
	})
}
