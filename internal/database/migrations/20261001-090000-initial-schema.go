package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261001-090000",
		Description: "Initial schema",
		Up: []string{
			// Credit accounts - one per Clerk user
			// Balance is only ever changed by relative updates paired with a ledger entry
			`CREATE TABLE IF NOT EXISTS credit_accounts (
				user_id TEXT PRIMARY KEY,
				plan TEXT NOT NULL DEFAULT 'starter',
				balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
				reset_at TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_credit_accounts_reset_at ON credit_accounts(reset_at)`,

			// Ledger entries - append-only history of every balance movement
			`CREATE TABLE IF NOT EXISTS ledger_entries (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES credit_accounts(user_id) ON DELETE CASCADE,
				amount INTEGER NOT NULL,
				source TEXT NOT NULL,
				reason TEXT,
				reference TEXT,
				balance_after INTEGER NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries(user_id, created_at)`,
			// A reference (payment, job, estimation, reset period) credits at most once per source
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_reference
				ON ledger_entries(source, reference) WHERE reference IS NOT NULL AND reference != ''`,

			// Community tasks - supplied by the backend, claimed by users
			`CREATE TABLE IF NOT EXISTS community_tasks (
				id TEXT PRIMARY KEY,
				model_name TEXT NOT NULL,
				platform TEXT NOT NULL,
				priority TEXT NOT NULL DEFAULT 'medium',
				priority_rank INTEGER NOT NULL DEFAULT 2,
				type TEXT NOT NULL,
				region TEXT,
				pages_from INTEGER NOT NULL DEFAULT 1,
				pages_to INTEGER NOT NULL DEFAULT 1,
				estimated_time_minutes INTEGER NOT NULL DEFAULT 0,
				reward_credits INTEGER NOT NULL CHECK (reward_credits > 0),
				context TEXT,
				state TEXT NOT NULL DEFAULT 'available',
				user_id TEXT,
				job_id TEXT,
				failure_reason TEXT,
				created_at TEXT NOT NULL,
				claimed_at TEXT,
				finished_at TEXT,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_community_tasks_pool ON community_tasks(state, priority_rank DESC, reward_credits DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_community_tasks_user ON community_tasks(user_id, updated_at)`,

			// Task jobs - one per successful claim
			`CREATE TABLE IF NOT EXISTS task_jobs (
				id TEXT PRIMARY KEY,
				task_id TEXT NOT NULL UNIQUE REFERENCES community_tasks(id),
				user_id TEXT NOT NULL,
				pages_scanned INTEGER NOT NULL DEFAULT 0,
				ads_found INTEGER NOT NULL DEFAULT 0,
				last_progress_at TEXT,
				expires_at TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_task_jobs_expires ON task_jobs(expires_at)`,

			// Daily claim quota - one row per user per UTC day
			`CREATE TABLE IF NOT EXISTS community_quotas (
				user_id TEXT NOT NULL,
				day TEXT NOT NULL,
				used INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (user_id, day)
			)`,

			// Claim cooldowns - spans day boundaries, so kept apart from quotas
			`CREATE TABLE IF NOT EXISTS community_cooldowns (
				user_id TEXT PRIMARY KEY,
				last_claim_at TEXT NOT NULL,
				cooldown_until TEXT NOT NULL
			)`,

			// Market observations - listings reported by collectors
			`CREATE TABLE IF NOT EXISTS market_observations (
				id TEXT PRIMARY KEY,
				model_id TEXT NOT NULL,
				platform TEXT NOT NULL,
				region TEXT,
				condition TEXT NOT NULL,
				price REAL NOT NULL CHECK (price > 0),
				sold INTEGER NOT NULL DEFAULT 0,
				observed_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_market_observations_model ON market_observations(model_id, observed_at)`,

			// Estimations - priced results, stored unmasked
			`CREATE TABLE IF NOT EXISTS estimations (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				model_id TEXT NOT NULL,
				idempotency_key TEXT,
				credit_cost INTEGER NOT NULL,
				result_json TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_estimations_user ON estimations(user_id, created_at)`,

			// Idempotency keys for estimation replays within a short window
			`CREATE TABLE IF NOT EXISTS estimation_dedupe (
				user_id TEXT NOT NULL,
				idempotency_key TEXT NOT NULL,
				estimation_id TEXT NOT NULL,
				expires_at TEXT NOT NULL,
				PRIMARY KEY (user_id, idempotency_key)
			)`,
		},
	})
}
