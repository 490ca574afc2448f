package models

import "time"

// ========================================
// Community Tasks
// ========================================

// TaskPriority is the supply-assigned urgency of a task.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// Rank returns a sortable weight (high > medium > low). Unknown priorities rank lowest.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// TaskState is the lifecycle state of a community task.
type TaskState string

const (
	TaskAvailable TaskState = "available"
	TaskClaimed   TaskState = "claimed"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskExpired   TaskState = "expired"
	TaskCancelled TaskState = "cancelled" // user-initiated failure
)

// IsTerminal reports whether the task can no longer change state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskExpired, TaskCancelled:
		return true
	}
	return false
}

// IsActive reports whether a user currently holds the task.
func (s TaskState) IsActive() bool {
	return s == TaskClaimed || s == TaskRunning
}

// CommunityTask is a unit of collection work offered to the community.
// An available task has no owner; once claimed exactly one user owns it
// until it terminates, and a terminal task never becomes available again.
type CommunityTask struct {
	ID                   string       `json:"id"`
	ModelName            string       `json:"model_name"`
	Platform             string       `json:"platform"`
	Priority             TaskPriority `json:"priority"`
	Type                 string       `json:"type"`
	Region               string       `json:"region,omitempty"`
	PagesFrom            int          `json:"pages_from"`
	PagesTo              int          `json:"pages_to"`
	EstimatedTimeMinutes int          `json:"estimated_time_minutes"`
	RewardCredits        int64        `json:"reward_credits"`
	Context              string       `json:"context,omitempty"`
	State                TaskState    `json:"state"`
	UserID               string       `json:"user_id,omitempty"` // Owner once claimed
	JobID                string       `json:"job_id,omitempty"`
	FailureReason        string       `json:"failure_reason,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	ClaimedAt            *time.Time   `json:"claimed_at,omitempty"`
	FinishedAt           *time.Time   `json:"finished_at,omitempty"`
}

// TaskJob tracks a claimed task while it is being collected.
type TaskJob struct {
	ID             string     `json:"id"`
	TaskID         string     `json:"task_id"`
	UserID         string     `json:"user_id"`
	State          TaskState  `json:"state"` // mirrors the owning task
	PagesScanned   int        `json:"pages_scanned"`
	AdsFound       int        `json:"ads_found"`
	LastProgressAt *time.Time `json:"last_progress_at,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"` // no progress by then -> expired
	CreatedAt      time.Time  `json:"created_at"`
}

// TaskSummary aggregates the available pool for list views.
type TaskSummary struct {
	Available    int   `json:"available"`
	HighPriority int   `json:"high_priority"`
	TotalReward  int64 `json:"total_reward"`
}

// UserCommunityQuota is a user's claim allowance for the current UTC day.
type UserCommunityQuota struct {
	Day                      string `json:"day"` // YYYY-MM-DD (UTC)
	UsedToday                int    `json:"used_today"`
	MaxPerDay                int    `json:"max_per_day"`
	CooldownRemainingMinutes int    `json:"cooldown_remaining_minutes"`
}

// CanClaim reports whether a new claim is permitted by quota and cooldown.
func (q UserCommunityQuota) CanClaim() bool {
	return q.UsedToday < q.MaxPerDay && q.CooldownRemainingMinutes == 0
}

// ClaimParams are the collection parameters handed to the collector with a claim.
type ClaimParams struct {
	Platform  string    `json:"platform"`
	ModelName string    `json:"model_name"`
	Type      string    `json:"type"`
	Region    string    `json:"region,omitempty"`
	PagesFrom int       `json:"pages_from"`
	PagesTo   int       `json:"pages_to"`
	Context   string    `json:"context,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}
