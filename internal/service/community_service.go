package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/flipdeck-api/internal/auth"
	"github.com/jmylchreest/flipdeck-api/internal/constants"
	"github.com/jmylchreest/flipdeck-api/internal/metrics"
	"github.com/jmylchreest/flipdeck-api/internal/models"
	"github.com/jmylchreest/flipdeck-api/internal/repository"
)

const (
	// poolPageSize caps the available-task list.
	poolPageSize = 200
	// myTasksPageSize caps the user's task list.
	myTasksPageSize = 50
	// expireBatchSize is how many stale jobs one sweep handles.
	expireBatchSize = 500
	// quickClaimAttempts bounds retries when the picked task is taken first.
	quickClaimAttempts = 3
)

var activeStates = []models.TaskState{models.TaskClaimed, models.TaskRunning}

// CommunityService arbitrates community task claims and tracks collection
// jobs through to a terminal state.
type CommunityService struct {
	repos        *repository.Repositories
	credits      *CreditService
	tokens       *auth.UploadTokenIssuer
	expiryWindow time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewCommunityService creates a new community service.
func NewCommunityService(repos *repository.Repositories, credits *CreditService, tokens *auth.UploadTokenIssuer, expiryWindow time.Duration, logger *slog.Logger) *CommunityService {
	if expiryWindow <= 0 {
		expiryWindow = constants.DefaultJobExpiryWindow
	}
	return &CommunityService{
		repos:        repos,
		credits:      credits,
		tokens:       tokens,
		expiryWindow: expiryWindow,
		logger:       logger.With("component", "community"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ClaimResult is returned to the claimant and forwarded to the collector.
type ClaimResult struct {
	JobID                string                `json:"job_id"`
	UploadToken          string                `json:"upload_token"`
	UploadTokenExpiresAt time.Time             `json:"upload_token_expires_at"`
	Params               models.ClaimParams    `json:"params"`
	Task                 *models.CommunityTask `json:"task"`
}

// CreateTaskInput is a task supplied by the backend.
type CreateTaskInput struct {
	ModelName            string              `json:"model_name" validate:"required,max=200"`
	Platform             string              `json:"platform" validate:"required,max=64"`
	Priority             models.TaskPriority `json:"priority" validate:"required,oneof=low medium high"`
	Type                 string              `json:"type" validate:"required,max=64"`
	Region               string              `json:"region,omitempty" validate:"omitempty,max=64"`
	PagesFrom            int                 `json:"pages_from" validate:"gte=1"`
	PagesTo              int                 `json:"pages_to" validate:"gtefield=PagesFrom"`
	EstimatedTimeMinutes int                 `json:"estimated_time_minutes" validate:"gte=0"`
	RewardCredits        int64               `json:"reward_credits" validate:"gt=0"`
	Context              string              `json:"context,omitempty" validate:"omitempty,max=2000"`
}

// SupplyTask adds a new available task to the pool.
func (s *CommunityService) SupplyTask(ctx context.Context, in CreateTaskInput) (*models.CommunityTask, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	task := &models.CommunityTask{
		ID:                   ulid.Make().String(),
		ModelName:            in.ModelName,
		Platform:             in.Platform,
		Priority:             in.Priority,
		Type:                 in.Type,
		Region:               in.Region,
		PagesFrom:            in.PagesFrom,
		PagesTo:              in.PagesTo,
		EstimatedTimeMinutes: in.EstimatedTimeMinutes,
		RewardCredits:        in.RewardCredits,
		Context:              in.Context,
		State:                models.TaskAvailable,
		CreatedAt:            s.now(),
	}
	if err := s.repos.Task.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.logger.Info("task supplied", "task_id", task.ID, "priority", task.Priority, "reward", task.RewardCredits)
	return task, nil
}

// ListAvailable returns the pool ordered by priority, then reward, with a summary.
func (s *CommunityService) ListAvailable(ctx context.Context) ([]*models.CommunityTask, models.TaskSummary, error) {
	tasks, err := s.repos.Task.ListAvailable(ctx, poolPageSize)
	if err != nil {
		return nil, models.TaskSummary{}, fmt.Errorf("failed to list tasks: %w", err)
	}
	total, err := s.repos.Task.CountAvailable(ctx)
	if err != nil {
		return nil, models.TaskSummary{}, fmt.Errorf("failed to count tasks: %w", err)
	}

	summary := models.TaskSummary{Available: total}
	for _, t := range tasks {
		if t.Priority == models.PriorityHigh {
			summary.HighPriority++
		}
		summary.TotalReward += t.RewardCredits
	}
	return tasks, summary, nil
}

// QuickPick returns the first high-priority task, else the first task, else nil.
// tasks must already be in pool order.
func QuickPick(tasks []*models.CommunityTask) *models.CommunityTask {
	for _, t := range tasks {
		if t.Priority == models.PriorityHigh {
			return t
		}
	}
	if len(tasks) > 0 {
		return tasks[0]
	}
	return nil
}

// QuickClaim claims the QuickPick of the current pool. If another user wins
// the pick first, the next pick is tried.
func (s *CommunityService) QuickClaim(ctx context.Context, userID, plan string) (*ClaimResult, error) {
	taken := make(map[string]bool)

	for attempt := 0; attempt < quickClaimAttempts; attempt++ {
		tasks, _, err := s.ListAvailable(ctx)
		if err != nil {
			return nil, err
		}

		remaining := tasks[:0:0]
		for _, t := range tasks {
			if !taken[t.ID] {
				remaining = append(remaining, t)
			}
		}

		pick := QuickPick(remaining)
		if pick == nil {
			return nil, ErrTaskNotFound
		}

		result, err := s.Claim(ctx, userID, plan, pick.ID)
		if errors.Is(err, ErrTaskAlreadyClaimed) {
			taken[pick.ID] = true
			continue
		}
		return result, err
	}
	return nil, ErrTaskAlreadyClaimed
}

// Claim gives taskID to userID. The availability check, daily quota and
// cooldown are evaluated in one transaction; if any fails nothing changes and
// the task stays available.
func (s *CommunityService) Claim(ctx context.Context, userID, plan, taskID string) (*ClaimResult, error) {
	now := s.now()
	ent := constants.Resolve(plan)
	day := quotaDay(now)
	jobID := ulid.Make().String()

	var result *ClaimResult
	err := s.repos.RunInTx(ctx, func(tx *repository.Repositories) error {
		ok, err := tx.Task.TryClaim(ctx, taskID, userID, jobID, now)
		if err != nil {
			return fmt.Errorf("failed to claim task: %w", err)
		}
		if !ok {
			existing, err := tx.Task.GetByID(ctx, taskID)
			if err != nil {
				return fmt.Errorf("failed to get task: %w", err)
			}
			if existing == nil {
				return ErrTaskNotFound
			}
			return ErrTaskAlreadyClaimed
		}

		used, err := tx.Quota.GetUsed(ctx, userID, day)
		if err != nil {
			return fmt.Errorf("failed to read quota: %w", err)
		}
		if used >= ent.Limits.MaxCommunityJobsPerDay {
			return ErrDailyLimitReached
		}

		until, err := tx.Quota.GetCooldownUntil(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to read cooldown: %w", err)
		}
		if remaining := remainingMinutes(until, now); remaining > 0 {
			return &CooldownActiveError{RemainingMinutes: remaining}
		}

		if err := tx.Quota.Increment(ctx, userID, day); err != nil {
			return fmt.Errorf("failed to increment quota: %w", err)
		}
		cooldown := time.Duration(ent.Limits.CooldownMinutes) * time.Minute
		if err := tx.Quota.SetCooldown(ctx, userID, now, now.Add(cooldown)); err != nil {
			return fmt.Errorf("failed to set cooldown: %w", err)
		}

		job := &models.TaskJob{
			ID:        jobID,
			TaskID:    taskID,
			UserID:    userID,
			State:     models.TaskClaimed,
			ExpiresAt: now.Add(s.expiryWindow),
			CreatedAt: now,
		}
		if err := tx.Task.CreateJob(ctx, job); err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}

		task, err := tx.Task.GetByID(ctx, taskID)
		if err != nil {
			return fmt.Errorf("failed to get task: %w", err)
		}

		token, tokenExp, err := s.tokens.Issue(userID, jobID, taskID)
		if err != nil {
			return err
		}

		result = &ClaimResult{
			JobID:                jobID,
			UploadToken:          token,
			UploadTokenExpiresAt: tokenExp,
			Task:                 task,
			Params: models.ClaimParams{
				Platform:  task.Platform,
				ModelName: task.ModelName,
				Type:      task.Type,
				Region:    task.Region,
				PagesFrom: task.PagesFrom,
				PagesTo:   task.PagesTo,
				Context:   task.Context,
				ExpiresAt: job.ExpiresAt,
			},
		}
		return nil
	})
	if err != nil {
		metrics.RecordClaim(claimOutcome(err))
		return nil, err
	}

	metrics.RecordClaim("claimed")
	s.logger.Info("task claimed", "task_id", taskID, "job_id", jobID, "user_id", userID)
	return result, nil
}

// ReportProgress records collector counters. A report is accepted only when
// neither counter decreases and at least one increases; other reports are
// ignored without error. The first accepted report marks the job running and
// every accepted report pushes the expiry forward.
func (s *CommunityService) ReportProgress(ctx context.Context, jobID string, pages, ads int) (*models.TaskJob, bool, error) {
	if pages < 0 || ads < 0 {
		return nil, false, &ValidationError{Fields: []FieldError{{Field: "pages_scanned", Message: "counters must not be negative"}}}
	}

	now := s.now()
	var job, lapsedJob *models.TaskJob
	var accepted bool

	err := s.repos.RunInTx(ctx, func(tx *repository.Repositories) error {
		current, err := tx.Task.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		if current == nil {
			return ErrJobNotFound
		}
		if current.State.IsTerminal() {
			return ErrInvalidTransition
		}
		if expired, err := expireLapsed(ctx, tx, current, now); err != nil || expired {
			if expired {
				lapsedJob = current
			}
			return err
		}

		accepted, err = tx.Task.AdvanceProgress(ctx, jobID, pages, ads, now, now.Add(s.expiryWindow))
		if err != nil {
			return fmt.Errorf("failed to record progress: %w", err)
		}
		if accepted && current.State == models.TaskClaimed {
			if _, err := tx.Task.Transition(ctx, current.TaskID, []models.TaskState{models.TaskClaimed}, models.TaskRunning, "", now); err != nil {
				return fmt.Errorf("failed to mark job running: %w", err)
			}
		}

		job, err = tx.Task.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if lapsedJob != nil {
		s.recordLapsed(lapsedJob)
		return nil, false, ErrInvalidTransition
	}

	if !accepted {
		s.logger.Debug("progress report ignored", "job_id", jobID, "pages", pages, "ads", ads)
	}
	return job, accepted, nil
}

// Complete finishes a job and credits the task reward in the same transaction.
// Final counters never lower the stored ones.
func (s *CommunityService) Complete(ctx context.Context, jobID string, pages, ads int) (*models.CommunityTask, error) {
	now := s.now()
	var task *models.CommunityTask
	var reward *models.LedgerEntry
	var lapsedJob *models.TaskJob

	err := s.repos.RunInTx(ctx, func(tx *repository.Repositories) error {
		job, err := tx.Task.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		if job == nil {
			return ErrJobNotFound
		}
		if expired, err := expireLapsed(ctx, tx, job, now); err != nil || expired {
			if expired {
				lapsedJob = job
			}
			return err
		}

		ok, err := tx.Task.Transition(ctx, job.TaskID, activeStates, models.TaskCompleted, "", now)
		if err != nil {
			return fmt.Errorf("failed to complete task: %w", err)
		}
		if !ok {
			return ErrInvalidTransition
		}
		if err := tx.Task.RaiseCounters(ctx, jobID, max(pages, 0), max(ads, 0)); err != nil {
			return fmt.Errorf("failed to store final counters: %w", err)
		}

		task, err = tx.Task.GetByID(ctx, job.TaskID)
		if err != nil {
			return fmt.Errorf("failed to get task: %w", err)
		}

		reward, err = s.credits.creditTx(ctx, tx, job.UserID, task.RewardCredits, models.SourceCommunityReward,
			"community task "+task.ID, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if lapsedJob != nil {
		s.recordLapsed(lapsedJob)
		return nil, ErrInvalidTransition
	}

	s.credits.record(reward)
	metrics.RecordJobFinished(string(models.TaskCompleted))
	s.logger.Info("task completed", "task_id", task.ID, "job_id", jobID, "user_id", task.UserID, "reward", task.RewardCredits)
	return task, nil
}

// Fail ends a job without reward.
func (s *CommunityService) Fail(ctx context.Context, jobID, reason string) (*models.CommunityTask, error) {
	return s.finish(ctx, jobID, "", models.TaskFailed, reason)
}

// Expire ends a job whose progress window lapsed.
func (s *CommunityService) Expire(ctx context.Context, jobID string) (*models.CommunityTask, error) {
	return s.finish(ctx, jobID, "", models.TaskExpired, expiryReason)
}

// Cancel lets the owner abandon a job. The quota slot is not refunded.
func (s *CommunityService) Cancel(ctx context.Context, userID, jobID string) (*models.CommunityTask, error) {
	return s.finish(ctx, jobID, userID, models.TaskCancelled, "cancelled by user")
}

func (s *CommunityService) finish(ctx context.Context, jobID, owner string, to models.TaskState, reason string) (*models.CommunityTask, error) {
	now := s.now()
	var task *models.CommunityTask
	var lapsedJob *models.TaskJob

	err := s.repos.RunInTx(ctx, func(tx *repository.Repositories) error {
		job, err := tx.Task.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		if job == nil || (owner != "" && job.UserID != owner) {
			return ErrJobNotFound
		}
		if to != models.TaskExpired {
			if expired, err := expireLapsed(ctx, tx, job, now); err != nil || expired {
				if expired {
					lapsedJob = job
				}
				return err
			}
		}

		ok, err := tx.Task.Transition(ctx, job.TaskID, activeStates, to, reason, now)
		if err != nil {
			return fmt.Errorf("failed to move task to %s: %w", to, err)
		}
		if !ok {
			return ErrInvalidTransition
		}

		task, err = tx.Task.GetByID(ctx, job.TaskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if lapsedJob != nil {
		s.recordLapsed(lapsedJob)
		return nil, ErrInvalidTransition
	}

	metrics.RecordJobFinished(string(to))
	s.logger.Info("task finished", "state", to, "task_id", task.ID, "job_id", jobID, "user_id", task.UserID, "reason", reason)
	return task, nil
}

const expiryReason = "no progress before expiry"

// expireLapsed moves an active job past its expiry to expired inside tx and
// reports whether it did. It runs before any other transition so a late
// report or completion never revives the job.
func expireLapsed(ctx context.Context, tx *repository.Repositories, job *models.TaskJob, now time.Time) (bool, error) {
	if job.State.IsTerminal() || !job.ExpiresAt.Before(now) {
		return false, nil
	}
	ok, err := tx.Task.Transition(ctx, job.TaskID, activeStates, models.TaskExpired, expiryReason, now)
	if err != nil {
		return false, fmt.Errorf("failed to expire job: %w", err)
	}
	return ok, nil
}

func (s *CommunityService) recordLapsed(job *models.TaskJob) {
	metrics.RecordJobFinished(string(models.TaskExpired))
	s.logger.Info("task finished", "state", models.TaskExpired, "task_id", job.TaskID, "job_id", job.ID, "user_id", job.UserID, "reason", expiryReason)
}

// ExpireStale expires every active job whose expiry is before now.
func (s *CommunityService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repos.Task.ListExpiredJobs(ctx, now, expireBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired jobs: %w", err)
	}

	expired := 0
	for _, id := range ids {
		if _, err := s.Expire(ctx, id); err != nil {
			// Completed or failed between the list and the update
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			s.logger.Error("failed to expire job", "job_id", id, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

// MyTasks returns the user's recent tasks and current claim allowance.
func (s *CommunityService) MyTasks(ctx context.Context, userID, plan string) ([]*models.CommunityTask, models.UserCommunityQuota, error) {
	tasks, err := s.repos.Task.ListByUser(ctx, userID, myTasksPageSize)
	if err != nil {
		return nil, models.UserCommunityQuota{}, fmt.Errorf("failed to list user tasks: %w", err)
	}
	quota, err := s.Quota(ctx, userID, plan)
	if err != nil {
		return nil, models.UserCommunityQuota{}, err
	}
	return tasks, quota, nil
}

// Quota returns the user's claim allowance for the current UTC day.
func (s *CommunityService) Quota(ctx context.Context, userID, plan string) (models.UserCommunityQuota, error) {
	now := s.now()
	day := quotaDay(now)

	used, err := s.repos.Quota.GetUsed(ctx, userID, day)
	if err != nil {
		return models.UserCommunityQuota{}, fmt.Errorf("failed to read quota: %w", err)
	}
	until, err := s.repos.Quota.GetCooldownUntil(ctx, userID)
	if err != nil {
		return models.UserCommunityQuota{}, fmt.Errorf("failed to read cooldown: %w", err)
	}

	return models.UserCommunityQuota{
		Day:                      day,
		UsedToday:                used,
		MaxPerDay:                constants.Resolve(plan).Limits.MaxCommunityJobsPerDay,
		CooldownRemainingMinutes: remainingMinutes(until, now),
	}, nil
}

// PruneQuotas deletes quota rows older than retentionDays.
func (s *CommunityService) PruneQuotas(ctx context.Context, now time.Time, retentionDays int) (int64, error) {
	cutoff := quotaDay(now.AddDate(0, 0, -retentionDays))
	n, err := s.repos.Quota.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune quotas: %w", err)
	}
	return n, nil
}

// quotaDay is the UTC calendar day quotas are counted against.
func quotaDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// remainingMinutes rounds the time left until `until` up to whole minutes.
func remainingMinutes(until *time.Time, now time.Time) int {
	if until == nil || !until.After(now) {
		return 0
	}
	return int(math.Ceil(until.Sub(now).Minutes()))
}

func claimOutcome(err error) string {
	switch {
	case errors.Is(err, ErrTaskAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrTaskNotFound):
		return "not_found"
	case errors.Is(err, ErrDailyLimitReached):
		return "daily_limit"
	case errors.Is(err, ErrCooldownActive):
		return "cooldown"
	default:
		return "error"
	}
}
