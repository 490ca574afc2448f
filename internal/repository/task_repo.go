package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmylchreest/flipdeck-api/internal/models"
)

// ========================================
// Task Repository
// ========================================

// SQLiteTaskRepository implements TaskRepository for SQLite.
type SQLiteTaskRepository struct {
	db DBTX
}

// NewSQLiteTaskRepository creates a new SQLite task repository.
func NewSQLiteTaskRepository(db DBTX) *SQLiteTaskRepository {
	return &SQLiteTaskRepository{db: db}
}

const taskColumns = `id, model_name, platform, priority, type, region, pages_from, pages_to,
	estimated_time_minutes, reward_credits, context, state, user_id, job_id, failure_reason,
	created_at, claimed_at, finished_at`

func (r *SQLiteTaskRepository) scanTask(row interface{ Scan(...any) error }) (*models.CommunityTask, error) {
	var t models.CommunityTask
	var priority, state, createdAt string
	var region, taskContext, userID, jobID, failureReason, claimedAt, finishedAt sql.NullString

	err := row.Scan(
		&t.ID, &t.ModelName, &t.Platform, &priority, &t.Type, &region, &t.PagesFrom, &t.PagesTo,
		&t.EstimatedTimeMinutes, &t.RewardCredits, &taskContext, &state, &userID, &jobID, &failureReason,
		&createdAt, &claimedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Priority = models.TaskPriority(priority)
	t.State = models.TaskState(state)
	t.Region = region.String
	t.Context = taskContext.String
	t.UserID = userID.String
	t.JobID = jobID.String
	t.FailureReason = failureReason.String
	t.CreatedAt = parseTime(createdAt)
	t.ClaimedAt = parseNullTime(claimedAt)
	t.FinishedAt = parseNullTime(finishedAt)
	return &t, nil
}

func (r *SQLiteTaskRepository) scanTasks(rows *sql.Rows) ([]*models.CommunityTask, error) {
	defer rows.Close()
	var tasks []*models.CommunityTask
	for rows.Next() {
		t, err := r.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *SQLiteTaskRepository) Create(ctx context.Context, t *models.CommunityTask) error {
	query := `INSERT INTO community_tasks (id, model_name, platform, priority, priority_rank, type, region,
		pages_from, pages_to, estimated_time_minutes, reward_credits, context, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	created := formatTime(t.CreatedAt)
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.ModelName, t.Platform, string(t.Priority), t.Priority.Rank(), t.Type, nullString(t.Region),
		t.PagesFrom, t.PagesTo, t.EstimatedTimeMinutes, t.RewardCredits, nullString(t.Context),
		string(t.State), created, created,
	)
	return err
}

func (r *SQLiteTaskRepository) GetByID(ctx context.Context, id string) (*models.CommunityTask, error) {
	t, err := r.scanTask(r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM community_tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *SQLiteTaskRepository) ListAvailable(ctx context.Context, limit int) ([]*models.CommunityTask, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM community_tasks
		WHERE state = 'available'
		ORDER BY priority_rank DESC, reward_credits DESC, created_at ASC, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return r.scanTasks(rows)
}

func (r *SQLiteTaskRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.CommunityTask, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM community_tasks
		WHERE user_id = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	return r.scanTasks(rows)
}

func (r *SQLiteTaskRepository) CountAvailable(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM community_tasks WHERE state = 'available'`).Scan(&n)
	return n, err
}

func (r *SQLiteTaskRepository) TryClaim(ctx context.Context, taskID, userID, jobID string, now time.Time) (bool, error) {
	ts := formatTime(now)
	result, err := r.db.ExecContext(ctx,
		`UPDATE community_tasks
		SET state = 'claimed', user_id = ?, job_id = ?, claimed_at = ?, updated_at = ?
		WHERE id = ? AND state = 'available'`,
		userID, jobID, ts, ts, taskID,
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

func (r *SQLiteTaskRepository) Transition(ctx context.Context, taskID string, from []models.TaskState, to models.TaskState, reason string, now time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	ts := formatTime(now)
	var finishedAt any
	if to.IsTerminal() {
		finishedAt = ts
	}

	args := []any{string(to), nullString(reason), finishedAt, ts, taskID}
	for _, s := range from {
		args = append(args, string(s))
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE community_tasks
		SET state = ?, failure_reason = COALESCE(?, failure_reason), finished_at = COALESCE(?, finished_at), updated_at = ?
		WHERE id = ? AND state IN (`+placeholders(len(from))+`)`,
		args...,
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

func (r *SQLiteTaskRepository) CreateJob(ctx context.Context, job *models.TaskJob) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO task_jobs (id, task_id, user_id, pages_scanned, ads_found, expires_at, created_at)
		VALUES (?, ?, ?, 0, 0, ?, ?)`,
		job.ID, job.TaskID, job.UserID, formatTime(job.ExpiresAt), formatTime(job.CreatedAt),
	)
	return err
}

func (r *SQLiteTaskRepository) GetJob(ctx context.Context, jobID string) (*models.TaskJob, error) {
	query := `SELECT j.id, j.task_id, j.user_id, t.state, j.pages_scanned, j.ads_found,
		j.last_progress_at, j.expires_at, j.created_at
		FROM task_jobs j JOIN community_tasks t ON t.id = j.task_id
		WHERE j.id = ?`

	var job models.TaskJob
	var state, expiresAt, createdAt string
	var lastProgress sql.NullString
	err := r.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.ID, &job.TaskID, &job.UserID, &state, &job.PagesScanned, &job.AdsFound,
		&lastProgress, &expiresAt, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	job.State = models.TaskState(state)
	job.LastProgressAt = parseNullTime(lastProgress)
	job.ExpiresAt = parseTime(expiresAt)
	job.CreatedAt = parseTime(createdAt)
	return &job, nil
}

func (r *SQLiteTaskRepository) AdvanceProgress(ctx context.Context, jobID string, pages, ads int, now, expiresAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE task_jobs
		SET pages_scanned = ?, ads_found = ?, last_progress_at = ?, expires_at = ?
		WHERE id = ? AND expires_at >= ?
			AND pages_scanned <= ? AND ads_found <= ?
			AND (pages_scanned < ? OR ads_found < ?)
			AND EXISTS (
				SELECT 1 FROM community_tasks t
				WHERE t.id = task_jobs.task_id AND t.state IN ('claimed', 'running')
			)`,
		pages, ads, formatTime(now), formatTime(expiresAt), jobID, formatTime(now),
		pages, ads, pages, ads,
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

func (r *SQLiteTaskRepository) RaiseCounters(ctx context.Context, jobID string, pages, ads int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE task_jobs SET pages_scanned = MAX(pages_scanned, ?), ads_found = MAX(ads_found, ?) WHERE id = ?`,
		pages, ads, jobID,
	)
	return err
}

func (r *SQLiteTaskRepository) ListExpiredJobs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT j.id FROM task_jobs j JOIN community_tasks t ON t.id = j.task_id
		WHERE t.state IN ('claimed', 'running') AND j.expires_at < ?
		ORDER BY j.expires_at ASC LIMIT ?`,
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
