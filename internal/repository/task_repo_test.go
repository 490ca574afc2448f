package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/flipdeck-api/internal/models"
)

// ========================================
// Task Repository Tests
// ========================================

func TestTaskRepository_ListAvailableOrdering(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	insertTestTask(t, repos, "low-big", models.PriorityLow, 50)
	insertTestTask(t, repos, "high-small", models.PriorityHigh, 2)
	insertTestTask(t, repos, "high-big", models.PriorityHigh, 8)
	insertTestTask(t, repos, "medium", models.PriorityMedium, 5)

	tasks, err := repos.Task.ListAvailable(ctx, 10)
	if err != nil {
		t.Fatalf("ListAvailable: %v", err)
	}

	want := []string{"high-big", "high-small", "medium", "low-big"}
	if len(tasks) != len(want) {
		t.Fatalf("len = %d, want %d", len(tasks), len(want))
	}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Errorf("tasks[%d] = %s, want %s", i, tasks[i].ID, id)
		}
	}

	n, _ := repos.Task.CountAvailable(ctx)
	if n != 4 {
		t.Errorf("CountAvailable = %d, want 4", n)
	}
}

func TestTaskRepository_TryClaimOnlyOnce(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	insertTestTask(t, repos, "task-1", models.PriorityHigh, 5)

	ok, err := repos.Task.TryClaim(ctx, "task-1", "alice", "job-a", testNow)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = repos.Task.TryClaim(ctx, "task-1", "bob", "job-b", testNow)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Error("task claimed twice")
	}

	task, _ := repos.Task.GetByID(ctx, "task-1")
	if task.State != models.TaskClaimed || task.UserID != "alice" || task.JobID != "job-a" {
		t.Errorf("task = %+v, want claimed by alice with job-a", task)
	}
	if task.ClaimedAt == nil {
		t.Error("claimed_at not set")
	}
}

func TestTaskRepository_Transition(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	insertTestTask(t, repos, "task-1", models.PriorityMedium, 5)
	repos.Task.TryClaim(ctx, "task-1", "alice", "job-a", testNow)

	active := []models.TaskState{models.TaskClaimed, models.TaskRunning}

	ok, err := repos.Task.Transition(ctx, "task-1", active, models.TaskFailed, "captcha", testNow)
	if err != nil || !ok {
		t.Fatalf("fail transition: ok=%v err=%v", ok, err)
	}

	// Terminal tasks never move again
	ok, _ = repos.Task.Transition(ctx, "task-1", active, models.TaskCompleted, "", testNow)
	if ok {
		t.Error("terminal task transitioned")
	}
	ok, _ = repos.Task.Transition(ctx, "task-1", nil, models.TaskAvailable, "", testNow)
	if ok {
		t.Error("transition with no from-states succeeded")
	}

	task, _ := repos.Task.GetByID(ctx, "task-1")
	if task.State != models.TaskFailed {
		t.Errorf("state = %s, want failed", task.State)
	}
	if task.FailureReason != "captcha" {
		t.Errorf("reason = %q, want captcha", task.FailureReason)
	}
	if task.FinishedAt == nil {
		t.Error("finished_at not set on terminal state")
	}
}

func TestTaskRepository_AdvanceProgressMonotonic(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	insertTestTask(t, repos, "task-1", models.PriorityHigh, 5)
	repos.Task.TryClaim(ctx, "task-1", "alice", "job-a", testNow)
	if err := repos.Task.CreateJob(ctx, &models.TaskJob{
		ID: "job-a", TaskID: "task-1", UserID: "alice",
		ExpiresAt: testNow.Add(20 * time.Minute), CreatedAt: testNow,
	}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	exp := testNow.Add(40 * time.Minute)
	tests := []struct {
		name      string
		pages     int
		ads       int
		wantOK    bool
		wantPages int
		wantAds   int
	}{
		{"first report", 2, 10, true, 2, 10},
		{"identical report ignored", 2, 10, false, 2, 10},
		{"pages regress ignored", 1, 30, false, 2, 10},
		{"ads increase", 2, 12, true, 2, 12},
		{"both increase", 3, 20, true, 3, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := repos.Task.AdvanceProgress(ctx, "job-a", tt.pages, tt.ads, testNow, exp)
			if err != nil {
				t.Fatalf("AdvanceProgress: %v", err)
			}
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			job, _ := repos.Task.GetJob(ctx, "job-a")
			if job.PagesScanned != tt.wantPages || job.AdsFound != tt.wantAds {
				t.Errorf("counters = (%d, %d), want (%d, %d)", job.PagesScanned, job.AdsFound, tt.wantPages, tt.wantAds)
			}
		})
	}

	job, _ := repos.Task.GetJob(ctx, "job-a")
	if job.State != models.TaskClaimed {
		t.Errorf("job state = %s, want claimed", job.State)
	}
	if !job.ExpiresAt.Equal(exp) {
		t.Errorf("expires_at = %v, want %v", job.ExpiresAt, exp)
	}

	// RaiseCounters never lowers
	if err := repos.Task.RaiseCounters(ctx, "job-a", 1, 25); err != nil {
		t.Fatalf("RaiseCounters: %v", err)
	}
	job, _ = repos.Task.GetJob(ctx, "job-a")
	if job.PagesScanned != 3 || job.AdsFound != 25 {
		t.Errorf("after raise = (%d, %d), want (3, 25)", job.PagesScanned, job.AdsFound)
	}

	// No progress accepted past the expiry
	if ok, _ := repos.Task.AdvanceProgress(ctx, "job-a", 8, 90, exp.Add(time.Second), exp.Add(time.Hour)); ok {
		t.Error("progress accepted on a lapsed job")
	}

	// No progress accepted once terminal
	repos.Task.Transition(ctx, "task-1", []models.TaskState{models.TaskClaimed}, models.TaskCompleted, "", testNow)
	if ok, _ := repos.Task.AdvanceProgress(ctx, "job-a", 9, 99, testNow, exp); ok {
		t.Error("progress accepted on a completed job")
	}
}

func TestTaskRepository_ListExpiredJobs(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		insertTestTask(t, repos, id, models.PriorityLow, 1)
		repos.Task.TryClaim(ctx, id, "alice", "job-"+id, testNow)
	}
	repos.Task.CreateJob(ctx, &models.TaskJob{ID: "job-t1", TaskID: "t1", UserID: "alice", ExpiresAt: testNow.Add(-time.Minute), CreatedAt: testNow})
	repos.Task.CreateJob(ctx, &models.TaskJob{ID: "job-t2", TaskID: "t2", UserID: "alice", ExpiresAt: testNow.Add(time.Minute), CreatedAt: testNow})
	repos.Task.CreateJob(ctx, &models.TaskJob{ID: "job-t3", TaskID: "t3", UserID: "alice", ExpiresAt: testNow.Add(-time.Minute), CreatedAt: testNow})
	repos.Task.Transition(ctx, "t3", []models.TaskState{models.TaskClaimed}, models.TaskCompleted, "", testNow)

	ids, err := repos.Task.ListExpiredJobs(ctx, testNow, 10)
	if err != nil {
		t.Fatalf("ListExpiredJobs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "job-t1" {
		t.Errorf("expired = %v, want [job-t1]", ids)
	}

	mine, _ := repos.Task.ListByUser(ctx, "alice", 10)
	if len(mine) != 3 {
		t.Errorf("ListByUser = %d tasks, want 3", len(mine))
	}
}

func TestTaskRepository_GetMissing(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	if task, err := repos.Task.GetByID(ctx, "nope"); err != nil || task != nil {
		t.Errorf("GetByID = %v, %v; want nil, nil", task, err)
	}
	if job, err := repos.Task.GetJob(ctx, "nope"); err != nil || job != nil {
		t.Errorf("GetJob = %v, %v; want nil, nil", job, err)
	}
}
