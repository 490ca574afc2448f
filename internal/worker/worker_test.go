package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmylchreest/flipdeck-api/internal/constants"
)

// ========================================
// Fakes
// ========================================

type fakeJobs struct {
	expireCalls atomic.Int32
	pruneDays   atomic.Int32
	expireErr   error
	expired     int
}

func (f *fakeJobs) ExpireStale(_ context.Context, _ time.Time) (int, error) {
	f.expireCalls.Add(1)
	return f.expired, f.expireErr
}

func (f *fakeJobs) PruneQuotas(_ context.Context, _ time.Time, retentionDays int) (int64, error) {
	f.pruneDays.Store(int32(retentionDays))
	return 3, nil
}

type fakeCredits struct {
	mu  sync.Mutex
	at  []time.Time
	err error
}

func (f *fakeCredits) ResetDue(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.at = append(f.at, now)
	return len(f.at), f.err
}

type fakeKeys struct{ calls atomic.Int32 }

func (f *fakeKeys) PruneKeys(_ context.Context, _ time.Time) (int64, error) {
	f.calls.Add(1)
	return 1, nil
}

type fakeExports struct{ maxAge atomic.Int64 }

func (f *fakeExports) DeleteOldExports(_ context.Context, maxAge time.Duration) (int, error) {
	f.maxAge.Store(int64(maxAge))
	return 0, nil
}

type fakeRefresher struct{ calls atomic.Int32 }

func (f *fakeRefresher) Refresh(_ context.Context) { f.calls.Add(1) }

// ========================================
// New Tests
// ========================================

func TestNew_Defaults(t *testing.T) {
	s, err := New(Deps{}, Config{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.sweepInterval != constants.DefaultExpirySweepInterval {
		t.Errorf("sweepInterval = %v, want %v", s.sweepInterval, constants.DefaultExpirySweepInterval)
	}
	if s.retentionDays != constants.DefaultQuotaRetentionDays {
		t.Errorf("retentionDays = %d, want %d", s.retentionDays, constants.DefaultQuotaRetentionDays)
	}
	if s.exportRetention != constants.DefaultExportRetention {
		t.Errorf("exportRetention = %v, want %v", s.exportRetention, constants.DefaultExportRetention)
	}
	if s.logger == nil {
		t.Error("logger should be set to default")
	}
	if len(s.cron.Entries()) != 2 {
		t.Errorf("cron entries = %d, want 2", len(s.cron.Entries()))
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad reset", Config{ResetSchedule: "every tuesday"}},
		{"bad prune", Config{PruneSchedule: "61 * * * *"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(Deps{}, tt.cfg, nil); err == nil {
				t.Error("expected error for invalid schedule")
			}
		})
	}
}

// ========================================
// Task Tests
// ========================================

func TestScheduler_Sweep(t *testing.T) {
	jobs := &fakeJobs{expired: 2}
	ref := &fakeRefresher{}
	s, err := New(Deps{Jobs: jobs}, Config{Refreshers: []Refresher{ref}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	s.Sweep(t.Context())

	if jobs.expireCalls.Load() != 1 {
		t.Errorf("ExpireStale calls = %d, want 1", jobs.expireCalls.Load())
	}
	if ref.calls.Load() != 1 {
		t.Errorf("Refresh calls = %d, want 1", ref.calls.Load())
	}
}

func TestScheduler_SweepError(t *testing.T) {
	jobs := &fakeJobs{expireErr: errors.New("db locked")}
	s, _ := New(Deps{Jobs: jobs}, Config{}, nil)

	// Errors are logged, not propagated.
	s.Sweep(t.Context())

	if jobs.expireCalls.Load() != 1 {
		t.Errorf("ExpireStale calls = %d, want 1", jobs.expireCalls.Load())
	}
}

func TestScheduler_ResetUsesClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC)
	credits := &fakeCredits{}
	s, _ := New(Deps{Credits: credits}, Config{Now: func() time.Time { return fixed }}, nil)

	s.Reset(t.Context())

	if len(credits.at) != 1 || !credits.at[0].Equal(fixed) {
		t.Errorf("ResetDue called with %v, want [%v]", credits.at, fixed)
	}
}

func TestScheduler_Prune(t *testing.T) {
	jobs := &fakeJobs{}
	keys := &fakeKeys{}
	exports := &fakeExports{}
	s, _ := New(Deps{Jobs: jobs, Keys: keys, Exports: exports}, Config{
		QuotaRetentionDays: 10,
		ExportRetention:    48 * time.Hour,
	}, nil)

	s.Prune(t.Context())

	if jobs.pruneDays.Load() != 10 {
		t.Errorf("PruneQuotas retention = %d, want 10", jobs.pruneDays.Load())
	}
	if keys.calls.Load() != 1 {
		t.Errorf("PruneKeys calls = %d, want 1", keys.calls.Load())
	}
	if time.Duration(exports.maxAge.Load()) != 48*time.Hour {
		t.Errorf("DeleteOldExports maxAge = %v, want 48h", time.Duration(exports.maxAge.Load()))
	}
}

type blockingCredits struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingCredits) ResetDue(_ context.Context, _ time.Time) (int, error) {
	close(b.entered)
	<-b.release
	return 0, nil
}

func TestScheduler_Busy(t *testing.T) {
	credits := &blockingCredits{entered: make(chan struct{}), release: make(chan struct{})}
	s, _ := New(Deps{Credits: credits}, Config{}, nil)

	if s.Busy() {
		t.Fatal("idle scheduler reports busy")
	}

	done := make(chan struct{})
	go func() {
		s.Reset(t.Context())
		close(done)
	}()
	<-credits.entered
	if !s.Busy() {
		t.Error("Busy() = false while a reset is running")
	}

	close(credits.release)
	<-done
	if s.Busy() {
		t.Error("Busy() = true after the reset finished")
	}
}

func TestScheduler_PruneOptionalDeps(t *testing.T) {
	s, _ := New(Deps{Jobs: &fakeJobs{}}, Config{}, nil)
	// No keys or exports configured; must not panic.
	s.Prune(t.Context())
}

// ========================================
// Lifecycle Tests
// ========================================

func TestScheduler_StartStop(t *testing.T) {
	jobs := &fakeJobs{}
	credits := &fakeCredits{}
	keys := &fakeKeys{}
	s, err := New(Deps{Jobs: jobs, Credits: credits, Keys: keys}, Config{
		SweepInterval: 10 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	s.Start(t.Context())

	// Start runs each task once before the ticker takes over.
	if len(credits.at) != 1 {
		t.Errorf("ResetDue calls after start = %d, want 1", len(credits.at))
	}
	if keys.calls.Load() != 1 {
		t.Errorf("PruneKeys calls after start = %d, want 1", keys.calls.Load())
	}

	deadline := time.Now().Add(2 * time.Second)
	for jobs.expireCalls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if jobs.expireCalls.Load() < 3 {
		t.Errorf("ExpireStale calls = %d, want >= 3", jobs.expireCalls.Load())
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}

	after := jobs.expireCalls.Load()
	time.Sleep(30 * time.Millisecond)
	if jobs.expireCalls.Load() != after {
		t.Error("sweeps continued after Stop()")
	}
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	jobs := &fakeJobs{}
	s, _ := New(Deps{Jobs: jobs}, Config{SweepInterval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(t.Context())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not exit after context cancel")
	}
	s.Stop()
}
