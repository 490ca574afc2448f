// Package shutdown signals a graceful exit once the server has been idle,
// for scale-to-zero deployments.
package shutdown

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// BusyFunc reports whether background work is running. While it returns
// true the monitor treats the server as active.
type BusyFunc func() bool

// IdleMonitor tracks in-flight requests and closes Done() after Timeout
// passes with no requests and no background work.
type IdleMonitor struct {
	timeout      time.Duration
	interval     time.Duration
	excludePaths []string
	busy         BusyFunc
	now          func() time.Time
	logger       *slog.Logger

	active       atomic.Int64
	lastActivity atomic.Int64 // unix nanos

	done     chan struct{}
	doneOnce sync.Once
}

// Config holds idle monitor configuration. A zero Timeout disables it.
type Config struct {
	Timeout time.Duration
	// CheckInterval defaults to Timeout/6, clamped to [5s, 30s].
	CheckInterval time.Duration
	// ExcludePaths are path prefixes that do not count as activity
	// (probes, metrics scrapes).
	ExcludePaths []string
	Busy         BusyFunc
	Logger       *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewIdleMonitor creates an idle monitor.
func NewIdleMonitor(cfg Config) *IdleMonitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = min(max(cfg.Timeout/6, 5*time.Second), 30*time.Second)
	}

	m := &IdleMonitor{
		timeout:      cfg.Timeout,
		interval:     cfg.CheckInterval,
		excludePaths: cfg.ExcludePaths,
		busy:         cfg.Busy,
		now:          cfg.Now,
		logger:       cfg.Logger.With("component", "idle_monitor"),
		done:         make(chan struct{}),
	}
	m.touch()
	return m
}

// Enabled reports whether a timeout is configured.
func (m *IdleMonitor) Enabled() bool {
	return m.timeout > 0
}

// Done is closed when the idle timeout is reached. It never closes when the
// monitor is disabled.
func (m *IdleMonitor) Done() <-chan struct{} {
	return m.done
}

// Run checks for idleness until ctx is cancelled or the timeout fires.
func (m *IdleMonitor) Run(ctx context.Context) {
	if !m.Enabled() {
		m.logger.Debug("idle shutdown disabled")
		return
	}
	m.logger.Info("idle shutdown enabled", "timeout", m.timeout, "exclude_paths", m.excludePaths)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.Check() {
				return
			}
		}
	}
}

// Check runs a single idle evaluation and reports whether shutdown was
// signalled.
func (m *IdleMonitor) Check() bool {
	if m.active.Load() > 0 || (m.busy != nil && m.busy()) {
		m.touch()
		return false
	}

	idle := m.now().Sub(time.Unix(0, m.lastActivity.Load()))
	if idle < m.timeout {
		return false
	}

	m.doneOnce.Do(func() {
		m.logger.Info("idle timeout reached, signalling shutdown", "idle_time", idle, "timeout", m.timeout)
		close(m.done)
	})
	return true
}

// Middleware counts requests outside the excluded paths as activity.
func (m *IdleMonitor) Middleware(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.excludePaths {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		m.active.Add(1)
		m.touch()
		defer func() {
			m.active.Add(-1)
			m.touch()
		}()

		next.ServeHTTP(w, r)
	})
}

func (m *IdleMonitor) touch() {
	m.lastActivity.Store(m.now().UnixNano())
}
