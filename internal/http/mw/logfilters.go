package mw

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	logfilter "github.com/jmylchreest/slog-logfilter"

	"github.com/jmylchreest/flipdeck-api/internal/config"
)

// LogFiltersConfig holds configuration for the log filters loader.
// Key defaults to "config/logfilters.json".
type LogFiltersConfig = config.S3LoaderConfig

// LogFiltersLoader loads log filters from S3 and applies them to slog-logfilter.
// Existing filters stay in place when an update fails to fetch or parse.
type LogFiltersLoader struct {
	loader   *config.S3Loader
	cacheTTL time.Duration
	logger   *slog.Logger

	mu          sync.RWMutex
	filterCount int
	activeCount int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLogFiltersLoader creates a new log filters loader.
func NewLogFiltersLoader(cfg LogFiltersConfig) *LogFiltersLoader {
	if cfg.Key == "" {
		cfg.Key = "config/logfilters.json"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &LogFiltersLoader{
		loader:   config.NewS3Loader(cfg),
		cacheTTL: cfg.CacheTTL,
		logger:   cfg.Logger,
		stopCh:   make(chan struct{}),
	}
}

// Start fetches the filters immediately and then checks for updates every cache TTL.
func (l *LogFiltersLoader) Start(ctx context.Context) {
	if !l.loader.IsEnabled() {
		l.logger.Info("log filters loader disabled (no S3 client)")
		return
	}

	l.Refresh(ctx)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cacheTTL)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.Refresh(ctx)
			case <-l.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	l.logger.Info("log filters loader started", "cache_ttl", l.cacheTTL.String())
}

// Stop stops the periodic refresh.
func (l *LogFiltersLoader) Stop() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
	l.wg.Wait()
}

// Refresh fetches the filters if the cache has gone stale and applies them.
func (l *LogFiltersLoader) Refresh(ctx context.Context) {
	if !l.loader.NeedsRefresh() {
		return
	}

	result, err := l.loader.Fetch(ctx)
	if err != nil || result == nil || result.NotChanged {
		return
	}

	if err := l.apply(result.Data); err != nil {
		l.logger.Error("failed to parse log filters JSON", "error", err)
		return
	}

	stats := l.Stats()
	l.logger.Info("log filters loaded from S3",
		"etag", result.Etag,
		"total_filters", stats.FilterCount,
		"active_filters", stats.ActiveCount,
	)
}

// apply decodes a filter document and installs it.
func (l *LogFiltersLoader) apply(data []byte) error {
	var filters []logfilter.LogFilter
	if err := json.Unmarshal(data, &filters); err != nil {
		return err
	}

	logfilter.SetFilters(filters)

	active := 0
	for _, f := range filters {
		if f.IsActive() {
			active++
		}
	}

	l.mu.Lock()
	l.filterCount = len(filters)
	l.activeCount = active
	l.mu.Unlock()
	return nil
}

// LogFiltersStats contains statistics about the log filters loader.
type LogFiltersStats struct {
	config.S3LoaderStats
	FilterCount int    `json:"filter_count"`
	ActiveCount int    `json:"active_count"`
	CacheTTL    string `json:"cache_ttl"`
}

// Stats returns current loader statistics.
func (l *LogFiltersLoader) Stats() LogFiltersStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return LogFiltersStats{
		S3LoaderStats: l.loader.Stats(),
		FilterCount:   l.filterCount,
		ActiveCount:   l.activeCount,
		CacheTTL:      l.cacheTTL.String(),
	}
}
