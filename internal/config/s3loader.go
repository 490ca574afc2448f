package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectGetter is the subset of the S3 client used by S3Loader.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3LoaderConfig holds common configuration for S3-backed config loaders.
type S3LoaderConfig struct {
	S3Client     ObjectGetter
	Bucket       string
	Key          string
	CacheTTL     time.Duration // How often to check for updates (default: 5 min)
	ErrorBackoff time.Duration // How long to wait after an error (default: 1 min)
	Logger       *slog.Logger
}

// S3LoadResult contains the result of an S3 config fetch.
type S3LoadResult struct {
	Data       []byte // raw object body
	Etag       string
	FetchTime  time.Time
	NotChanged bool // true on an ETag match
}

// S3Loader fetches a single config object from S3 with ETag caching and
// error backoff. Plan overrides and log filter rules are built on it.
type S3Loader struct {
	client ObjectGetter
	bucket string
	key    string

	mu           sync.RWMutex
	etag         string
	lastFetch    time.Time
	lastCheck    time.Time
	lastError    time.Time
	initialized  bool
	fetching     bool
	cacheTTL     time.Duration
	errorBackoff time.Duration
	logger       *slog.Logger
}

// NewS3Loader creates a new S3 loader with the given config.
func NewS3Loader(cfg S3LoaderConfig) *S3Loader {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &S3Loader{
		client:       cfg.S3Client,
		bucket:       cfg.Bucket,
		key:          cfg.Key,
		cacheTTL:     cfg.CacheTTL,
		errorBackoff: cfg.ErrorBackoff,
		logger:       cfg.Logger.With("bucket", cfg.Bucket, "key", cfg.Key),
	}
}

// IsEnabled returns true if S3 is configured.
func (l *S3Loader) IsEnabled() bool {
	return l.client != nil
}

// NeedsRefresh returns true if the cached object is stale and no fetch or
// error backoff is in progress.
func (l *S3Loader) NeedsRefresh() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stale := !l.initialized || time.Since(l.lastCheck) > l.cacheTTL
	backingOff := !l.lastError.IsZero() && time.Since(l.lastError) < l.errorBackoff
	return stale && !backingOff && !l.fetching
}

// Fetch retrieves the object with a conditional GET.
// Returns (result, nil) on success or ETag match, (nil, nil) when S3 is not
// configured, the object is missing, or another fetch is in flight.
func (l *S3Loader) Fetch(ctx context.Context) (*S3LoadResult, error) {
	if l.client == nil {
		return nil, nil
	}

	l.mu.Lock()
	if l.fetching || (l.initialized && time.Since(l.lastCheck) < l.cacheTTL) {
		l.mu.Unlock()
		return nil, nil
	}
	l.fetching = true
	currentEtag := l.etag
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.fetching = false
		l.mu.Unlock()
	}()

	input := &s3.GetObjectInput{Bucket: &l.bucket, Key: &l.key}
	if currentEtag != "" {
		quoted := "\"" + currentEtag + "\""
		input.IfNoneMatch = &quoted
	}

	resp, err := l.client.GetObject(ctx, input)
	if err != nil {
		return l.handleFetchError(err, currentEtag)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		l.markError()
		l.logger.Error("failed to read S3 config object", "error", err)
		return nil, err
	}

	now := time.Now()
	newEtag := ""
	if resp.ETag != nil {
		newEtag = strings.Trim(*resp.ETag, "\"")
	}

	l.mu.Lock()
	l.initialized = true
	l.lastFetch = now
	l.lastCheck = now
	l.lastError = time.Time{}
	l.etag = newEtag
	l.mu.Unlock()

	l.logger.Debug("S3 config fetched", "etag", newEtag, "previous_etag", currentEtag, "size", len(data))

	return &S3LoadResult{Data: data, Etag: newEtag, FetchTime: now}, nil
}

func (l *S3Loader) handleFetchError(err error, currentEtag string) (*S3LoadResult, error) {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		l.mu.Lock()
		first := !l.initialized
		l.initialized = true
		l.lastCheck = time.Now()
		l.lastError = time.Now()
		l.mu.Unlock()
		if first {
			l.logger.Debug("S3 config object not found (using defaults)")
		}
		return nil, nil
	}

	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) && coded.ErrorCode() == "NotModified" {
		l.mu.Lock()
		l.lastCheck = time.Now()
		l.mu.Unlock()
		l.logger.Debug("S3 config unchanged (etag match)", "etag", currentEtag)
		return &S3LoadResult{NotChanged: true}, nil
	}

	l.markError()
	l.logger.Error("failed to fetch S3 config",
		"error", err,
		"next_retry", time.Now().Add(l.errorBackoff).Format(time.RFC3339),
	)
	return nil, err
}

func (l *S3Loader) markError() {
	l.mu.Lock()
	l.lastError = time.Now()
	l.initialized = true
	l.mu.Unlock()
}

// S3LoaderStats reports loader state for the admin/health endpoints.
type S3LoaderStats struct {
	Initialized bool      `json:"initialized"`
	Etag        string    `json:"etag"`
	LastFetch   time.Time `json:"last_fetch"`
	LastCheck   time.Time `json:"last_check"`
	Key         string    `json:"key"`
}

// Stats returns current loader statistics.
func (l *S3Loader) Stats() S3LoaderStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return S3LoaderStats{
		Initialized: l.initialized,
		Etag:        l.etag,
		LastFetch:   l.lastFetch,
		LastCheck:   l.lastCheck,
		Key:         l.key,
	}
}
