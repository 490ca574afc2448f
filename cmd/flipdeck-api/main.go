// Package main is the entry point for the flipdeck-api server.
// Note: User management, sessions and subscriptions are handled by Clerk.
// Credit recharges arrive through Stripe checkout webhooks.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/jmylchreest/flipdeck-api/internal/auth"
	"github.com/jmylchreest/flipdeck-api/internal/config"
	"github.com/jmylchreest/flipdeck-api/internal/constants"
	"github.com/jmylchreest/flipdeck-api/internal/database"
	"github.com/jmylchreest/flipdeck-api/internal/database/migrations"
	"github.com/jmylchreest/flipdeck-api/internal/http/handlers"
	"github.com/jmylchreest/flipdeck-api/internal/http/mw"
	"github.com/jmylchreest/flipdeck-api/internal/http/routes"
	"github.com/jmylchreest/flipdeck-api/internal/logging"
	"github.com/jmylchreest/flipdeck-api/internal/metrics"
	"github.com/jmylchreest/flipdeck-api/internal/repository"
	"github.com/jmylchreest/flipdeck-api/internal/service"
	"github.com/jmylchreest/flipdeck-api/internal/shutdown"
	"github.com/jmylchreest/flipdeck-api/internal/version"
	"github.com/jmylchreest/flipdeck-api/internal/worker"
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	// Log version info first thing
	v := version.Get()
	logger.Info("starting flipdeck-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize database (local file or Turso embedded replica)
	db, err := database.New(database.Options{
		DSN:       cfg.DatabaseURL,
		SyncURL:   cfg.TursoSyncURL,
		AuthToken: cfg.TursoAuthToken,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Run migrations (with logging for each migration applied)
	if err := database.Migrate(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Log current schema version
	schemaVersion, err := migrations.GetLatestVersion(db)
	if err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		logger.Info("database schema ready", "schema_version", schemaVersion)
	}

	// Initialize repositories and services
	repos := repository.NewRepositories(db)
	services, err := service.NewServices(cfg, repos, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	// Initialize Clerk verifier for JWT validation (hosted mode)
	var clerkVerifier *auth.ClerkVerifier
	if cfg.ClerkIssuerURL != "" {
		clerkVerifier = auth.NewClerkVerifier(cfg.ClerkIssuerURL)
		logger.Info("clerk authentication enabled", "issuer", cfg.ClerkIssuerURL)
	} else if !cfg.IsSelfHosted() {
		logger.Warn("CLERK_ISSUER_URL not set - JWT authentication will fail")
	}
	authenticator := &mw.Authenticator{
		ClerkVerifier: clerkVerifier,
		SupplyAPIKey:  cfg.SupplyAPIKey,
		AdminUserIDs:  cfg.AdminUserIDs,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create router
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)

	// S3-backed configuration loaders, refreshed by the scheduler
	var refreshers []worker.Refresher
	var logFiltersLoader *mw.LogFiltersLoader
	if services.Storage.IsEnabled() && cfg.ConfigBucket != "" {
		bucket := cfg.ConfigBucket

		// IP blocklist (early in chain to reject bad actors quickly)
		blocklist := mw.NewIPBlocklist(mw.BlocklistConfig{
			S3Client: services.Storage.Client(),
			Bucket:   bucket,
			Key:      "config/blocklist.json",
			Logger:   logger,
		})
		router.Use(blocklist.Middleware())
		refreshers = append(refreshers, blocklist)

		// Log filters (dynamic log filtering from S3)
		logFiltersLoader = mw.NewLogFiltersLoader(mw.LogFiltersConfig{
			S3Client: services.Storage.Client(),
			Bucket:   bucket,
			Key:      cfg.LogFiltersKey,
			Logger:   logger,
		})
		logFiltersLoader.Start(ctx)

		// Plan settings (override compiled plan limits from S3)
		constants.InitPlanLoader(constants.PlanSettingsConfig{
			S3Client: services.Storage.Client(),
			Bucket:   bucket,
			Key:      cfg.PlansConfigKey,
			Logger:   logger,
		})
		refreshers = append(refreshers, constants.GetPlanLoader())

		logger.Info("S3 config loaders enabled",
			"bucket", bucket,
			"configs", []string{"config/blocklist.json", cfg.LogFiltersKey, cfg.PlansConfigKey},
		)
	}

	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default:  constants.DefaultRequestTimeout,
		Extended: 2 * constants.DefaultRequestTimeout,
		// Exports upload to object storage before presigning
		ExtendedPatterns: []string{"/export"},
		// Webhook handlers must acknowledge after the credit is written
		SkipPatterns: []string{"/webhooks/"},
	}))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After", "X-API-Version", "X-Min-App-Version"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(mw.APIVersion())
	router.Use(mw.Cache(mw.DefaultCacheConfig()))

	// Request size limit - prevent large payload attacks
	router.Use(middleware.RequestSize(constants.MaxRequestBodySize))

	// Global rate limit by IP (fallback for unauthenticated requests)
	// Authenticated users get plan-based limits applied below
	router.Use(httprate.LimitByIP(100, time.Minute))

	// Resolve the caller (if any) so the per-plan limiter can key on it.
	// Huma operations enforce their own security requirements.
	router.Use(mw.OptionalAuth(authenticator))
	router.Use(mw.RateLimitByUser(mw.DefaultRateLimitConfig()))

	// Scale-to-zero: background tasks count as activity
	var scheduler *worker.Scheduler
	idle := shutdown.NewIdleMonitor(shutdown.Config{
		Timeout:      cfg.IdleShutdownTimeout,
		ExcludePaths: []string{"/healthz", "/readyz", "/metrics"},
		Busy:         func() bool { return scheduler != nil && scheduler.Busy() },
		Logger:       logger,
	})
	router.Use(idle.Middleware)

	if cfg.MetricsEnabled {
		router.Use(metrics.Middleware)
		router.Handle("/metrics", metrics.Handler())
	}

	// Huma API with OpenAPI docs; security is enforced per operation
	api := humachi.New(router, routes.NewHumaConfig(cfg.BaseURL))
	api.UseMiddleware(mw.HumaAuth(api, mw.HumaAuthConfig{
		Authenticator: authenticator,
		UploadTokens:  services.UploadTokens,
	}))

	readyz := handlers.NewReadyzHandler(db)
	h := &routes.Handlers{
		HealthCheck: handlers.HealthCheck,
		ListPlans:   handlers.ListPlans,
		Livez:       handlers.Livez,
		Readyz:      readyz.Readyz,
		Community:   handlers.NewCommunityHandler(services.Community, services.Credits, logger),
		Collector:   handlers.NewCollectorHandler(services.Community),
		Estimation:  handlers.NewEstimationHandler(services.Estimations, services.Credits, logger),
		Account:     handlers.NewAccountHandler(services.Credits),
		Admin:       handlers.NewAdminHandler(services.Community, services.Credits, services.Estimations, logger),
	}
	if !cfg.AdminEnabled {
		h.Admin = handlers.DisabledAdmin{}
	}
	routes.Register(api, h)

	// Webhooks (signature verified by handler, not user auth)
	if cfg.ClerkWebhookSecret != "" {
		clerkWebhook := handlers.NewClerkWebhookHandler(cfg.ClerkWebhookSecret, services.Credits, logger)
		router.Post("/api/v1/webhooks/clerk", clerkWebhook.HandleWebhook)
		logger.Info("clerk webhook endpoint enabled")
	}
	if cfg.StripeEnabled() {
		stripeWebhook := handlers.NewStripeWebhookHandler(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripeCreditPacks, services.Credits, logger)
		router.Post("/api/v1/webhooks/stripe", stripeWebhook.HandleWebhook)
		logger.Info("stripe webhook endpoint enabled", "credit_packs", len(cfg.StripeCreditPacks))
	}

	// Background tasks: job expiry, monthly resets, housekeeping
	deps := worker.Deps{
		Jobs:    services.Community,
		Credits: services.Credits,
		Keys:    services.Estimations,
	}
	if services.Storage.IsEnabled() {
		deps.Exports = services.Storage
	}
	scheduler, err = worker.New(deps, worker.Config{
		SweepInterval:      cfg.ExpirySweepInterval,
		ResetSchedule:      cfg.MonthlyResetSchedule,
		PruneSchedule:      cfg.QuotaPruneSchedule,
		QuotaRetentionDays: cfg.QuotaRetentionDays,
		Refreshers:         refreshers,
	}, logger)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}
	scheduler.Start(ctx)
	go idle.Run(ctx)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-sigChan:
			logger.Info("shutting down server")
		case <-idle.Done():
			logger.Info("shutting down idle server")
		}

		// Stop background work first
		cancel()
		scheduler.Stop()

		// Stop log filters loader if running
		if logFiltersLoader != nil {
			logFiltersLoader.Stop()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	// Start server
	mode := "hosted"
	if cfg.IsSelfHosted() {
		mode = "self-hosted"
	}
	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL, "mode", mode)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
