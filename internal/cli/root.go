// Package cli implements flipdeckctl, the operator tool for running ledger
// and task-pool maintenance against the database outside the server.
package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/flipdeck-api/internal/auth"
	"github.com/jmylchreest/flipdeck-api/internal/config"
	"github.com/jmylchreest/flipdeck-api/internal/database"
	"github.com/jmylchreest/flipdeck-api/internal/logging"
	"github.com/jmylchreest/flipdeck-api/internal/repository"
	"github.com/jmylchreest/flipdeck-api/internal/service"
	"github.com/jmylchreest/flipdeck-api/internal/version"
)

// Env is what a command runs against.
type Env struct {
	DB        *sql.DB
	Credits   *service.CreditService
	Community *service.CommunityService
	Config    *config.Config
	Logger    *slog.Logger
}

// Opener builds an Env. The returned func releases it.
type Opener func(ctx context.Context) (*Env, func(), error)

type rootOptions struct {
	jsonOutput bool
	open       Opener
}

// Execute runs flipdeckctl against the configured database.
func Execute() error {
	return NewRootCmd(OpenFromConfig).Execute()
}

// NewRootCmd builds the command tree. Tests pass their own Opener.
func NewRootCmd(open Opener) *cobra.Command {
	opts := &rootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "flipdeckctl",
		Short: "Flipdeck operator tool",
		Long: `flipdeckctl runs maintenance against the Flipdeck database: migrations,
monthly credit resets, manual grants and task pool upkeep.

Configuration is read from the same environment (and .env file) as the server.`,
		Version:       version.Get().Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newResetCreditsCmd(opts))
	cmd.AddCommand(newResetDueCmd(opts))
	cmd.AddCommand(newGrantCreditsCmd(opts))
	cmd.AddCommand(newSupplyTaskCmd(opts))
	cmd.AddCommand(newExpireStaleCmd(opts))

	return cmd
}

// OpenFromConfig loads configuration, opens the database and builds the
// services the commands use.
func OpenFromConfig(ctx context.Context) (*Env, func(), error) {
	logger := logging.SetDefault()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := database.New(database.Options{
		DSN:       cfg.DatabaseURL,
		SyncURL:   cfg.TursoSyncURL,
		AuthToken: cfg.TursoAuthToken,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	env := NewEnv(db, cfg, logger)
	return env, func() { _ = db.Close() }, nil
}

// NewEnv wires services over an open database.
func NewEnv(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Env {
	repos := repository.NewRepositories(db)
	credits := service.NewCreditService(repos, logger)

	// Claims are never issued from the CLI; the issuer is only needed when
	// a key is configured.
	var tokens *auth.UploadTokenIssuer
	if len(cfg.UploadTokenKey) > 0 {
		tokens = auth.NewUploadTokenIssuer(cfg.UploadTokenKey, cfg.UploadTokenTTL)
	}

	return &Env{
		DB:        db,
		Credits:   credits,
		Community: service.NewCommunityService(repos, credits, tokens, cfg.JobExpiryWindow, logger),
		Config:    cfg,
		Logger:    logger,
	}
}

// withEnv opens an Env for the duration of fn.
func (o *rootOptions) withEnv(cmd *cobra.Command, fn func(ctx context.Context, env *Env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, release, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx, env)
}

// print writes v as indented JSON when --json is set, otherwise the text line.
func (o *rootOptions) print(w io.Writer, v any, text string, args ...any) error {
	if o.jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintf(w, text+"\n", args...)
	return err
}
