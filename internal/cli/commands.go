package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/flipdeck-api/internal/database"
	"github.com/jmylchreest/flipdeck-api/internal/models"
	"github.com/jmylchreest/flipdeck-api/internal/service"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				pending, err := database.GetPendingMigrations(env.DB)
				if err != nil {
					return fmt.Errorf("failed to list pending migrations: %w", err)
				}
				if err := database.Migrate(env.DB, env.Logger); err != nil {
					return fmt.Errorf("failed to run migrations: %w", err)
				}

				applied := make([]string, 0, len(pending))
				for _, m := range pending {
					applied = append(applied, m.Timestamp)
				}
				return opts.print(cmd.OutOrStdout(), map[string]any{"applied": applied},
					"applied %d migration(s)", len(applied))
			})
		},
	}
}

func newResetCreditsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-credits <userId>",
		Short: "Force a monthly credit reset for one account",
		Long:  "Forfeits the remaining balance and grants the plan's monthly allotment, regardless of the reset boundary.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				acct, err := env.Credits.ResetMonthly(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to reset %s: %w", args[0], err)
				}
				return opts.print(cmd.OutOrStdout(), acct,
					"%s: balance %d (%s), next reset %s", acct.UserID, acct.Balance, acct.Plan, acct.ResetAt.Format(time.RFC3339))
			})
		},
	}
}

func newResetDueCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-due",
		Short: "Reset every account past its monthly boundary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				n, err := env.Credits.ResetDue(ctx, time.Now())
				if err != nil {
					return fmt.Errorf("reset sweep failed after %d account(s): %w", n, err)
				}
				return opts.print(cmd.OutOrStdout(), map[string]any{"reset": n},
					"reset %d account(s)", n)
			})
		},
	}
}

func newGrantCreditsCmd(opts *rootOptions) *cobra.Command {
	var reference string

	cmd := &cobra.Command{
		Use:   "grant-credits <userId> <amount>",
		Short: "Credit an account manually",
		Long: `Adds credits to an account as a recharge. Pass --reference to make the
grant idempotent; repeating a grant with the same reference is a no-op.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer, got %q", args[1])
			}
			ref := reference
			if ref == "" {
				ref = "manual:" + ulid.Make().String()
			}

			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				acct, err := env.Credits.Credit(ctx, args[0], amount, models.SourceRecharge, ref)
				if err != nil {
					return fmt.Errorf("failed to grant credits: %w", err)
				}
				return opts.print(cmd.OutOrStdout(), acct,
					"%s: balance %d (reference %s)", acct.UserID, acct.Balance, ref)
			})
		},
	}

	cmd.Flags().StringVar(&reference, "reference", "", "idempotency reference (default: generated)")
	return cmd
}

func newSupplyTaskCmd(opts *rootOptions) *cobra.Command {
	var in service.CreateTaskInput
	var priority string

	cmd := &cobra.Command{
		Use:   "supply-task",
		Short: "Add a task to the community pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Priority = models.TaskPriority(priority)

			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				task, err := env.Community.SupplyTask(ctx, in)
				if err != nil {
					return fmt.Errorf("failed to supply task: %w", err)
				}
				return opts.print(cmd.OutOrStdout(), task,
					"supplied %s: %s on %s (%s, %d credits)", task.ID, task.ModelName, task.Platform, task.Priority, task.RewardCredits)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.ModelName, "model", "", "model name to collect listings for")
	f.StringVar(&in.Platform, "platform", "", "marketplace to crawl")
	f.StringVar(&priority, "priority", string(models.PriorityMedium), "low, medium or high")
	f.StringVar(&in.Type, "type", "listing_scan", "task type")
	f.StringVar(&in.Region, "region", "", "marketplace region")
	f.IntVar(&in.PagesFrom, "pages-from", 1, "first results page")
	f.IntVar(&in.PagesTo, "pages-to", 5, "last results page")
	f.IntVar(&in.EstimatedTimeMinutes, "estimated-minutes", 15, "expected collection time")
	f.Int64Var(&in.RewardCredits, "reward", 5, "credits paid on completion")
	f.StringVar(&in.Context, "context", "", "free-form notes for the collector")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("platform")

	return cmd
}

func newExpireStaleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expire-stale",
		Short: "Expire claimed jobs with no recent progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				n, err := env.Community.ExpireStale(ctx, time.Now())
				if err != nil {
					return fmt.Errorf("failed to expire stale jobs: %w", err)
				}
				return opts.print(cmd.OutOrStdout(), map[string]any{"expired": n},
					"expired %d job(s)", n)
			})
		},
	}
}
