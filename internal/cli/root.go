package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"reward_verification_service/internal/infra/bootstrap"
	"reward_verification_service/internal/infra/config"
	"reward_verification_service/internal/infra/logger"

	"github.com/spf13/cobra"
)

var commandTimeout time.Duration

// NewRootCmd builds the rewardsctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rewardsctl",
		Short: "Operate the reward verification service",
		Long: `rewardsctl runs migrations and the one-shot jobs the scheduler normally runs
(cycle creation, cycle expiry, overdue sweep, outbox drain, lease reclaim).

Configuration is read from the same environment variables as the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().DurationVar(&commandTimeout, "timeout", 2*time.Minute, "Timeout for the whole command")

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newCycleCmd())
	root.AddCommand(newJobsCmd())
	root.AddCommand(newTokenCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// withContainer loads configuration and services, runs fn and releases everything.
func withContainer(cmd *cobra.Command, opts bootstrap.Options, fn func(ctx context.Context, c *bootstrap.Container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(cfg)

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	c, err := bootstrap.Build(ctx, cfg, opts, logger.Log)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}
