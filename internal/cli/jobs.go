package cli

import (
	"context"
	"fmt"

	"reward_verification_service/internal/app"
	"reward_verification_service/internal/infra/bootstrap"

	"github.com/spf13/cobra"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run scheduled jobs once",
	}

	overdue := &cobra.Command{
		Use:   "overdue",
		Short: "Mark pending invoices past their due date as overdue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, bootstrap.Options{}, func(ctx context.Context, c *bootstrap.Container) error {
				n, err := c.Payments.MarkOverdueInvoices(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %d invoice(s) overdue\n", n)
				return err
			})
		},
	}

	var limit int
	outbox := &cobra.Command{
		Use:   "outbox",
		Short: "Drain due payment side effects from the outbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, bootstrap.Options{}, func(ctx context.Context, c *bootstrap.Container) error {
				res, err := c.Outbox.ProcessDue(ctx, limit)
				fmt.Fprintf(cmd.OutOrStdout(), "Claimed %d, done %d, retried %d, dead %d\n", res.Claimed, res.Done, res.Retried, res.Dead)
				return err
			})
		},
	}
	outbox.Flags().IntVar(&limit, "limit", app.DefaultOutboxBatchSize, "Maximum events to claim")

	leases := &cobra.Command{
		Use:   "reclaim-leases",
		Short: "Clear expired reward batch leases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, bootstrap.Options{}, func(ctx context.Context, c *bootstrap.Container) error {
				n, err := c.Rewards.ReclaimExpiredLeases(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d lease(s)\n", n)
				return err
			})
		},
	}

	cmd.AddCommand(overdue, outbox, leases)
	return cmd
}
