package cli

import (
	"context"
	"fmt"
	"time"

	"reward_verification_service/internal/domain/verification"
	"reward_verification_service/internal/infra/bootstrap"

	"github.com/spf13/cobra"
)

func newCycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Manage verification cycles",
	}

	var week string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the verification cycle for a week",
		Long:  "Create the verification cycle for the week starting on --week (a Monday, YYYY-MM-DD). Defaults to the current week.",
		RunE: func(cmd *cobra.Command, args []string) error {
			monday, err := parseWeek(week, time.Now())
			if err != nil {
				return err
			}
			return withContainer(cmd, bootstrap.Options{}, func(ctx context.Context, c *bootstrap.Container) error {
				cycle, err := c.Cycles.CreateCycle(ctx, monday, "rewardsctl")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created cycle %s for week %s (deadline %s)\n",
					cycle.ID, cycle.CycleWeek.Format("2006-01-02"), cycle.VerificationDeadline.Format("2006-01-02"))
				return nil
			})
		},
	}
	create.Flags().StringVar(&week, "week", "", "Monday of the cycle week (YYYY-MM-DD)")

	expire := &cobra.Command{
		Use:   "expire",
		Short: "Expire cycles whose verification deadline has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, bootstrap.Options{}, func(ctx context.Context, c *bootstrap.Container) error {
				n, err := c.Cycles.ExpireOverdueCycles(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "Expired %d cycle(s)\n", n)
				return err
			})
		},
	}

	cmd.AddCommand(create, expire)
	return cmd
}

// parseWeek returns the Monday named by raw, or the Monday of now's week when raw is empty.
func parseWeek(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return verification.WeekOf(now), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --week %q: want YYYY-MM-DD", raw)
	}
	if !verification.IsMonday(t) {
		return time.Time{}, fmt.Errorf("invalid --week %q: %s is a %s, not a Monday", raw, raw, t.Weekday())
	}
	return t, nil
}
