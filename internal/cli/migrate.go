package cli

import (
	"context"
	"fmt"

	"reward_verification_service/internal/infra/bootstrap"
	"reward_verification_service/internal/infra/config"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, bootstrap.Options{Migrate: true}, func(_ context.Context, c *bootstrap.Container) error {
				if c.Config.StorageDriver != config.StorageDriverPostgres {
					return fmt.Errorf("migrate needs STORAGE_DRIVER=postgres, got %s", c.Config.StorageDriver)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations up to date")
				return nil
			})
		},
	}
}
