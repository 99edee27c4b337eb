package cli

import (
	"fmt"
	"os"
	"time"

	"reward_verification_service/internal/infra/httpapi"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		adminID string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			if role != httpapi.RoleAdmin && role != httpapi.RoleSuperAdmin {
				return fmt.Errorf("invalid --role %q: want %s or %s", role, httpapi.RoleAdmin, httpapi.RoleSuperAdmin)
			}
			token, err := httpapi.SignAdminToken(secret, adminID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminID, "admin-id", "", "Admin id stored as the token subject")
	cmd.Flags().StringVar(&role, "role", httpapi.RoleAdmin, "Role claim (admin or super_admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime, 0 for no expiry")
	_ = cmd.MarkFlagRequired("admin-id")
	return cmd
}
