package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quiz-room-service/internal/auth"
	"quiz-room-service/internal/config"
	"quiz-room-service/internal/domain"
)

// NewTokenCmd signs a development token with the configured secret.
func NewTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = config.TTLDuration(cfg.Auth.TokenTTL, 12*time.Hour)
			}

			parsed := make([]domain.Role, 0, len(roles))
			for _, r := range roles {
				role := domain.Role(r)
				if !role.Known() {
					return fmt.Errorf("unknown role %q", r)
				}
				parsed = append(parsed, role)
			}

			token, err := auth.NewIssuer(cfg.Auth.JWTSecret, ttl).Issue(subject, parsed...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "dev-user", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", []string{string(domain.RoleTeacher)}, "roles to embed (student, teacher, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.tokenTTL)")
	return cmd
}
