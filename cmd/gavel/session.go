package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/gavel/internal/config"
)

func sessionCMD(cfg *config.Config) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "session",
		Short: "Create a backend session and print who it authenticates as",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.sessions.GetOrCreate(ctx); err != nil {
				return err
			}
			if cfg.AdminKey != "" {
				if err := a.backend.AdminLogin(ctx, cfg.AdminKey); err != nil {
					return fmt.Errorf("admin login: %w", err)
				}
			}
			me, err := a.backend.Me(ctx)
			if err != nil {
				return err
			}
			s, _ := a.sessions.Session()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"session_id": s.ID,
				"role":       me.Role,
				"is_admin":   me.IsAdmin,
				"created_at": s.CreatedAt,
			})
		},
	}
	return cmd
}
