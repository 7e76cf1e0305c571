package main

import (
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/animus-labs/launchpad/internal/initflow"
	"github.com/animus-labs/launchpad/internal/platform/env"
)

func newCleanupCmd(logger *slog.Logger) *cobra.Command {
	var userID, action string
	cmd := &cobra.Command{
		Use:   "cleanup <project-id>",
		Short: "Archive a project and remove or archive what it provisioned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			orch, err := a.orchestrator()
			if err != nil {
				return err
			}
			res, err := orch.Cleanup(cmd.Context(), initflow.CleanupRequest{
				ProjectID:   args[0],
				UserID:      userID,
				Action:      initflow.CleanupAction(action),
				AccessToken: env.Trimmed("LAUNCHPAD_SCM_TOKEN", ""),
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user performing the cleanup")
	cmd.Flags().StringVar(&action, "action", string(initflow.CleanupArchive), "delete or archive the connected repositories")
	return cmd
}
