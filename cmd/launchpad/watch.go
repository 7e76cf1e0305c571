package main

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/animus-labs/launchpad/internal/progress"
)

func newWatchCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <project-id>",
		Short: "Stream initialization progress of a project as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			projectID := args[0]
			enc := json.NewEncoder(cmd.OutOrStdout())
			events, stop, err := a.tracker.Subscribe(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			defer stop()

			// The snapshot covers what happened before the subscription.
			snap, err := a.tracker.Snapshot(cmd.Context(), projectID)
			switch {
			case err == nil:
				if err := enc.Encode(snap); err != nil {
					return err
				}
				if terminal(snap) {
					return nil
				}
			case !errors.Is(err, progress.ErrNoSnapshot):
				logger.Warn("load progress snapshot failed", "project_id", projectID, "error", err)
			}

			for event := range events {
				if err := enc.Encode(event); err != nil {
					return err
				}
				if terminal(event) {
					return nil
				}
			}
			return nil
		},
	}
}

func terminal(event progress.Event) bool {
	return event.Type == progress.TypeCompleted || event.Type == progress.TypeFailed
}
