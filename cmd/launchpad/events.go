package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/launchpad/internal/events"
)

func newEventsCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and replay the event log of a resource",
	}
	cmd.AddCommand(
		newEventsListCmd(logger),
		newEventsReplayCmd(logger),
		newEventsCleanupCmd(logger),
	)
	return cmd
}

func openReplayer(cmd *cobra.Command, logger *slog.Logger) (*app, *events.Replayer, error) {
	a, err := buildApp(cmd.Context(), logger, false)
	if err != nil {
		return nil, nil, err
	}
	r, err := events.NewReplayer(a.eventLog, a.publisher)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, r, nil
}

func newEventsListCmd(logger *slog.Logger) *cobra.Command {
	var eventType string
	var since time.Duration
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list <resource-id>",
		Short: "Print logged events, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, r, err := openReplayer(cmd, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			rng := events.Range{Limit: limit, Offset: offset}
			if since > 0 {
				rng.From = time.Now().Add(-since)
			}
			var list []events.Event
			if eventType != "" {
				list, err = r.EventsByType(cmd.Context(), args[0], eventType, rng)
			} else {
				list, err = r.Events(cmd.Context(), args[0], rng)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, event := range list {
				if err := enc.Encode(event); err != nil {
					return err
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&eventType, "type", "", "only events of this type")
	f.DurationVar(&since, "since", 0, "only events newer than this")
	f.IntVar(&limit, "limit", 100, "maximum number of events")
	f.IntVar(&offset, "offset", 0, "events to skip")
	return cmd
}

func newEventsReplayCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <resource-id> <event-id>...",
		Short: "Publish logged events again",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, r, err := openReplayer(cmd, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res := r.ReplayBatch(cmd.Context(), args[0], args[1:])
			for _, failure := range res.Errors {
				logger.Warn("replay failed", "event_id", failure.EventID, "error", failure.Err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d, failed %d\n", res.Success, res.Failed)
			if res.Failed > 0 {
				return fmt.Errorf("%d events failed to replay", res.Failed)
			}
			return nil
		},
	}
}

func newEventsCleanupCmd(logger *slog.Logger) *cobra.Command {
	var olderThan time.Duration
	var all bool
	cmd := &cobra.Command{
		Use:   "cleanup <resource-id>",
		Short: "Drop old events of a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, r, err := openReplayer(cmd, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if all {
				return r.DeleteAll(cmd.Context(), args[0])
			}
			n, err := r.Cleanup(cmd.Context(), args[0], olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d events\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the events to drop")
	cmd.Flags().BoolVar(&all, "all", false, "drop the whole log of the resource")
	return cmd
}
