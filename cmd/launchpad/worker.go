package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/launchpad/internal/queue"
)

func newWorkerCmd(logger *slog.Logger) *cobra.Command {
	var purgeEvery, retain time.Duration
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process repository jobs and integration events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			repos, err := a.repositoryWorker()
			if err != nil {
				return err
			}
			integration, err := a.eventWorker()
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return repos.Run(ctx) })
			g.Go(func() error { return integration.Run(ctx) })
			g.Go(func() error {
				purgeLoop(ctx, logger, purgeEvery, retain, a.repoQueue, a.eventQueue)
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().DurationVar(&purgeEvery, "purge-every", 10*time.Minute, "interval between retention sweeps")
	cmd.Flags().DurationVar(&retain, "retain", 24*time.Hour, "how long finished jobs stay inspectable")
	return cmd
}

// purgeLoop drops terminal jobs older than retain until ctx ends.
func purgeLoop(ctx context.Context, logger *slog.Logger, every, retain time.Duration, queues ...queue.Queue) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, q := range queues {
			n, err := q.Purge(ctx, retain)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("purge queue failed", "queue", q.Name(), "error", err)
				}
				continue
			}
			if n > 0 {
				logger.Info("purged jobs", "queue", q.Name(), "count", n)
			}
		}
	}
}
