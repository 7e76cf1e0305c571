// Command launchpad initializes projects and runs the repository worker.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(logger).ExecuteContext(ctx); err != nil {
		var cfgErr *configError
		if errors.As(err, &cfgErr) {
			logger.Error("invalid config", "error", err)
			os.Exit(2)
		}
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "launchpad",
		Short:         "Provision projects: environments, repository and GitOps wiring",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newInitCmd(logger),
		newWorkerCmd(logger),
		newWatchCmd(logger),
		newEventsCmd(logger),
		newCleanupCmd(logger),
	)
	return root
}
