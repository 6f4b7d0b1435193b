package cmd

import (
	"context"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tidelake/maintd/internal/server"
	"github.com/tidelake/maintd/pkg/catalog"
	"github.com/tidelake/maintd/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the maintenance worker and admin server",
	Long: `Run the background worker loop that executes due maintenance jobs,
alongside the admin HTTP server for health, job inspection, and metrics.
The catalog schema is migrated on startup. Stops on SIGINT/SIGTERM.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, err := openCatalog(ctx)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open catalog database", err)
	}
	defer func() { _ = db.Close() }()

	if err := catalog.Migrate(ctx, db); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to migrate catalog database", err)
	}

	gate, err := newLicenseGate()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid license configuration", err)
	}
	gate.WarnIfExpiring(logger)

	exec := newExecutor(db, gate)
	w := worker.New(db, logger, exec, cfg.Worker.PollInterval)
	srv := server.New(cfg.Server, cfg.Metrics.Enabled, db, exec, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	logger.Info("maintd worker running",
		zap.String("db", cfg.Database.Path),
		zap.String("license_tier", cfg.License.Tier),
		zap.Duration("poll_interval", cfg.Worker.PollInterval))

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- w.Start(ctx)
	}()

	select {
	case err := <-serverErr:
		return exitError(foundry.ExitExternalServiceUnavailable, "Admin server failed", err)
	case <-ctx.Done():
	}

	<-workerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown incomplete", zap.Error(err))
	}

	logger.Info("maintd worker stopped")
	return nil
}
