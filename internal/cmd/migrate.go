package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tidelake/maintd/pkg/catalog"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Initialize or upgrade the catalog database",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, err := openCatalog(ctx)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open catalog database", err)
	}
	defer func() { _ = db.Close() }()

	if err := catalog.Migrate(ctx, db); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to migrate catalog database", err)
	}

	logger.Info("catalog migrated",
		zap.String("path", cfg.Database.Path),
		zap.Int("schema_version", catalog.SchemaVersion))
	return nil
}
