// Package cmd implements the maintd CLI.
package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tidelake/maintd/internal/config"
	"github.com/tidelake/maintd/internal/observability"
	"github.com/tidelake/maintd/pkg/catalog"
	"github.com/tidelake/maintd/pkg/license"
	"github.com/tidelake/maintd/pkg/physical"
	"github.com/tidelake/maintd/pkg/policy"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersionInfo is called from main with build-time values.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
}

var (
	flagDBPath    string
	flagLogLevel  string
	flagLogFormat string
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "maintd",
	Short: "Maintenance-job runner for partitioned data stores",
	Long: `maintd schedules and executes background maintenance policies
(chunk reorder, retention, continuous-aggregate materialization) against
a local catalog of hypertables, chunks, and jobs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Catalog database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: json or console")
}

// setup resolves configuration and builds the process logger. Flags win
// over config file and environment.
func setup(ctx context.Context) error {
	overrides := map[string]any{}
	if flagDBPath != "" {
		overrides["database"] = map[string]any{"path": flagDBPath}
	}
	logging := map[string]any{}
	if flagLogLevel != "" {
		logging["level"] = flagLogLevel
	}
	if flagLogFormat != "" {
		logging["format"] = flagLogFormat
	}
	if len(logging) > 0 {
		overrides["logging"] = logging
	}

	c, err := config.Load(ctx, overrides)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg = c

	l, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	logger = l
	return nil
}

// Execute runs the CLI with the given context.
func Execute(ctx context.Context) error {
	defer func() {
		if logger != nil {
			_ = logger.Sync()
		}
	}()
	return rootCmd.ExecuteContext(ctx)
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

func openCatalog(ctx context.Context) (*sql.DB, error) {
	return catalog.Open(ctx, catalog.Config{Path: cfg.Database.Path})
}

func newLicenseGate() (*license.Gate, error) {
	expiry, err := cfg.License.ExpiryTime()
	if err != nil {
		return nil, err
	}
	return license.NewGate(cfg.License.Tier, expiry), nil
}

func newExecutor(db *sql.DB, gate *license.Gate) *policy.Executor {
	materializer := physical.NewMaterializer(db, logger, physical.DefaultBatchLimit)
	ops := policy.Ops{
		Reorder:     physical.Reorder,
		DropChunks:  physical.DropChunks,
		Materialize: materializer.Run,
	}
	return policy.NewExecutor(db, logger, gate, ops)
}
