package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/tidelake/maintd/pkg/catalog"
	"github.com/tidelake/maintd/pkg/policy"
)

var runCmd = &cobra.Command{
	Use:   "run <job_id>",
	Short: "Execute one maintenance job immediately",
	Long: `Execute a single invocation of a maintenance job outside the worker
schedule. Statistics and the run diary are not updated; this is a
debugging and operations tool.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	jobID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job id", err)
	}

	db, err := openCatalog(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open catalog database", err)
	}
	defer func() { _ = db.Close() }()

	job, err := catalog.FindJob(ctx, db, jobID)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to look up job", err)
	}
	if job == nil {
		return exitError(foundry.ExitInvalidArgument, "Unknown job",
			&policy.JobNotFoundError{JobID: jobID})
	}

	gate, err := newLicenseGate()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid license configuration", err)
	}

	ran, err := newExecutor(db, gate).Execute(ctx, job)
	if err != nil {
		var entitlement *policy.EntitlementError
		if errors.As(err, &entitlement) {
			return exitError(foundry.ExitInvalidArgument, "License does not permit this job", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Job run failed", err)
	}

	if ran {
		_, _ = fmt.Fprintf(os.Stdout, "Job %d completed\n", jobID)
	} else {
		_, _ = fmt.Fprintf(os.Stdout, "Job %d had nothing to do\n", jobID)
	}
	return nil
}
