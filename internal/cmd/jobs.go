package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/tidelake/maintd/pkg/catalog"
	"github.com/tidelake/maintd/pkg/policy"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and alter maintenance jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered maintenance jobs",
	RunE:  runJobsList,
}

var jobsAlterCmd = &cobra.Command{
	Use:   "alter <job_id>",
	Short: "Change a job's schedule settings",
	Long: `Change scheduling parameters of an existing maintenance job.

Only flags that are set are applied; omitted settings keep their current
values. Altering job schedules requires an enterprise license tier.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsAlter,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsAlterCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")

	jobsAlterCmd.Flags().Duration("schedule-interval", 0, "New schedule interval")
	jobsAlterCmd.Flags().Duration("max-runtime", 0, "New per-run time budget (0 = unlimited)")
	jobsAlterCmd.Flags().Int("max-retries", 0, "New retry budget (-1 = unlimited)")
	jobsAlterCmd.Flags().Duration("retry-period", 0, "New delay before retrying a failed run")
	jobsAlterCmd.Flags().Bool("if-exists", false, "Succeed silently when the job does not exist")
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	db, err := openCatalog(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open catalog database", err)
	}
	defer func() { _ = db.Close() }()

	jobs, err := catalog.ListJobs(ctx, db)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list jobs", err)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tTYPE\tSCHEDULE\tMAX RUNTIME\tMAX RETRIES\tRETRY PERIOD\tNEXT START")
	for _, j := range jobs {
		retries := strconv.Itoa(j.MaxRetries)
		if j.MaxRetries < 0 {
			retries = "unlimited"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID,
			j.Type,
			j.ScheduleInterval,
			j.MaxRuntime,
			retries,
			j.RetryPeriod,
			j.NextStart.UTC().Format(time.RFC3339),
		)
	}

	return nil
}

func runJobsAlter(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	jobID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job id", err)
	}

	params := policy.AlterScheduleParams{JobID: jobID}
	if cmd.Flags().Changed("schedule-interval") {
		d, _ := cmd.Flags().GetDuration("schedule-interval")
		params.ScheduleInterval = &d
	}
	if cmd.Flags().Changed("max-runtime") {
		d, _ := cmd.Flags().GetDuration("max-runtime")
		params.MaxRuntime = &d
	}
	if cmd.Flags().Changed("max-retries") {
		n, _ := cmd.Flags().GetInt("max-retries")
		params.MaxRetries = &n
	}
	if cmd.Flags().Changed("retry-period") {
		d, _ := cmd.Flags().GetDuration("retry-period")
		params.RetryPeriod = &d
	}
	params.IfExists, _ = cmd.Flags().GetBool("if-exists")

	db, err := openCatalog(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open catalog database", err)
	}
	defer func() { _ = db.Close() }()

	gate, err := newLicenseGate()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid license configuration", err)
	}

	job, err := newExecutor(db, gate).AlterJobSchedule(ctx, params)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to alter job", err)
	}
	if job == nil {
		_, _ = fmt.Fprintf(os.Stdout, "Job %d does not exist, skipping\n", jobID)
		return nil
	}

	_, _ = fmt.Fprintf(os.Stdout, "Job %d updated: schedule=%s max_runtime=%s max_retries=%d retry_period=%s\n",
		job.ID, job.ScheduleInterval, job.MaxRuntime, job.MaxRetries, job.RetryPeriod)
	return nil
}
