package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/jobgate/jobgate/admission"
	"github.com/jobgate/jobgate/cache"
	"github.com/jobgate/jobgate/db"
	"github.com/jobgate/jobgate/errors"
	"github.com/jobgate/jobgate/job"
	"github.com/jobgate/jobgate/logger"
	"github.com/jobgate/jobgate/queue"
	"github.com/jobgate/jobgate/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage admitted jobs",
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recently admitted jobs",
	RunE:  runJobsLs,
}

var jobsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Admit a new job definition",
	Long: `Admit a new job definition. Equivalent definitions (same name,
frequency, cron expression, and payload) are rejected unless --force is
set. The running daemon schedules the job on its next startup
reconciliation.`,
	RunE: runJobsAdd,
}

var jobsRmCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Delete a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRm,
}

var (
	lsLimit       int
	addName       string
	addDesc       string
	addFrequency  string
	addCron       string
	addStart      string
	addEnd        string
	addData       string
	addMaxRetries int
	addDisabled   bool
	addForce      bool
)

func init() {
	jobsLsCmd.Flags().IntVar(&lsLimit, "limit", 50, "Maximum number of jobs to list")

	jobsAddCmd.Flags().StringVar(&addName, "name", "", "Job name (required)")
	jobsAddCmd.Flags().StringVar(&addDesc, "desc", "", "Job description")
	jobsAddCmd.Flags().StringVar(&addFrequency, "frequency", "ONCE", "ONCE, DAILY, WEEKLY, MONTHLY, or CUSTOM")
	jobsAddCmd.Flags().StringVar(&addCron, "cron", "", "Cron expression (CUSTOM frequency only)")
	jobsAddCmd.Flags().StringVar(&addStart, "start", "", "Start date, RFC3339 (default: now)")
	jobsAddCmd.Flags().StringVar(&addEnd, "end", "", "End date, RFC3339")
	jobsAddCmd.Flags().StringVar(&addData, "data", "", "Job payload as a JSON object")
	jobsAddCmd.Flags().IntVar(&addMaxRetries, "max-retries", job.DefaultMaxRetries, "Retry budget for failed runs")
	jobsAddCmd.Flags().BoolVar(&addDisabled, "disabled", false, "Admit the job without scheduling it")
	jobsAddCmd.Flags().BoolVar(&addForce, "force", false, "Admit even when an equivalent job exists")
	jobsAddCmd.MarkFlagRequired("name")

	jobsCmd.AddCommand(jobsLsCmd)
	jobsCmd.AddCommand(jobsAddCmd)
	jobsCmd.AddCommand(jobsRmCmd)
}

// openService builds a service over the shared database for one-off CLI
// commands. The queue is a throwaway in-process scheduler; the daemon
// reconciles schedules from the store on startup.
func openService() (*admission.Service, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	conn, err := db.Open(cfg.Database.Path, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(conn, nil); err != nil {
		conn.Close()
		return nil, nil, err
	}

	log := logger.Logger
	st := store.NewStore(conn)
	mem := cache.NewMemory()
	sched := queue.NewScheduler(nil, log)
	svc := admission.NewService(st, mem, sched, admission.NewChecker(st, mem, checkerConfig(cfg), log), log)

	cleanup := func() {
		sched.Stop()
		conn.Close()
	}
	return svc, cleanup, nil
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := openService()
	if err != nil {
		return err
	}
	defer cleanup()

	jobs, err := svc.List(cmd.Context(), lsLimit)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		pterm.Info.Println("No jobs admitted yet")
		return nil
	}

	tableData := pterm.TableData{
		{"ID", "NAME", "FREQUENCY", "STATUS", "ENABLED", "NEXT RUN"},
	}
	for _, j := range jobs {
		nextRun := "-"
		if j.NextRunAt != nil {
			nextRun = j.NextRunAt.Local().Format(time.RFC3339)
		}
		tableData = append(tableData, []string{
			strconv.FormatInt(j.ID, 10),
			j.Name,
			string(j.Frequency),
			string(j.Status),
			strconv.FormatBool(j.Enabled),
			nextRun,
		})
	}

	return pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
}

func runJobsAdd(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := openService()
	if err != nil {
		return err
	}
	defer cleanup()

	fields := admission.Fields{
		Name:           addName,
		Description:    addDesc,
		Frequency:      job.Frequency(addFrequency),
		CronExpression: addCron,
		StartDate:      time.Now(),
	}

	if addStart != "" {
		start, err := time.Parse(time.RFC3339, addStart)
		if err != nil {
			return errors.Wrapf(err, "invalid --start value %q", addStart)
		}
		fields.StartDate = start
	}
	if addEnd != "" {
		end, err := time.Parse(time.RFC3339, addEnd)
		if err != nil {
			return errors.Wrapf(err, "invalid --end value %q", addEnd)
		}
		fields.EndDate = &end
	}
	if addData != "" {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(addData), &data); err != nil {
			return errors.Wrap(err, "--data must be a JSON object")
		}
		fields.Data = data
	}
	if addDisabled {
		enabled := false
		fields.Enabled = &enabled
	}
	fields.MaxRetries = &addMaxRetries

	j, err := svc.Create(cmd.Context(), fields, addForce)
	if err != nil {
		if admission.IsDuplicate(err) {
			return errors.WithHint(err, "use --force to admit it anyway")
		}
		return err
	}

	fmt.Printf("Admitted job %d (%s)\n", j.ID, j.Name)
	return nil
}

func runJobsRm(cmd *cobra.Command, args []string) error {
	var id int64
	if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
		return errors.Newf("invalid job id %q", args[0])
	}

	svc, cleanup, err := openService()
	if err != nil {
		return err
	}
	defer cleanup()

	deleted, err := svc.Delete(cmd.Context(), id)
	if err != nil {
		return err
	}
	if !deleted {
		return errors.Newf("no job with id %d", id)
	}

	fmt.Printf("Deleted job %d\n", id)
	return nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		conn, err := db.Open(cfg.Database.Path, logger.Logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		return db.Migrate(conn, logger.Logger)
	},
}
