package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/heatwatch/pkg/jobs"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Run periodic jobs by hand",
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run one pass of a job (heat_alert or escalation)",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRun,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsRunCmd)

	jobsRunCmd.Flags().Bool("force", false, "Scan heat levels now, ignoring notification windows")
}

func runJobsRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")

	a, err := initApp(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	router, err := a.initSenders()
	if err != nil {
		return err
	}
	a.useSender(router)

	scheduler := jobs.NewScheduler(a.clock, a.logger, a.metrics)
	switch args[0] {
	case jobs.HeatAlertName:
		source, err := initHeatSource(cfg)
		if err != nil {
			return err
		}
		job, err := a.heatAlertJob(source)
		if err != nil {
			return err
		}
		if force {
			res, err := job.Scan(cmd.Context(), a.clock.Now().In(a.location))
			if err != nil {
				return err
			}
			fmt.Printf("Heat alert scan:\n")
			fmt.Printf("  Grids:           %d (%d issued)\n", res.Grids, res.GridsIssued)
			fmt.Printf("  Alerts created:  %d\n", res.AlertsCreated)
			fmt.Printf("  Calls placed:    %d\n", res.CallsPlaced)
			fmt.Printf("  SMS fallbacks:   %d\n", res.SMSFallbacks)
			fmt.Printf("  Skipped:         %d\n", res.HouseholdsSkip)
			fmt.Printf("  Failures:        %d\n", res.Failures)
			return nil
		}
		if err := scheduler.Register(jobs.HeatAlertName, cfg.Jobs.HeatAlertInterval, job.Run); err != nil {
			return err
		}
	case jobs.EscalationName:
		if err := scheduler.Register(jobs.EscalationName, cfg.Jobs.EscalationInterval, a.escalationJob().Run); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown job %q (want one of %s)", args[0], strings.Join([]string{jobs.HeatAlertName, jobs.EscalationName}, ", "))
	}

	if err := scheduler.RunNow(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	fmt.Printf("Job %s finished.\n", args[0])
	return nil
}
