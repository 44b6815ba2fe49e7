package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/heatwatch/pkg/model"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect heat alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts for a day",
	RunE:  runAlertsList,
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd)

	alertsListCmd.Flags().StringP("date", "d", "", "Day to list, YYYY-MM-DD (default today)")
	alertsListCmd.Flags().String("household", "", "Filter by household ID")
	alertsListCmd.Flags().StringSliceP("status", "s", nil, "Filter by status (repeatable)")
	alertsListCmd.Flags().Bool("calls", false, "Show call attempts for each alert")
}

func runAlertsList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	date, _ := cmd.Flags().GetString("date")
	household, _ := cmd.Flags().GetString("household")
	statuses, _ := cmd.Flags().GetStringSlice("status")
	showCalls, _ := cmd.Flags().GetBool("calls")

	a, err := initApp(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	if date == "" {
		date = model.DateOf(a.clock.Now().In(a.location))
	}
	filter := model.AlertFilter{Date: date, HouseholdID: household}
	for _, s := range statuses {
		filter.Statuses = append(filter.Statuses, model.AlertStatus(s))
	}

	alerts, err := a.store.ListAlerts(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}

	if len(alerts) == 0 {
		fmt.Printf("No alerts on %s.\n", date)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tHOUSEHOLD\tLEVEL\tSTATUS\tTRIGGERED\tSTAGES\tIN PROGRESS\n")
	for _, al := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			al.ID, al.HouseholdID, al.HeatLevel, al.Status,
			al.FirstTriggeredAt.In(a.location).Format("15:04"),
			stageSummary(al.Stages), al.InProgress,
		)
		if !showCalls {
			continue
		}
		calls, err := a.store.ListCalls(cmd.Context(), al.ID)
		if err != nil {
			return fmt.Errorf("list calls for %s: %w", al.ID, err)
		}
		for _, c := range calls {
			fmt.Fprintf(w, "  call %d\t%s\t\t%s\t%s\t\t\n",
				c.Attempt, c.ProviderCallID, c.Result, c.CreatedAt.In(a.location).Format("15:04"))
		}
	}
	w.Flush()

	return nil
}

func stageSummary(s model.Stages) string {
	out := ""
	for _, st := range []struct {
		flag model.StageFlag
		name string
	}{
		{s.SecondCallMade, "call2"},
		{s.FamilyNotified, "family"},
		{s.NeighborNotified, "neighbor"},
	} {
		if !st.flag.Done {
			continue
		}
		if out != "" {
			out += ","
		}
		out += st.name
	}
	if out == "" {
		return "-"
	}
	return out
}
