package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan <household>",
	Short: "Show who would be contacted, and when, if the household never answers",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().Bool("json", false, "Print the plan as JSON")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := initApp(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	h, err := a.store.GetHousehold(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get household: %w", err)
	}
	steps := a.planner.Projection(h)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(steps)
	}

	fmt.Printf("Contact plan for %s (%s)\n\n", h.Name, h.ID)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "AFTER\tSTAGE\tACTION\tRECIPIENT\tDETAIL\n")
	for _, s := range steps {
		stage := string(s.Stage)
		if stage == "" {
			stage = "initial"
		}
		detail := s.Reason
		switch {
		case s.Attempt > 0:
			detail = fmt.Sprintf("attempt %d", s.Attempt)
		case s.Template != "":
			detail = s.Template
		}
		fmt.Fprintf(w, "+%s\t%s\t%s\t%s\t%s\n", s.After, stage, s.Type, s.Recipient, detail)
	}
	w.Flush()

	return nil
}
