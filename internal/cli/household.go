package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/storage"
)

var householdCmd = &cobra.Command{
	Use:   "household",
	Short: "Manage registered households",
}

var householdAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a household, or import a roster with --file",
	RunE:  runHouseholdAdd,
}

var householdListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered households",
	RunE:  runHouseholdList,
}

func init() {
	rootCmd.AddCommand(householdCmd)
	householdCmd.AddCommand(householdAddCmd)
	householdCmd.AddCommand(householdListCmd)

	householdAddCmd.Flags().StringP("file", "f", "", "YAML roster to import")
	householdAddCmd.Flags().String("id", "", "Household ID (generated when empty)")
	householdAddCmd.Flags().StringP("name", "n", "", "Resident name")
	householdAddCmd.Flags().StringP("phone", "p", "", "Phone number to call")
	householdAddCmd.Flags().StringP("grid", "g", "", "Heat grid cell")
	householdAddCmd.Flags().Bool("at-risk", true, "Include in heat alert scans")
	householdAddCmd.Flags().String("tenant", "", "Tenant ID")

	householdListCmd.Flags().StringP("grid", "g", "", "Filter by grid cell")
	householdListCmd.Flags().Bool("at-risk", false, "Only at-risk households")
}

func runHouseholdAdd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	file, _ := cmd.Flags().GetString("file")

	var households []model.Household
	if file != "" {
		households, err = storage.LoadHouseholds(file)
		if err != nil {
			return err
		}
	} else {
		h := model.Household{}
		h.ID, _ = cmd.Flags().GetString("id")
		h.Name, _ = cmd.Flags().GetString("name")
		h.Phone, _ = cmd.Flags().GetString("phone")
		h.Grid, _ = cmd.Flags().GetString("grid")
		h.AtRisk, _ = cmd.Flags().GetBool("at-risk")
		h.TenantID, _ = cmd.Flags().GetString("tenant")
		if err := h.Validate(); err != nil {
			return err
		}
		households = append(households, h)
	}

	a, err := initApp(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	for i := range households {
		h := &households[i]
		created, err := storage.Upsert(cmd.Context(), a.store, h)
		if err != nil {
			return fmt.Errorf("save household %s: %w", h.ID, err)
		}
		verb := "Updated"
		if created {
			verb = "Added"
		}
		fmt.Printf("%s household %s (%s, grid %s, %d contacts)\n", verb, h.ID, h.Name, h.Grid, len(h.Contacts))
	}

	return nil
}

func runHouseholdList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	grid, _ := cmd.Flags().GetString("grid")
	atRisk, _ := cmd.Flags().GetBool("at-risk")

	a, err := initApp(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	households, err := a.store.ListHouseholds(cmd.Context(), model.HouseholdFilter{Grid: grid, AtRiskOnly: atRisk})
	if err != nil {
		return fmt.Errorf("list households: %w", err)
	}

	if len(households) == 0 {
		fmt.Println("No households registered. Use 'heatwatch household add' to register one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tNAME\tPHONE\tGRID\tAT RISK\tFAMILY\tNEIGHBORS\n")
	for _, h := range households {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%d\t%d\n",
			h.ID, h.Name, h.Phone, h.Grid, h.AtRisk,
			len(h.ContactsOfType(model.ContactFamily)),
			len(h.ContactsOfType(model.ContactNeighbor)),
		)
	}
	w.Flush()

	return nil
}
