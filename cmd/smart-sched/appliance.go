package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func applianceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appliance",
		Short: "Manage appliances",
	}

	cmd.AddCommand(applianceAddCmd())
	cmd.AddCommand(applianceListCmd())
	cmd.AddCommand(applianceRemoveCmd())
	cmd.AddCommand(applianceToggleCmd("enable", true))
	cmd.AddCommand(applianceToggleCmd("disable", false))

	return cmd
}

func applianceAddCmd() *cobra.Command {
	var in applianceFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new appliance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := in.validate(); err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			appliance := in.appliance()
			if err := st.SaveAppliance(appliance); err != nil {
				return err
			}

			fmt.Printf("✓ Added appliance: %s\n", appliance.Name)
			fmt.Printf("  ID: %s\n", appliance.ID)
			fmt.Printf("  Runs %d minutes at %.0f W between %s and %s\n",
				appliance.DurationMin, appliance.PowerW, clock(appliance.EarliestMin), clock(appliance.DeadlineMin))
			return nil
		},
	}

	in.register(cmd)
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("power")

	return cmd
}

func applianceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all appliances",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			appliances, err := st.ListAppliances(false)
			if err != nil {
				return err
			}
			if len(appliances) == 0 {
				fmt.Println("No appliances configured")
				return nil
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Header("ID", "Name", "Power (W)", "Duration", "Earliest", "Deadline", "Priority", "Enabled")
			for _, a := range appliances {
				enabled := "Yes"
				if !a.Enabled {
					enabled = "No"
				}
				table.Append([]string{
					a.ID,
					a.Name,
					strconv.FormatFloat(a.PowerW, 'f', 0, 64),
					fmt.Sprintf("%dm", a.DurationMin),
					clock(a.EarliestMin),
					clock(a.DeadlineMin),
					a.Priority,
					enabled,
				})
			}
			return table.Render()
		},
	}
}

func applianceRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an appliance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteAppliance(args[0]); err != nil {
				return fmt.Errorf("removing appliance %s: %w", args[0], err)
			}
			fmt.Printf("✓ Removed appliance %s\n", args[0])
			return nil
		},
	}
}

func applianceToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: "Include or exclude an appliance from plans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			a, err := st.GetAppliance(args[0])
			if err != nil {
				return fmt.Errorf("loading appliance %s: %w", args[0], err)
			}
			a.Enabled = enabled
			if err := st.SaveAppliance(a); err != nil {
				return err
			}
			fmt.Printf("✓ %s %sd\n", a.Name, use)
			return nil
		},
	}
}
