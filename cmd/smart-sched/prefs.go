package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func prefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change household preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			p, err := st.GetPreferences()
			if err != nil {
				return err
			}

			maxCost := "none"
			if p.MaxCost != nil {
				maxCost = money(*p.MaxCost)
			}
			maxConcurrent := "unlimited"
			if p.MaxConcurrent > 0 {
				maxConcurrent = fmt.Sprint(p.MaxConcurrent)
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Preference", "Value")
			table.Append([]string{"Power limit", fmt.Sprintf("%.0f W", p.PowerLimitW)})
			table.Append([]string{"Max concurrent", maxConcurrent})
			table.Append([]string{"Budget", maxCost})
			table.Append([]string{"Night usage allowed", fmt.Sprint(p.NightUsageAllowed)})
			table.Append([]string{"Max delay", fmt.Sprintf("%d min", p.MaxDelayMin)})
			table.Append([]string{"Cost saving priority", fmt.Sprintf("%.2f", p.CostSavingPriority)})
			return table.Render()
		},
	}

	cmd.AddCommand(prefsSetCmd())
	return cmd
}

func prefsSetCmd() *cobra.Command {
	var (
		powerLimit    float64
		maxConcurrent int
		maxCost       float64
		night         bool
		maxDelay      int
		csp           float64
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change preferences; unset flags keep their values",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			p, err := st.GetPreferences()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("power-limit") {
				p.PowerLimitW = powerLimit
			}
			if flags.Changed("max-concurrent") {
				p.MaxConcurrent = maxConcurrent
			}
			if flags.Changed("max-cost") {
				if maxCost < 0 {
					p.MaxCost = nil
				} else {
					p.MaxCost = &maxCost
				}
			}
			if flags.Changed("night") {
				p.NightUsageAllowed = night
			}
			if flags.Changed("max-delay") {
				p.MaxDelayMin = maxDelay
			}
			if flags.Changed("cost-priority") {
				p.CostSavingPriority = csp
			}

			if p.PowerLimitW <= 0 || p.MaxConcurrent < 0 || p.MaxDelayMin < 0 || p.CostSavingPriority < 0 || p.CostSavingPriority > 1 {
				return fmt.Errorf("invalid preferences: power limit must be positive, cost priority within [0, 1], others non-negative")
			}
			if err := st.SavePreferences(&p); err != nil {
				return err
			}
			fmt.Println("✓ Preferences saved")
			return nil
		},
	}

	cmd.Flags().Float64Var(&powerLimit, "power-limit", 0, "household power ceiling in watts")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "maximum appliances running at once, 0 for unlimited")
	cmd.Flags().Float64Var(&maxCost, "max-cost", 0, "budget cap per plan, negative to remove")
	cmd.Flags().BoolVar(&night, "night", true, "allow appliances to run between 22:00 and 06:00")
	cmd.Flags().IntVar(&maxDelay, "max-delay", 0, "delay in minutes that counts as one unit of discomfort")
	cmd.Flags().Float64Var(&csp, "cost-priority", 0, "weight of cost against peak load, 0 to 1")
	return cmd
}
