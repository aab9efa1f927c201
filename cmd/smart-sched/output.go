package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/awaistahir/smart-sched/internal/engine"
	"github.com/awaistahir/smart-sched/internal/store"
	"github.com/awaistahir/smart-sched/internal/wire"
)

// clock renders minutes from midnight as HH:MM
func clock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

type applianceFlags struct {
	name     string
	powerW   float64
	duration int
	earliest int
	deadline int
	priority string
}

func (f *applianceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "Appliance name (required)")
	cmd.Flags().Float64VarP(&f.powerW, "power", "w", 0, "Rated power in watts (required)")
	cmd.Flags().IntVarP(&f.duration, "duration", "d", 60, "Run duration in minutes")
	cmd.Flags().IntVar(&f.earliest, "earliest", 0, "Earliest start, minutes after midnight")
	cmd.Flags().IntVar(&f.deadline, "deadline", engine.DefaultHorizonMin, "Latest end, minutes after midnight")
	cmd.Flags().StringVarP(&f.priority, "priority", "p", "medium", "Priority (low, medium, high)")
}

func (f *applianceFlags) validate() error {
	switch f.priority {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("unknown priority %q (use low, medium or high)", f.priority)
	}
	if f.powerW <= 0 || f.duration <= 0 {
		return fmt.Errorf("power and duration must be positive")
	}
	return nil
}

func (f *applianceFlags) appliance() *store.Appliance {
	return &store.Appliance{
		Name:        f.name,
		PowerW:      f.powerW,
		DurationMin: f.duration,
		EarliestMin: f.earliest,
		DeadlineMin: f.deadline,
		Priority:    f.priority,
		Enabled:     true,
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// printSchedule writes the entries as a table followed by a summary
func printSchedule(w io.Writer, s *engine.Schedule) error {
	if !s.Feasible {
		fmt.Fprintf(w, "✗ No feasible schedule: %s\n", s.InfeasibleReason)
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Appliance", "Start", "End", "Power (W)", "Cost")
	for _, e := range s.Entries {
		if err := table.Append([]string{
			e.ApplianceName,
			clock(e.StartMin),
			clock(e.EndMin),
			strconv.FormatFloat(e.PowerW, 'f', 0, 64),
			money(e.Cost),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	mode := "optimal"
	if s.Strategy == engine.StrategyGreedy {
		mode = "heuristic"
	} else if !s.Exhaustive {
		mode = "best found before timeout"
	}
	fmt.Fprintf(w, "\nStrategy: %s (%s), %d-minute slots, %d nodes in %s\n",
		s.Strategy, mode, s.GranularityMin, s.NodesExplored, s.Runtime.Round(time.Microsecond))
	fmt.Fprintf(w, "Total cost: %s (baseline %s, %.1f%% saved)\n", money(s.TotalCost), money(s.BaselineCost), s.SavingsPercent)
	fmt.Fprintf(w, "Peak load: %.2f kW (baseline %.2f kW), PAR %.2f\n", s.PeakKW, s.BaselinePeakKW, s.PAR)
	return nil
}

// emit prints a schedule as JSON or as a table
func emit(s *engine.Schedule, asJSON bool) error {
	if asJSON {
		return printJSON(os.Stdout, wire.FromSchedule(s))
	}
	return printSchedule(os.Stdout, s)
}
