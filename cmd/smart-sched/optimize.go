package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/awaistahir/smart-sched/internal/config"
	"github.com/awaistahir/smart-sched/internal/engine"
	"github.com/awaistahir/smart-sched/internal/prices"
	"github.com/awaistahir/smart-sched/internal/store"
	"github.com/awaistahir/smart-sched/internal/wire"
)

func optimizeCmd() *cobra.Command {
	var file string
	var asJSON, save bool

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Schedule the appliances described in a JSON request",
		Long: `Reads a request of the form {"appliances": [...], "constraints": {...}}
from a file (or stdin with -f -) and prints the schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(file)
			if err != nil {
				return err
			}

			var req wire.OptimizeRequest
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil {
				return fmt.Errorf("%w: malformed JSON: %v", engine.ErrInvalidInput, err)
			}

			ctx := cmd.Context()
			var fallback engine.Tariff
			if !req.Constraints.HasTariff() {
				if fallback, err = defaultTariff(ctx); err != nil {
					return err
				}
			}
			apps, c, err := req.ToEngine(fallback)
			if err != nil {
				return err
			}

			sched, err := solve(ctx, apps, c)
			if err != nil {
				return err
			}
			if save {
				if err := saveRun(sched, store.SourceRequest); err != nil {
					return err
				}
			}
			return emit(sched, asJSON)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "request file, - for stdin (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&save, "save", false, "record the run in the history")
	cmd.MarkFlagRequired("file")

	return cmd
}

func planCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Schedule the stored enabled appliances under the stored preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			stored, err := st.ListAppliances(true)
			if err != nil {
				return fmt.Errorf("getting appliances: %w", err)
			}
			if len(stored) == 0 {
				return fmt.Errorf("no enabled appliances (use 'smart-sched appliance add')")
			}
			prefs, err := st.GetPreferences()
			if err != nil {
				return err
			}
			tariff, err := defaultTariff(cmd.Context())
			if err != nil {
				return err
			}

			apps := make([]engine.Appliance, 0, len(stored))
			for _, a := range stored {
				apps = append(apps, a.Engine())
			}
			sched, err := solve(cmd.Context(), apps, prefs.Constraints(tariff))
			if err != nil {
				return err
			}
			if _, err := st.SaveRun(sched, store.SourceStored); err != nil {
				return fmt.Errorf("recording run: %w", err)
			}
			return emit(sched, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent optimization runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Header("ID", "When", "Source", "Strategy", "Feasible", "Cost", "Baseline", "Saved", "Peak kW")
			for _, r := range runs {
				table.Append([]string{
					r.ID[:8],
					r.CreatedAt.Format("2006-01-02 15:04"),
					r.Source,
					r.Strategy,
					fmt.Sprint(r.Feasible),
					money(r.TotalCost),
					money(r.BaselineCost),
					fmt.Sprintf("%.1f%%", r.SavingsPercent),
					fmt.Sprintf("%.2f", r.PeakKW),
				})
			}
			if err := table.Render(); err != nil {
				return err
			}

			an, err := st.Analytics(7)
			if err != nil {
				return err
			}
			if len(an.Costs) > 0 {
				fmt.Printf("\nLast %d feasible runs: mean cost %s (min %s, max %s), saved %s in total\n",
					len(an.Costs), money(an.MeanCost), money(an.MinCost), money(an.MaxCost), money(an.TotalSavings))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "number of runs to show")
	return cmd
}

func fetchCmd() *cobra.Command {
	var region, date string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch Octopus Agile prices for a day and cache them",
		RunE: func(cmd *cobra.Command, args []string) error {
			day := time.Now().UTC()
			if date != "today" {
				parsed, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid date format (use YYYY-MM-DD): %w", err)
				}
				day = parsed
			}
			if region == "" {
				region = cfg.Region
			}

			slots, err := prices.NewOctopusClient(region).HalfHourly(cmd.Context(), day, region)
			if err != nil {
				return err
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.CachePrices(region, day, slots); err != nil {
				log.Warn().Err(err).Msg("caching prices")
			}

			if asJSON {
				return printJSON(os.Stdout, slots)
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Start", "End", "p/kWh")
			for _, s := range slots {
				table.Append([]string{s.Start.Format("15:04"), s.End.Format("15:04"), fmt.Sprintf("%.2f", s.PencePerKWh)})
			}
			return table.Render()
		},
	}

	cmd.Flags().StringVarP(&region, "region", "r", "", "Octopus region (A-P), defaults to the configured region")
	cmd.Flags().StringVarP(&date, "date", "d", "today", "Date to fetch (YYYY-MM-DD or 'today')")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the prices as JSON")
	return cmd
}

func readInput(file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(os.Stdin)
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}
	return raw, nil
}

// defaultTariff prefers cached Octopus prices over a network fetch
func defaultTariff(ctx context.Context) (engine.Tariff, error) {
	var src config.DayTariffSource = prices.NewOctopusClient(cfg.Region)
	if cfg.Tariff.Kind == config.TariffOctopus {
		if st, err := openStore(); err == nil {
			defer st.Close()
			src = prices.Cached{Cache: st, Source: prices.NewOctopusClient(cfg.Region), Log: log}
		}
	}
	return cfg.DefaultTariff(ctx, src, time.Now().UTC())
}

func solve(ctx context.Context, apps []engine.Appliance, c engine.Constraints) (*engine.Schedule, error) {
	ctx, cancel := cfg.SolveContext(ctx)
	defer cancel()
	return newOptimizer().Optimize(ctx, apps, c)
}

func saveRun(sched *engine.Schedule, source string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	if _, err := st.SaveRun(sched, source); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}
