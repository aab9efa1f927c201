package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/awaistahir/smart-sched/internal/config"
	"github.com/awaistahir/smart-sched/internal/engine"
	"github.com/awaistahir/smart-sched/internal/logging"
	"github.com/awaistahir/smart-sched/internal/store"
)

var (
	cfgFile string
	cfg     *config.Config
	log     zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "smart-sched",
		Short: "SmartSched - schedule household appliances for cost and peak load",
		Long: `SmartSched assigns start times to household appliances so that the
electricity bill and the household peak load stay low while every power,
concurrency, deadline, night and budget constraint holds.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(viper.GetViper(), cfgFile)
			if err != nil {
				return err
			}
			log = logging.New("cli", cfg.LogLevel)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.smartsched/config.yaml)")
	rootCmd.PersistentFlags().String("db", "", "database path (default is $HOME/.smartsched/smartsched.db)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	viper.BindPFlag("db_path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(applianceCmd())
	rootCmd.AddCommand(prefsCmd())
	rootCmd.AddCommand(optimizeCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(fetchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return st, nil
}

func newOptimizer() *engine.Optimizer {
	return engine.New(cfg.EngineConfig(), engine.WithLogger(log))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database with default preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			prefs, err := st.GetPreferences()
			if err != nil {
				return err
			}
			if err := st.SavePreferences(&prefs); err != nil {
				return err
			}

			fmt.Println("✓ Initialized preferences")
			fmt.Printf("Database: %s\n", cfg.DBPath)
			fmt.Println("\nNext steps:")
			fmt.Println("  1. Add appliances: smart-sched appliance add")
			fmt.Println("  2. Generate plan: smart-sched plan")
			return nil
		},
	}
}
