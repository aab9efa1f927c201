package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/awaistahir/smart-sched/internal/config"
	"github.com/awaistahir/smart-sched/internal/engine"
	"github.com/awaistahir/smart-sched/internal/logging"
	"github.com/awaistahir/smart-sched/internal/metrics"
	"github.com/awaistahir/smart-sched/internal/prices"
	"github.com/awaistahir/smart-sched/internal/store"
	"github.com/awaistahir/smart-sched/internal/uiapi"
)

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:          "smart-schedd",
		Short:        "SmartSched HTTP API server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetViper(), cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.smartsched/config.yaml)")
	rootCmd.Flags().String("listen", "", "listen address (default :8080)")
	rootCmd.Flags().String("db", "", "database path")
	rootCmd.Flags().String("log-level", "", "log level (debug, info, warn, error)")
	viper.BindPFlag("listen", rootCmd.Flags().Lookup("listen"))
	viper.BindPFlag("db_path", rootCmd.Flags().Lookup("db"))
	viper.BindPFlag("log_level", rootCmd.Flags().Lookup("log-level"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New("smart-schedd", cfg.LogLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink, err := metrics.NewPromSink(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	optimizer := engine.New(cfg.EngineConfig(),
		engine.WithLogger(logging.New("engine", cfg.LogLevel)),
		engine.WithRecorder(sink),
	)
	srv := uiapi.NewServer(st, optimizer, cfg,
		uiapi.WithLogger(log),
		uiapi.WithPriceSource(prices.NewOctopusClient(cfg.Region)),
		uiapi.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("listen", cfg.Listen).
			Str("db", cfg.DBPath).
			Str("region", cfg.Region).
			Str("tariff", cfg.Tariff.Kind).
			Msg("SmartSched server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
