package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/awaistahir/smart-sched/internal/engine"
)

const envPrefix = "SMARTSCHED"

// Tariff kinds
const (
	TariffTOU     = "tou"
	TariffFlat    = "flat"
	TariffOctopus = "octopus"
)

// Config is the runtime configuration shared by the CLI and the server
type Config struct {
	DBPath   string       `mapstructure:"db_path"`
	Listen   string       `mapstructure:"listen"`
	LogLevel string       `mapstructure:"log_level"`
	Region   string       `mapstructure:"region"`
	Solver   SolverConfig `mapstructure:"solver"`
	Tariff   TariffConfig `mapstructure:"tariff"`
}

type SolverConfig struct {
	GreedyThreshold      int           `mapstructure:"greedy_threshold"`
	FineMaxAppliances    int           `mapstructure:"fine_max_appliances"`
	MediumMaxAppliances  int           `mapstructure:"medium_max_appliances"`
	FineGranularityMin   int           `mapstructure:"fine_granularity_min"`
	MediumGranularityMin int           `mapstructure:"medium_granularity_min"`
	CoarseGranularityMin int           `mapstructure:"coarse_granularity_min"`
	PeakScale            float64       `mapstructure:"peak_scale"`
	ComfortScale         float64       `mapstructure:"comfort_scale"`
	PeakMetric           string        `mapstructure:"peak_metric"`
	Timeout              time.Duration `mapstructure:"timeout"`
}

type TariffConfig struct {
	Kind     string  `mapstructure:"kind"`
	FlatRate float64 `mapstructure:"flat_rate"`
}

// Dir is $HOME/.smartsched, falling back to the working directory
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".smartsched"
	}
	return filepath.Join(home, ".smartsched")
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	def := engine.DefaultConfig()

	v.SetDefault("db_path", filepath.Join(Dir(), "smartsched.db"))
	v.SetDefault("listen", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("region", "C")

	v.SetDefault("solver.greedy_threshold", def.GreedyThreshold)
	v.SetDefault("solver.fine_max_appliances", def.Granularity.FineMaxAppliances)
	v.SetDefault("solver.medium_max_appliances", def.Granularity.MediumMaxAppliances)
	v.SetDefault("solver.fine_granularity_min", def.Granularity.FineMin)
	v.SetDefault("solver.medium_granularity_min", def.Granularity.MediumMin)
	v.SetDefault("solver.coarse_granularity_min", def.Granularity.CoarseMin)
	v.SetDefault("solver.peak_scale", def.Weights.PeakScale)
	v.SetDefault("solver.comfort_scale", def.Weights.ComfortScale)
	v.SetDefault("solver.peak_metric", string(def.Weights.PeakMetric))
	v.SetDefault("solver.timeout", "10s")

	v.SetDefault("tariff.kind", TariffTOU)
	v.SetDefault("tariff.flat_rate", 6.0)
}

// Load reads path (or config.yaml in Dir when path is empty), applies
// SMARTSCHED_* environment overrides and validates the result. A missing
// default config file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(Dir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot work with
func (c *Config) Validate() error {
	s := c.Solver
	var problems []string
	if s.GreedyThreshold < 0 {
		problems = append(problems, "solver.greedy_threshold must not be negative")
	}
	if s.FineGranularityMin <= 0 || s.MediumGranularityMin <= 0 || s.CoarseGranularityMin <= 0 {
		problems = append(problems, "solver granularities must be positive")
	}
	if s.FineMaxAppliances > s.MediumMaxAppliances {
		problems = append(problems, "solver.fine_max_appliances must not exceed solver.medium_max_appliances")
	}
	if s.PeakScale < 0 || s.ComfortScale < 0 {
		problems = append(problems, "solver scales must not be negative")
	}
	switch engine.PeakMetric(s.PeakMetric) {
	case engine.PeakKW, engine.PeakPAR:
	default:
		problems = append(problems, fmt.Sprintf("solver.peak_metric %q is not one of peak_kw, par", s.PeakMetric))
	}
	if s.Timeout < 0 {
		problems = append(problems, "solver.timeout must not be negative")
	}
	switch c.Tariff.Kind {
	case TariffTOU, TariffOctopus:
	case TariffFlat:
		if c.Tariff.FlatRate < 0 {
			problems = append(problems, "tariff.flat_rate must not be negative")
		}
	default:
		problems = append(problems, fmt.Sprintf("tariff.kind %q is not one of tou, flat, octopus", c.Tariff.Kind))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// EngineConfig maps the solver section onto the optimizer's settings
func (c *Config) EngineConfig() engine.Config {
	s := c.Solver
	return engine.Config{
		GreedyThreshold: s.GreedyThreshold,
		Granularity: engine.GranularityPolicy{
			FineMaxAppliances:   s.FineMaxAppliances,
			MediumMaxAppliances: s.MediumMaxAppliances,
			FineMin:             s.FineGranularityMin,
			MediumMin:           s.MediumGranularityMin,
			CoarseMin:           s.CoarseGranularityMin,
		},
		Weights: engine.Weights{
			PeakScale:    s.PeakScale,
			ComfortScale: s.ComfortScale,
			PeakMetric:   engine.PeakMetric(s.PeakMetric),
		},
	}
}

// DayTariffSource fetches a day's half-hourly tariff
type DayTariffSource interface {
	DayTariff(ctx context.Context, day time.Time, region string) (engine.SlotTariff, error)
}

// DefaultTariff resolves the tariff used when a request carries none.
// src is only consulted for the octopus kind.
func (c *Config) DefaultTariff(ctx context.Context, src DayTariffSource, day time.Time) (engine.Tariff, error) {
	switch c.Tariff.Kind {
	case TariffFlat:
		return engine.Flat(c.Tariff.FlatRate), nil
	case TariffOctopus:
		if src == nil {
			return nil, errors.New("octopus tariff configured without a price source")
		}
		t, err := src.DayTariff(ctx, day, c.Region)
		if err != nil {
			return nil, fmt.Errorf("fetching octopus tariff: %w", err)
		}
		return t, nil
	default:
		return engine.DefaultTimeOfUse(), nil
	}
}

// SolveContext bounds ctx by the solver timeout; zero leaves it unbounded
func (c *Config) SolveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Solver.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Solver.Timeout)
}
