package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahir/smart-sched/internal/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "region: A\n")

	cfg, err := Load(viper.New(), path)

	require.NoError(t, err)
	assert.Equal(t, "A", cfg.Region)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, 10*time.Second, cfg.Solver.Timeout)
	assert.Equal(t, TariffTOU, cfg.Tariff.Kind)
	assert.Equal(t, engine.DefaultConfig(), cfg.EngineConfig())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
solver:
  greedy_threshold: 5
  peak_metric: par
  timeout: 250ms
tariff:
  kind: flat
  flat_rate: 4.2
`)
	t.Setenv("SMARTSCHED_SOLVER_PEAK_SCALE", "2.5")

	cfg, err := Load(viper.New(), path)

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.Solver.Timeout)

	ec := cfg.EngineConfig()
	assert.Equal(t, 5, ec.GreedyThreshold)
	assert.Equal(t, engine.PeakPAR, ec.Weights.PeakMetric)
	assert.Equal(t, 2.5, ec.Weights.PeakScale)

	tariff, err := cfg.DefaultTariff(context.Background(), nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, engine.Flat(4.2), tariff)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "peak metric", body: "solver:\n  peak_metric: avg\n", want: "peak_metric"},
		{name: "tariff kind", body: "tariff:\n  kind: dynamic\n", want: "tariff.kind"},
		{name: "granularity", body: "solver:\n  medium_granularity_min: 0\n", want: "granularities"},
		{name: "thresholds", body: "solver:\n  fine_max_appliances: 9\n", want: "fine_max_appliances"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(viper.New(), writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

type stubSource struct {
	tariff engine.SlotTariff
	err    error
	region string
}

func (s *stubSource) DayTariff(_ context.Context, _ time.Time, region string) (engine.SlotTariff, error) {
	s.region = region
	return s.tariff, s.err
}

func TestDefaultTariff(t *testing.T) {
	cfg := &Config{Region: "B", Tariff: TariffConfig{Kind: TariffTOU}}
	tariff, err := cfg.DefaultTariff(context.Background(), nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultTimeOfUse(), tariff)

	cfg.Tariff.Kind = TariffOctopus
	src := &stubSource{tariff: engine.SlotTariff{SlotMin: 30, Rates: []float64{0.1}}}
	tariff, err = cfg.DefaultTariff(context.Background(), src, time.Now())
	require.NoError(t, err)
	assert.Equal(t, src.tariff, tariff)
	assert.Equal(t, "B", src.region)

	src.err = errors.New("boom")
	_, err = cfg.DefaultTariff(context.Background(), src, time.Now())
	assert.ErrorIs(t, err, src.err)

	_, err = cfg.DefaultTariff(context.Background(), nil, time.Now())
	assert.Error(t, err)
}

func TestSolveContext(t *testing.T) {
	cfg := &Config{Solver: SolverConfig{Timeout: time.Minute}}
	ctx, cancel := cfg.SolveContext(context.Background())
	defer cancel()
	_, ok := ctx.Deadline()
	assert.True(t, ok)

	cfg.Solver.Timeout = 0
	ctx, cancel = cfg.SolveContext(context.Background())
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok)
}
