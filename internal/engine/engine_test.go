package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appliance(id string, powerW float64, duration, earliest, deadline int) Appliance {
	return Appliance{
		ID:          id,
		Name:        id,
		PowerW:      powerW,
		DurationMin: duration,
		EarliestMin: earliest,
		DeadlineMin: deadline,
	}
}

func optimize(t *testing.T, apps []Appliance, c Constraints) *Schedule {
	t.Helper()
	sched, err := New(DefaultConfig()).Optimize(context.Background(), apps, c)
	require.NoError(t, err)
	require.NotNil(t, sched)
	return sched
}

// requireHardConstraints checks a feasible schedule minute by minute
func requireHardConstraints(t *testing.T, apps []Appliance, c Constraints, sched *Schedule) {
	t.Helper()
	require.True(t, sched.Feasible)
	require.Len(t, sched.Entries, len(apps))

	byID := make(map[string]Appliance, len(apps))
	for _, a := range apps {
		byID[a.ID] = a
	}

	horizon := c.HorizonMin
	if horizon == 0 {
		horizon = DefaultHorizonMin
	}
	power := make([]float64, horizon)
	running := make([]int, horizon)
	for _, e := range sched.Entries {
		a, ok := byID[e.ApplianceID]
		require.True(t, ok, "unknown appliance %s", e.ApplianceID)
		assert.GreaterOrEqual(t, e.StartMin, a.EarliestMin, "%s starts too early", a.ID)
		assert.LessOrEqual(t, e.StartMin+a.DurationMin, a.DeadlineMin, "%s misses its deadline", a.ID)
		assert.Equal(t, e.StartMin+a.DurationMin, e.EndMin)
		for m := e.StartMin; m < e.EndMin; m++ {
			power[m] += a.PowerW
			running[m]++
			if !c.NightUsageAllowed {
				hour := m / 60
				assert.False(t, hour >= 22 || hour < 6, "%s runs at night (minute %d)", a.ID, m)
			}
		}
	}
	for m := range power {
		require.LessOrEqual(t, power[m], c.MaxPowerW, "power ceiling exceeded at minute %d", m)
		if c.MaxConcurrent > 0 {
			require.LessOrEqual(t, running[m], c.MaxConcurrent, "concurrency exceeded at minute %d", m)
		}
	}
	for i := 1; i < len(sched.Entries); i++ {
		assert.LessOrEqual(t, sched.Entries[i-1].StartMin, sched.Entries[i].StartMin, "entries not sorted by start")
	}
}

func TestOptimizeSingleApplianceFlatRate(t *testing.T) {
	apps := []Appliance{appliance("kettle", 1000, 60, 0, 1440)}
	c := Constraints{MaxPowerW: 5000, Tariff: Flat(6.0), NightUsageAllowed: true, MaxDelayMin: 60}

	sched := optimize(t, apps, c)

	requireHardConstraints(t, apps, c, sched)
	assert.Equal(t, StrategyExact, sched.Strategy)
	assert.True(t, sched.Exhaustive)
	assert.Equal(t, 0, sched.Entries[0].StartMin)
	assert.InDelta(t, 6.0, sched.Entries[0].Cost, 1e-9)
	assert.InDelta(t, 6.0, sched.TotalCost, 1e-9)
	assert.InDelta(t, 1.0, sched.PeakKW, 1e-9)
	assert.Equal(t, 15, sched.GranularityMin)
}

func TestOptimizeStaggersHeavyLoads(t *testing.T) {
	apps := []Appliance{
		appliance("oven", 3000, 60, 0, 1440),
		appliance("dryer", 3000, 60, 0, 1440),
	}
	c := Constraints{MaxPowerW: 5000, Tariff: DefaultTimeOfUse(), NightUsageAllowed: true, MaxDelayMin: 60, CostSavingPriority: 0.6}

	sched := optimize(t, apps, c)

	requireHardConstraints(t, apps, c, sched)
	assert.Equal(t, StrategyExact, sched.Strategy)
	a, b := sched.Entries[0], sched.Entries[1]
	assert.False(t, a.StartMin < b.EndMin && b.StartMin < a.EndMin, "runs overlap: %+v %+v", a, b)
	assert.InDelta(t, 3.0, sched.PeakKW, 1e-9)
}

func TestOptimizeEmptyDomainIsInfeasible(t *testing.T) {
	apps := []Appliance{appliance("dishwasher", 1200, 60, 0, 30)}
	c := Constraints{MaxPowerW: 5000, NightUsageAllowed: true}

	sched := optimize(t, apps, c)

	assert.False(t, sched.Feasible)
	assert.Equal(t, StrategyNone, sched.Strategy)
	assert.Zero(t, sched.NodesExplored, "no search should run")
	assert.Empty(t, sched.Entries)
	assert.Contains(t, sched.InfeasibleReason, "dishwasher")
}

func TestOptimizeNightBanInfeasible(t *testing.T) {
	apps := []Appliance{appliance("ev", 2000, 60, 22*60, 1440)}
	c := Constraints{MaxPowerW: 5000, NightUsageAllowed: false}

	sched := optimize(t, apps, c)

	assert.False(t, sched.Feasible)
	assert.Equal(t, StrategyNone, sched.Strategy)
	assert.Empty(t, sched.Entries)
}

func TestOptimizeLargeInstanceUsesGreedy(t *testing.T) {
	apps := make([]Appliance, 10)
	for i := range apps {
		apps[i] = appliance(fmt.Sprintf("load-%d", i), 500, 60, 0, 1440)
		if i%3 == 0 {
			apps[i].Priority = PriorityHigh
		}
	}
	c := Constraints{MaxPowerW: 2000, MaxConcurrent: 3, Tariff: DefaultTimeOfUse(), NightUsageAllowed: false, MaxDelayMin: 60}

	sched := optimize(t, apps, c)

	requireHardConstraints(t, apps, c, sched)
	assert.Equal(t, StrategyGreedy, sched.Strategy)
	assert.Equal(t, 60, sched.GranularityMin)
	assert.Zero(t, sched.NodesExplored)
}

func TestOptimizeRespectsConcurrencyCap(t *testing.T) {
	apps := []Appliance{
		appliance("a", 100, 60, 0, 180),
		appliance("b", 100, 60, 0, 180),
		appliance("c", 100, 60, 0, 180),
	}
	c := Constraints{MaxPowerW: 10000, MaxConcurrent: 1, Tariff: Flat(5), NightUsageAllowed: true, MaxDelayMin: 60}

	sched := optimize(t, apps, c)

	requireHardConstraints(t, apps, c, sched)
	starts := []int{sched.Entries[0].StartMin, sched.Entries[1].StartMin, sched.Entries[2].StartMin}
	assert.Equal(t, []int{0, 60, 120}, starts)
}

func TestOptimizeBudgetCap(t *testing.T) {
	apps := []Appliance{appliance("heater", 2000, 60, 0, 1440)}

	tests := []struct {
		name     string
		maxCost  float64
		feasible bool
	}{
		{name: "budget above cheapest run", maxCost: 20.0, feasible: true},
		{name: "budget equals cheapest run", maxCost: 7.0, feasible: true},
		{name: "budget below cheapest run", maxCost: 6.9, feasible: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Constraints{MaxPowerW: 5000, MaxCost: ptrFloat(tt.maxCost), Tariff: DefaultTimeOfUse(), NightUsageAllowed: true, MaxDelayMin: 60}
			sched := optimize(t, apps, c)
			assert.Equal(t, tt.feasible, sched.Feasible)
			if tt.feasible {
				assert.LessOrEqual(t, sched.TotalCost, tt.maxCost+1e-9)
			}
		})
	}
}

func TestOptimizeIsDeterministic(t *testing.T) {
	apps := []Appliance{
		appliance("washer", 2000, 90, 0, 720),
		appliance("dishwasher", 1500, 60, 360, 1200),
		appliance("ev", 3000, 120, 0, 1440),
	}
	c := Constraints{MaxPowerW: 4200, Tariff: DefaultTimeOfUse(), NightUsageAllowed: true, MaxDelayMin: 120, CostSavingPriority: 0.6}

	first := optimize(t, apps, c)
	second := optimize(t, apps, c)

	requireHardConstraints(t, apps, c, first)
	assert.Equal(t, first.Objective, second.Objective)
	assert.Equal(t, first.Entries, second.Entries)
	assert.Equal(t, first.NodesExplored, second.NodesExplored)
}

func TestOptimizeRaisingPowerCeilingNeverWorsensObjective(t *testing.T) {
	apps := []Appliance{
		appliance("washer", 2000, 120, 0, 600),
		appliance("dryer", 2500, 90, 0, 600),
		appliance("ev", 3000, 120, 0, 600),
	}

	prev := 0.0
	for i, ceiling := range []float64{3000, 4500, 5500, 8000} {
		c := Constraints{MaxPowerW: ceiling, Tariff: DefaultTimeOfUse(), NightUsageAllowed: true, MaxDelayMin: 60, CostSavingPriority: 0.6}
		sched := optimize(t, apps, c)
		requireHardConstraints(t, apps, c, sched)
		require.Equal(t, StrategyExact, sched.Strategy)
		if i > 0 {
			assert.LessOrEqual(t, sched.Objective, prev+1e-9, "ceiling %g worsened the objective", ceiling)
		}
		prev = sched.Objective
	}
}

func TestOptimizeFindsOptimumOfSmallInstance(t *testing.T) {
	apps := []Appliance{
		appliance("a", 1000, 60, 0, 240),
		appliance("b", 2000, 60, 0, 240),
	}
	c := Constraints{
		MaxPowerW:          2500,
		GranularityMin:     60,
		Tariff:             SlotTariff{SlotMin: 60, Rates: []float64{10, 1, 5, 2}},
		NightUsageAllowed:  true,
		MaxDelayMin:        60,
		CostSavingPriority: 1,
	}

	sched := optimize(t, apps, c)

	// brute force the same objective over all start pairs
	eval := newEvaluator(DefaultWeights(), Constraints{HorizonMin: 1440, MaxDelayMin: 60, CostSavingPriority: 1}, apps)
	best := 1e18
	for sa := 0; sa <= 180; sa += 60 {
		for sb := 0; sb <= 180; sb += 60 {
			if sa == sb {
				continue
			}
			cost := EnergyCost(c.Tariff, 1000, sa, 60) + EnergyCost(c.Tariff, 2000, sb, 60)
			obj := eval.value(cost, 2000, eval.delay(apps[0], sa)+eval.delay(apps[1], sb))
			best = min(best, obj)
		}
	}
	assert.InDelta(t, best, sched.Objective, 1e-9)
	assert.True(t, sched.Exhaustive)
}

func TestOptimizeNegativePricesKeepOptimum(t *testing.T) {
	// a@0 pays 1 and leaves 02:00 free for b at -15; a@60 grabs the -10
	// hour but pushes b out of it
	apps := []Appliance{
		appliance("a", 1000, 120, 0, 180),
		appliance("b", 1500, 60, 60, 240),
	}
	c := Constraints{
		MaxPowerW:         2000,
		Tariff:            SlotTariff{SlotMin: 60, Rates: []float64{1, 0, -10, 0}},
		NightUsageAllowed: true,
		MaxDelayMin:       60,
	}
	cfg := DefaultConfig()
	cfg.Weights = Weights{PeakMetric: PeakKW}

	sched, err := New(cfg).Optimize(context.Background(), apps, c)

	require.NoError(t, err)
	requireHardConstraints(t, apps, c, sched)
	assert.Equal(t, StrategyExact, sched.Strategy)
	assert.True(t, sched.Exhaustive)
	assert.InDelta(t, -14.0, sched.TotalCost, 1e-9)
	assert.InDelta(t, -14.0, sched.Objective, 1e-9)
	require.Len(t, sched.Entries, 2)
	assert.Equal(t, 0, sched.Entries[0].StartMin)
	assert.Equal(t, 120, sched.Entries[1].StartMin)
}

func TestOptimizeNoAppliances(t *testing.T) {
	sched := optimize(t, nil, Constraints{MaxPowerW: 1000})

	assert.True(t, sched.Feasible)
	assert.Equal(t, StrategyExact, sched.Strategy)
	assert.Empty(t, sched.Entries)
	assert.Zero(t, sched.TotalCost)
}

func TestOptimizeReportsBaselineSavings(t *testing.T) {
	// earliest start lands in the evening peak, cheaper hours follow
	apps := []Appliance{appliance("ev", 3000, 120, 18*60, 1440)}
	c := Constraints{MaxPowerW: 5000, Tariff: DefaultTimeOfUse(), NightUsageAllowed: true, MaxDelayMin: 240, CostSavingPriority: 1}

	sched := optimize(t, apps, c)

	assert.InDelta(t, 3*2*8.5, sched.BaselineCost, 1e-9)
	assert.InDelta(t, 3.0, sched.BaselinePeakKW, 1e-9)
	assert.Less(t, sched.TotalCost, sched.BaselineCost)
	assert.Greater(t, sched.SavingsPercent, 0.0)
}

func TestOptimizeCancelledSearchKeepsIncumbent(t *testing.T) {
	apps := make([]Appliance, 8)
	for i := range apps {
		apps[i] = appliance(fmt.Sprintf("load-%d", i), 100, 60, 0, 1440)
	}
	c := Constraints{MaxPowerW: 10000, Tariff: Flat(5), NightUsageAllowed: true, MaxDelayMin: 60, CostSavingPriority: 0.5}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sched, err := New(DefaultConfig()).Optimize(ctx, apps, c)

	require.NoError(t, err)
	requireHardConstraints(t, apps, c, sched)
	assert.Equal(t, StrategyExact, sched.Strategy)
	assert.False(t, sched.Exhaustive)
	assert.Equal(t, ctxPollInterval, sched.NodesExplored)
}

func TestOptimizeInvalidInput(t *testing.T) {
	valid := appliance("ok", 1000, 60, 0, 1440)
	negative := -1.0

	tests := []struct {
		name        string
		apps        []Appliance
		constraints Constraints
		problem     string
	}{
		{
			name:        "non-positive power",
			apps:        []Appliance{appliance("p", 0, 60, 0, 1440)},
			constraints: Constraints{MaxPowerW: 1000},
			problem:     "power must be positive",
		},
		{
			name:        "non-positive duration",
			apps:        []Appliance{appliance("d", 1000, 0, 0, 1440)},
			constraints: Constraints{MaxPowerW: 1000},
			problem:     "duration must be positive",
		},
		{
			name:        "deadline before earliest",
			apps:        []Appliance{appliance("e", 1000, 60, 600, 500)},
			constraints: Constraints{MaxPowerW: 1000},
			problem:     "is before earliest start",
		},
		{
			name:        "non-positive ceiling",
			apps:        []Appliance{valid},
			constraints: Constraints{MaxPowerW: 0},
			problem:     "max_power must be positive",
		},
		{
			name:        "duplicate ids",
			apps:        []Appliance{valid, valid},
			constraints: Constraints{MaxPowerW: 1000},
			problem:     "duplicate id",
		},
		{
			name:        "negative budget",
			apps:        []Appliance{valid},
			constraints: Constraints{MaxPowerW: 1000, MaxCost: &negative},
			problem:     "max_cost",
		},
		{
			name:        "priority weight out of range",
			apps:        []Appliance{valid},
			constraints: Constraints{MaxPowerW: 1000, CostSavingPriority: 1.5},
			problem:     "cost_saving_priority",
		},
		{
			name:        "multi-day horizon",
			apps:        []Appliance{valid},
			constraints: Constraints{MaxPowerW: 1000, HorizonMin: 2880},
			problem:     "horizon",
		},
		{
			name:        "empty window",
			apps:        []Appliance{valid},
			constraints: Constraints{MaxPowerW: 1000, Window: &TimeWindow{StartMin: 600, EndMin: 600}},
			problem:     "time window",
		},
		{
			name:        "empty night window",
			apps:        []Appliance{valid},
			constraints: Constraints{MaxPowerW: 1000, NightWindow: &TimeWindow{StartMin: 120, EndMin: 120}},
			problem:     "night window",
		},
		{
			name:        "zero-length tariff slots",
			apps:        []Appliance{valid},
			constraints: Constraints{MaxPowerW: 1000, Tariff: SlotTariff{SlotMin: 0, Rates: []float64{1}}},
			problem:     "slot tariff",
		},
		{
			name:        "slot tariff without rates",
			apps:        []Appliance{valid},
			constraints: Constraints{MaxPowerW: 1000, Tariff: SlotTariff{SlotMin: 30}},
			problem:     "slot tariff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := New(DefaultConfig()).Optimize(context.Background(), tt.apps, tt.constraints)
			require.Error(t, err)
			assert.Nil(t, sched)
			assert.True(t, errors.Is(err, ErrInvalidInput))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Error(), tt.problem)
		})
	}
}

func TestOptimizeDoesNotModifyInput(t *testing.T) {
	apps := []Appliance{{Name: "lamp", PowerW: 60, DurationMin: 60, DeadlineMin: 1440}}
	c := Constraints{MaxPowerW: 1000, NightUsageAllowed: true}

	sched := optimize(t, apps, c)

	assert.Equal(t, "lamp", sched.Entries[0].ApplianceID)
	assert.Empty(t, apps[0].ID)
	assert.Equal(t, Priority(0), apps[0].Priority)
}

type fakeRecorder struct {
	runs []Strategy
}

func (f *fakeRecorder) RecordRun(s Strategy, _ bool, _ int, _ time.Duration) {
	f.runs = append(f.runs, s)
}

func TestOptimizeReportsToRecorder(t *testing.T) {
	rec := &fakeRecorder{}
	opt := New(DefaultConfig(), WithRecorder(rec))

	_, err := opt.Optimize(context.Background(), []Appliance{appliance("a", 100, 60, 0, 1440)}, Constraints{MaxPowerW: 1000, NightUsageAllowed: true})
	require.NoError(t, err)
	_, err = opt.Optimize(context.Background(), []Appliance{appliance("b", 100, 60, 0, 30)}, Constraints{MaxPowerW: 1000})
	require.NoError(t, err)

	assert.Equal(t, []Strategy{StrategyExact, StrategyNone}, rec.runs)
}

func ptrFloat(f float64) *float64 {
	return &f
}
