package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahir/smart-sched/internal/engine"
)

func decode(t *testing.T, body string) OptimizeRequest {
	t.Helper()
	var req OptimizeRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return req
}

func TestToEngineDefaults(t *testing.T) {
	req := decode(t, `{"appliances":[{"id":"wm","name":"Washer","power":2000,"duration":90,"earliest":30}],
		"constraints":{"max_power":5000,"horizon_min":720}}`)

	apps, c, err := req.ToEngine(engine.Flat(9))

	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, engine.Appliance{
		ID: "wm", Name: "Washer", PowerW: 2000, DurationMin: 90, EarliestMin: 30,
		DeadlineMin: 720, Priority: engine.PriorityMedium,
	}, apps[0])
	assert.Equal(t, 720, c.HorizonMin)
	assert.True(t, c.NightUsageAllowed)
	assert.Equal(t, DefaultMaxDelayMin, c.MaxDelayMin)
	assert.Equal(t, DefaultCostSavingPriority, c.CostSavingPriority)
	assert.Nil(t, c.MaxCost)
	assert.Nil(t, c.Window)
	assert.Equal(t, engine.Flat(9), c.Tariff)
}

func TestToEngineExplicitFields(t *testing.T) {
	req := decode(t, `{"appliances":[{"id":"ev","power":7000,"duration":240,"earliest":0,"deadline":600,"priority":"high"}],
		"constraints":{"max_power":8000,"max_cost":20,"electricity_rate":4,"time_window_start":120,
		"max_concurrent":2,"night_usage_allowed":false,"max_delay_min":0,"cost_saving_priority":1,"granularity_min":30}}`)

	apps, c, err := req.ToEngine(nil)

	require.NoError(t, err)
	assert.Equal(t, 600, apps[0].DeadlineMin)
	assert.Equal(t, engine.PriorityHigh, apps[0].Priority)
	assert.Equal(t, 1440, c.HorizonMin)
	assert.Equal(t, 30, c.GranularityMin)
	assert.Equal(t, 2, c.MaxConcurrent)
	require.NotNil(t, c.MaxCost)
	assert.Equal(t, 20.0, *c.MaxCost)
	assert.False(t, c.NightUsageAllowed)
	assert.Zero(t, c.MaxDelayMin)
	assert.Equal(t, 1.0, c.CostSavingPriority)
	assert.Equal(t, &engine.TimeWindow{StartMin: 120, EndMin: 1440}, c.Window)
	assert.Equal(t, engine.Flat(4), c.Tariff)
}

func TestToEngineBandsWinOverFlatRate(t *testing.T) {
	req := decode(t, `{"appliances":[],"constraints":{"max_power":1,"electricity_rate":4,
		"tariff_bands":[{"from_hour":0,"to_hour":7,"rate":2}],"default_rate":7}}`)

	_, c, err := req.ToEngine(engine.Flat(1))

	require.NoError(t, err)
	assert.Equal(t, engine.TimeOfUse{Bands: []engine.Band{{FromHour: 0, ToHour: 7, Rate: 2}}, Default: 7}, c.Tariff)
}

func TestToEngineRejectsBadFields(t *testing.T) {
	req := decode(t, `{"appliances":[{"id":"x","power":1,"duration":1,"priority":"urgent"}],
		"constraints":{"max_power":1,"tariff_bands":[{"from_hour":5,"to_hour":3,"rate":1}]}}`)

	_, _, err := req.ToEngine(nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrInvalidInput))
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 2)
}

func TestFromSchedule(t *testing.T) {
	infeasible := FromSchedule(&engine.Schedule{Strategy: engine.StrategyNone, InfeasibleReason: "no room"})
	assert.NotNil(t, infeasible.Schedule)
	assert.Empty(t, infeasible.Schedule)

	out := FromSchedule(&engine.Schedule{
		Feasible: true, Strategy: engine.StrategyExact, Exhaustive: true,
		Entries:   []engine.ScheduleEntry{{ApplianceID: "a", ApplianceName: "A", StartMin: 0, EndMin: 60, PowerW: 1000, Cost: 3.5}},
		TotalCost: 3.5, PeakKW: 1, Runtime: 1500 * time.Microsecond,
	})
	raw, err := json.Marshal(out)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "exact", m["strategy"])
	assert.Equal(t, 1.5, m["runtime_ms"])
	assert.NotContains(t, m, "infeasible_reason")
	entry := m["schedule"].([]any)[0].(map[string]any)
	assert.Equal(t, "a", entry["appliance_id"])
	assert.Equal(t, 60.0, entry["end_min"])
}
