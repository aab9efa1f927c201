// Package wire defines the JSON request and response bodies of the
// optimize operation and converts them to and from engine types.
// All times are minutes from the start of the horizon.
package wire

import (
	"fmt"

	"github.com/awaistahir/smart-sched/internal/engine"
)

// Defaults applied to omitted constraint fields
const (
	DefaultMaxDelayMin        = 60
	DefaultCostSavingPriority = 0.6
	DefaultNightUsageAllowed  = true
)

type ApplianceIn struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Power    float64 `json:"power"`
	Duration int     `json:"duration"`
	Earliest int     `json:"earliest"`
	Deadline *int    `json:"deadline,omitempty"`
	Priority string  `json:"priority,omitempty"`
}

type BandIn struct {
	FromHour int     `json:"from_hour"`
	ToHour   int     `json:"to_hour"`
	Rate     float64 `json:"rate"`
}

type ConstraintsIn struct {
	MaxPower           float64  `json:"max_power"`
	MaxCost            *float64 `json:"max_cost,omitempty"`
	ElectricityRate    *float64 `json:"electricity_rate,omitempty"`
	TariffBands        []BandIn `json:"tariff_bands,omitempty"`
	DefaultRate        *float64 `json:"default_rate,omitempty"`
	TimeWindowStart    *int     `json:"time_window_start,omitempty"`
	TimeWindowEnd      *int     `json:"time_window_end,omitempty"`
	MaxConcurrent      int      `json:"max_concurrent,omitempty"`
	NightUsageAllowed  *bool    `json:"night_usage_allowed,omitempty"`
	MaxDelayMin        *int     `json:"max_delay_min,omitempty"`
	CostSavingPriority *float64 `json:"cost_saving_priority,omitempty"`
	HorizonMin         int      `json:"horizon_min,omitempty"`
	GranularityMin     int      `json:"granularity_min,omitempty"`
}

type OptimizeRequest struct {
	Appliances  []ApplianceIn `json:"appliances"`
	Constraints ConstraintsIn `json:"constraints"`
}

// ToEngine converts the request. fallback is the tariff used when the
// request names neither bands nor a flat rate; nil leaves the engine default.
// Problems the engine cannot see after conversion, such as an unknown
// priority name, are reported as an engine.ValidationError.
func (r OptimizeRequest) ToEngine(fallback engine.Tariff) ([]engine.Appliance, engine.Constraints, error) {
	var problems []string
	in := r.Constraints

	horizon := in.HorizonMin
	if horizon == 0 {
		horizon = engine.DefaultHorizonMin
	}

	apps := make([]engine.Appliance, 0, len(r.Appliances))
	for _, a := range r.Appliances {
		deadline := horizon
		if a.Deadline != nil {
			deadline = *a.Deadline
		}
		prio, ok := parsePriority(a.Priority)
		if !ok {
			problems = append(problems, fmt.Sprintf("appliance %q: unknown priority %q", a.ID, a.Priority))
		}
		apps = append(apps, engine.Appliance{
			ID:          a.ID,
			Name:        a.Name,
			PowerW:      a.Power,
			DurationMin: a.Duration,
			EarliestMin: a.Earliest,
			DeadlineMin: deadline,
			Priority:    prio,
		})
	}

	c := engine.Constraints{
		HorizonMin:         horizon,
		GranularityMin:     in.GranularityMin,
		MaxPowerW:          in.MaxPower,
		MaxConcurrent:      in.MaxConcurrent,
		MaxCost:            in.MaxCost,
		NightUsageAllowed:  DefaultNightUsageAllowed,
		MaxDelayMin:        DefaultMaxDelayMin,
		CostSavingPriority: DefaultCostSavingPriority,
		Tariff:             fallback,
	}
	if in.NightUsageAllowed != nil {
		c.NightUsageAllowed = *in.NightUsageAllowed
	}
	if in.MaxDelayMin != nil {
		c.MaxDelayMin = *in.MaxDelayMin
	}
	if in.CostSavingPriority != nil {
		c.CostSavingPriority = *in.CostSavingPriority
	}
	if in.TimeWindowStart != nil || in.TimeWindowEnd != nil {
		w := engine.TimeWindow{StartMin: 0, EndMin: horizon}
		if in.TimeWindowStart != nil {
			w.StartMin = *in.TimeWindowStart
		}
		if in.TimeWindowEnd != nil {
			w.EndMin = *in.TimeWindowEnd
		}
		c.Window = &w
	}

	switch {
	case len(in.TariffBands) > 0:
		tou := engine.TimeOfUse{Default: engine.DefaultTimeOfUse().Default}
		if in.DefaultRate != nil {
			tou.Default = *in.DefaultRate
		}
		for _, b := range in.TariffBands {
			if b.FromHour < 0 || b.ToHour > 24 || b.FromHour >= b.ToHour || b.Rate < 0 {
				problems = append(problems, fmt.Sprintf("tariff band [%d, %d) at %g is invalid", b.FromHour, b.ToHour, b.Rate))
			}
			tou.Bands = append(tou.Bands, engine.Band{FromHour: b.FromHour, ToHour: b.ToHour, Rate: b.Rate})
		}
		c.Tariff = tou
	case in.ElectricityRate != nil:
		if *in.ElectricityRate < 0 {
			problems = append(problems, fmt.Sprintf("electricity_rate must not be negative, got %g", *in.ElectricityRate))
		}
		c.Tariff = engine.Flat(*in.ElectricityRate)
	}

	if len(problems) > 0 {
		return nil, engine.Constraints{}, &engine.ValidationError{Problems: problems}
	}
	return apps, c, nil
}

func parsePriority(s string) (engine.Priority, bool) {
	switch s {
	case "", "medium":
		return engine.PriorityMedium, true
	case "low", "high":
		return engine.ParsePriority(s), true
	default:
		return engine.PriorityMedium, false
	}
}

type ScheduleEntryOut struct {
	ApplianceID   string  `json:"appliance_id"`
	ApplianceName string  `json:"appliance_name"`
	StartMin      int     `json:"start_min"`
	EndMin        int     `json:"end_min"`
	PowerW        float64 `json:"power_w"`
	Cost          float64 `json:"cost"`
}

type OptimizeResponse struct {
	Feasible         bool               `json:"feasible"`
	Strategy         string             `json:"strategy"`
	Exhaustive       bool               `json:"exhaustive"`
	Schedule         []ScheduleEntryOut `json:"schedule"`
	TotalCost        float64            `json:"total_cost"`
	TotalPowerW      float64            `json:"total_power_w"`
	PeakPowerW       float64            `json:"peak_power_w"`
	PeakKW           float64            `json:"peak_kw"`
	PAR              float64            `json:"par"`
	Objective        float64            `json:"objective"`
	GranularityMin   int                `json:"granularity_min"`
	BaselineCost     float64            `json:"baseline_cost"`
	BaselinePeakKW   float64            `json:"baseline_peak_kw"`
	SavingsPercent   float64            `json:"savings_percent"`
	NodesExplored    int                `json:"nodes_explored"`
	RuntimeMS        float64            `json:"runtime_ms"`
	InfeasibleReason string             `json:"infeasible_reason,omitempty"`
}

// FromSchedule renders a schedule. The schedule list is never null.
func FromSchedule(s *engine.Schedule) OptimizeResponse {
	out := OptimizeResponse{
		Feasible:         s.Feasible,
		Strategy:         string(s.Strategy),
		Exhaustive:       s.Exhaustive,
		Schedule:         make([]ScheduleEntryOut, 0, len(s.Entries)),
		TotalCost:        s.TotalCost,
		TotalPowerW:      s.TotalPowerW,
		PeakPowerW:       s.PeakPowerW,
		PeakKW:           s.PeakKW,
		PAR:              s.PAR,
		Objective:        s.Objective,
		GranularityMin:   s.GranularityMin,
		BaselineCost:     s.BaselineCost,
		BaselinePeakKW:   s.BaselinePeakKW,
		SavingsPercent:   s.SavingsPercent,
		NodesExplored:    s.NodesExplored,
		RuntimeMS:        float64(s.Runtime.Microseconds()) / 1000,
		InfeasibleReason: s.InfeasibleReason,
	}
	for _, e := range s.Entries {
		out.Schedule = append(out.Schedule, ScheduleEntryOut{
			ApplianceID:   e.ApplianceID,
			ApplianceName: e.ApplianceName,
			StartMin:      e.StartMin,
			EndMin:        e.EndMin,
			PowerW:        e.PowerW,
			Cost:          e.Cost,
		})
	}
	return out
}

// HasTariff reports whether the request carries its own tariff
func (c ConstraintsIn) HasTariff() bool {
	return len(c.TariffBands) > 0 || c.ElectricityRate != nil
}
