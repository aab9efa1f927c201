package engine

import "time"

// Priority is the ordinal importance of an appliance
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

// ParsePriority maps "low", "medium" and "high" to a Priority.
// Empty and unknown values default to medium.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "medium"
	}
}

// Appliance represents a household appliance to be scheduled.
// All times are minutes from the horizon start.
type Appliance struct {
	ID          string
	Name        string
	PowerW      float64
	DurationMin int
	EarliestMin int
	DeadlineMin int // latest allowed end
	Priority    Priority
}

// TimeWindow is a [StartMin, EndMin) range of minutes. For the night window
// StartMin > EndMin means the range wraps past midnight.
type TimeWindow struct {
	StartMin int
	EndMin   int
}

// DefaultNightWindow is 22:00-06:00
var DefaultNightWindow = TimeWindow{StartMin: 22 * 60, EndMin: 6 * 60}

// PeakMetric selects how the peak term of the objective is measured
type PeakMetric string

const (
	PeakKW  PeakMetric = "peak_kw"
	PeakPAR PeakMetric = "par"
)

// Constraints holds the global scheduling constraints for one call
type Constraints struct {
	HorizonMin     int // defaults to 1440
	GranularityMin int // 0 selects adaptively from the appliance count
	MaxPowerW      float64
	MaxConcurrent  int      // 0 = unlimited
	MaxCost        *float64 // nil = no budget cap
	Window         *TimeWindow

	NightUsageAllowed bool
	NightWindow       *TimeWindow // nil = DefaultNightWindow

	MaxDelayMin        int
	CostSavingPriority float64 // 0..1

	Tariff Tariff // nil = DefaultTimeOfUse
}

// Strategy names the algorithm that produced a schedule
type Strategy string

const (
	StrategyExact  Strategy = "exact"
	StrategyGreedy Strategy = "greedy"
	StrategyNone   Strategy = "none"
)

// ScheduleEntry is one placed appliance
type ScheduleEntry struct {
	ApplianceID   string
	ApplianceName string
	StartMin      int
	EndMin        int
	PowerW        float64
	Cost          float64
}

// Schedule is the result of one optimization call. It is never mutated
// after Optimize returns it.
type Schedule struct {
	Feasible         bool
	Strategy         Strategy
	Exhaustive       bool // exact search ran to completion
	InfeasibleReason string

	Entries        []ScheduleEntry
	TotalCost      float64
	TotalPowerW    float64
	PeakPowerW     float64
	PeakKW         float64
	PAR            float64
	Objective      float64
	GranularityMin int

	BaselineCost   float64
	BaselinePeakKW float64
	SavingsPercent float64

	NodesExplored int
	Runtime       time.Duration
}
