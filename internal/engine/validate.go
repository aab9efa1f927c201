package engine

import (
	"fmt"
	"strings"
)

// DefaultHorizonMin is one day
const DefaultHorizonMin = 24 * 60

// ValidationError lists every problem found in a request
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidInput, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// normalize validates the input and returns copies with defaults applied.
// The caller's values are never modified.
func normalize(appliances []Appliance, c Constraints) ([]Appliance, Constraints, error) {
	verr := &ValidationError{}

	if c.HorizonMin == 0 {
		c.HorizonMin = DefaultHorizonMin
	}
	if c.Tariff == nil {
		c.Tariff = DefaultTimeOfUse()
	}

	if c.HorizonMin < 0 || c.HorizonMin > DefaultHorizonMin {
		verr.add("horizon must be between 1 and %d minutes, got %d", DefaultHorizonMin, c.HorizonMin)
	}
	if c.GranularityMin < 0 {
		verr.add("granularity must not be negative, got %d", c.GranularityMin)
	}
	if c.MaxPowerW <= 0 {
		verr.add("max_power must be positive, got %g", c.MaxPowerW)
	}
	if c.MaxConcurrent < 0 {
		verr.add("max_concurrent must not be negative, got %d", c.MaxConcurrent)
	}
	if c.MaxCost != nil && *c.MaxCost < 0 {
		verr.add("max_cost must not be negative, got %g", *c.MaxCost)
	}
	if c.MaxDelayMin < 0 {
		verr.add("max_delay_min must not be negative, got %d", c.MaxDelayMin)
	}
	if c.CostSavingPriority < 0 || c.CostSavingPriority > 1 {
		verr.add("cost_saving_priority must be within [0, 1], got %g", c.CostSavingPriority)
	}
	if w := c.Window; w != nil && (w.StartMin < 0 || w.EndMin > c.HorizonMin || w.StartMin >= w.EndMin) {
		verr.add("time window [%d, %d) must be a non-empty range inside the horizon", w.StartMin, w.EndMin)
	}
	if w := c.NightWindow; w != nil && (w.StartMin < 0 || w.StartMin >= DefaultHorizonMin || w.EndMin < 0 || w.EndMin > DefaultHorizonMin || w.StartMin == w.EndMin) {
		verr.add("night window [%d, %d) must be a non-empty range within a day", w.StartMin, w.EndMin)
	}
	if t, ok := c.Tariff.(SlotTariff); ok && (t.SlotMin <= 0 || len(t.Rates) == 0) {
		verr.add("slot tariff needs a positive slot length and at least one rate, got %d minutes and %d rates", t.SlotMin, len(t.Rates))
	}

	out := make([]Appliance, len(appliances))
	seen := make(map[string]bool, len(appliances))
	for i, a := range appliances {
		if a.ID == "" {
			a.ID = a.Name
		}
		if a.Name == "" {
			a.Name = a.ID
		}
		if a.Priority == 0 {
			a.Priority = PriorityMedium
		}
		label := a.ID
		switch {
		case a.ID == "":
			verr.add("appliance %d: id or name is required", i)
			label = fmt.Sprintf("#%d", i)
		case seen[a.ID]:
			verr.add("appliance %q: duplicate id", a.ID)
		}
		seen[a.ID] = true

		if a.PowerW <= 0 {
			verr.add("appliance %s: power must be positive, got %g", label, a.PowerW)
		}
		if a.DurationMin <= 0 {
			verr.add("appliance %s: duration must be positive, got %d", label, a.DurationMin)
		} else if a.DurationMin > c.HorizonMin {
			verr.add("appliance %s: duration %d exceeds the horizon", label, a.DurationMin)
		}
		if a.EarliestMin < 0 {
			verr.add("appliance %s: earliest start must not be negative, got %d", label, a.EarliestMin)
		}
		if a.DeadlineMin < a.EarliestMin {
			verr.add("appliance %s: deadline %d is before earliest start %d", label, a.DeadlineMin, a.EarliestMin)
		}
		if a.DeadlineMin > c.HorizonMin {
			verr.add("appliance %s: deadline %d is past the horizon", label, a.DeadlineMin)
		}
		if a.Priority < PriorityLow || a.Priority > PriorityHigh {
			verr.add("appliance %s: unknown priority %d", label, a.Priority)
		}
		out[i] = a
	}

	if len(verr.Problems) > 0 {
		return nil, c, verr
	}
	return out, c, nil
}
