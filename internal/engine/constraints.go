package engine

import "fmt"

const powerEpsilon = 1e-9

// LoadProfile tracks committed power and running-appliance count per time
// unit. Placements must be removed in reverse order.
type LoadProfile struct {
	unit  int
	power []float64
	count []int
	peaks []float64 // peak after each placement, LIFO
}

// NewLoadProfile covers horizon minutes in slots of unit minutes
func NewLoadProfile(horizon, unit int) *LoadProfile {
	n := horizon / unit
	return &LoadProfile{
		unit:  unit,
		power: make([]float64, n),
		count: make([]int, n),
	}
}

func (p *LoadProfile) span(start, duration int) (int, int) {
	return start / p.unit, (start + duration) / p.unit
}

// Place commits powerW over [start, start+duration)
func (p *LoadProfile) Place(start, duration int, powerW float64) {
	lo, hi := p.span(start, duration)
	peak := p.Peak()
	for i := lo; i < hi; i++ {
		p.power[i] += powerW
		p.count[i]++
		if p.power[i] > peak {
			peak = p.power[i]
		}
	}
	p.peaks = append(p.peaks, peak)
}

// Remove is the exact inverse of the most recent Place. After an error the
// profile is left partially updated and must not be used again.
func (p *LoadProfile) Remove(start, duration int, powerW float64) error {
	if len(p.peaks) == 0 {
		return fmt.Errorf("%w: remove with no placement", ErrInvariant)
	}
	lo, hi := p.span(start, duration)
	for i := lo; i < hi; i++ {
		p.count[i]--
		if p.count[i] < 0 {
			return fmt.Errorf("%w: load profile underflow at minute %d", ErrInvariant, i*p.unit)
		}
		if p.count[i] == 0 {
			p.power[i] = 0
		} else {
			p.power[i] -= powerW
		}
	}
	p.peaks = p.peaks[:len(p.peaks)-1]
	return nil
}

// Peak is the maximum committed power in watts
func (p *LoadProfile) Peak() float64 {
	if len(p.peaks) == 0 {
		return 0
	}
	return p.peaks[len(p.peaks)-1]
}

// Checker holds the hard-constraint predicates for one call
type Checker struct {
	maxPowerW     float64
	maxConcurrent int
	maxCost       *float64
	night         *TimeWindow // nil when night usage is allowed
}

func newChecker(c Constraints) Checker {
	ch := Checker{
		maxPowerW:     c.MaxPowerW,
		maxConcurrent: c.MaxConcurrent,
		maxCost:       c.MaxCost,
	}
	if !c.NightUsageAllowed {
		w := DefaultNightWindow
		if c.NightWindow != nil {
			w = *c.NightWindow
		}
		ch.night = &w
	}
	return ch
}

// PowerOK reports whether adding powerW over the interval stays within the ceiling
func (ch Checker) PowerOK(p *LoadProfile, start, duration int, powerW float64) bool {
	lo, hi := p.span(start, duration)
	for i := lo; i < hi; i++ {
		if p.power[i]+powerW > ch.maxPowerW+powerEpsilon {
			return false
		}
	}
	return true
}

// ConcurrencyOK reports whether one more running appliance stays within the cap
func (ch Checker) ConcurrencyOK(p *LoadProfile, start, duration int) bool {
	if ch.maxConcurrent <= 0 {
		return true
	}
	lo, hi := p.span(start, duration)
	for i := lo; i < hi; i++ {
		if p.count[i]+1 > ch.maxConcurrent {
			return false
		}
	}
	return true
}

// DeadlineOK reports whether a run starting at start ends by the deadline
func (ch Checker) DeadlineOK(a Appliance, start int) bool {
	return start >= a.EarliestMin && start+a.DurationMin <= a.DeadlineMin
}

// NightOK reports whether [start, start+duration) avoids the night window.
// A single overlapping minute fails.
func (ch Checker) NightOK(start, duration int) bool {
	if ch.night == nil {
		return true
	}
	end := start + duration
	w := *ch.night
	if w.StartMin < w.EndMin {
		return !overlaps(start, end, w.StartMin, w.EndMin)
	}
	return !overlaps(start, end, w.StartMin, 24*60) && !overlaps(start, end, 0, w.EndMin)
}

// BudgetOK applies the optional budget cap to a complete assignment's cost
func (ch Checker) BudgetOK(totalCost float64) bool {
	return ch.maxCost == nil || totalCost <= *ch.maxCost+powerEpsilon
}

// CanPlace runs every predicate that applies to a partial assignment
func (ch Checker) CanPlace(p *LoadProfile, a Appliance, start int) bool {
	return ch.DeadlineOK(a, start) &&
		ch.NightOK(start, a.DurationMin) &&
		ch.ConcurrencyOK(p, start, a.DurationMin) &&
		ch.PowerOK(p, start, a.DurationMin, a.PowerW)
}

func overlaps(s1, e1, s2, e2 int) bool {
	return s1 < e2 && s2 < e1
}
