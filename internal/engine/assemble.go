package engine

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// assemble turns a complete assignment into schedule records. Costs are
// recomputed from the tariff rather than taken from search caches.
func assemble(p *problem, tariff Tariff, starts assignment, strategy Strategy) *Schedule {
	entries := make([]ScheduleEntry, len(p.appliances))
	costs := make([]float64, len(p.appliances))
	powers := make([]float64, len(p.appliances))
	load := make([]float64, p.horizon/p.unit)
	comfort := 0.0

	for i, a := range p.appliances {
		start := starts[i]
		costs[i] = EnergyCost(tariff, a.PowerW, start, a.DurationMin)
		powers[i] = a.PowerW
		comfort += p.eval.delay(a, start)
		for u := start / p.unit; u < (start+a.DurationMin)/p.unit; u++ {
			load[u] += a.PowerW
		}
		entries[i] = ScheduleEntry{
			ApplianceID:   a.ID,
			ApplianceName: a.Name,
			StartMin:      start,
			EndMin:        start + a.DurationMin,
			PowerW:        a.PowerW,
			Cost:          costs[i],
		}
	}
	sort.SliceStable(entries, func(x, y int) bool {
		return entries[x].StartMin < entries[y].StartMin
	})

	sched := &Schedule{
		Feasible: true,
		Strategy: strategy,
		Entries:  entries,
	}
	if len(entries) == 0 {
		return sched
	}
	sched.TotalCost = floats.Sum(costs)
	sched.TotalPowerW = floats.Sum(powers)
	sched.PeakPowerW = floats.Max(load)
	sched.PeakKW = sched.PeakPowerW / 1000
	if mean := stat.Mean(load, nil); mean > 0 {
		sched.PAR = sched.PeakPowerW / mean
	}
	sched.Objective = p.eval.value(sched.TotalCost, sched.PeakPowerW, comfort)
	return sched
}
