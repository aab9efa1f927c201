package engine

import "sort"

// greedyOrder sorts by priority descending, then deadline ascending.
// Ties keep input order.
func greedyOrder(appliances []Appliance) []int {
	order := make([]int, len(appliances))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		a, b := appliances[order[x]], appliances[order[y]]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.DeadlineMin < b.DeadlineMin
	})
	return order
}

// greedySchedule places each appliance at its earliest start that keeps the
// power, concurrency and night constraints, never revisiting earlier
// placements. It fails as a whole if any appliance cannot be placed.
func greedySchedule(p *problem) (assignment, bool) {
	profile := NewLoadProfile(p.horizon, p.unit)
	starts := make(assignment, len(p.appliances))
	total := 0.0

	for _, i := range greedyOrder(p.appliances) {
		a := p.appliances[i]
		placed := false
		for k, start := range p.domains[i] {
			if !p.checker.CanPlace(profile, a, start) {
				continue
			}
			profile.Place(start, a.DurationMin, a.PowerW)
			starts[i] = start
			total += p.costs[i][k]
			placed = true
			break
		}
		if !placed {
			return nil, false
		}
	}
	if !p.checker.BudgetOK(total) {
		return nil, false
	}
	return starts, true
}
