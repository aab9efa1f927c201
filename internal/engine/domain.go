package engine

// Granularity thresholds used when Constraints.GranularityMin is zero
type GranularityPolicy struct {
	FineMaxAppliances   int
	MediumMaxAppliances int
	FineMin             int
	MediumMin           int
	CoarseMin           int
}

// DefaultGranularityPolicy uses 15 minute slots up to 3 appliances, 30 up
// to 6 and hourly slots beyond that.
func DefaultGranularityPolicy() GranularityPolicy {
	return GranularityPolicy{
		FineMaxAppliances:   3,
		MediumMaxAppliances: 6,
		FineMin:             15,
		MediumMin:           30,
		CoarseMin:           60,
	}
}

// For returns the slot size for n appliances
func (g GranularityPolicy) For(n int) int {
	switch {
	case n <= g.FineMaxAppliances:
		return g.FineMin
	case n <= g.MediumMaxAppliances:
		return g.MediumMin
	default:
		return g.CoarseMin
	}
}

// Domain returns the ordered legal start times for an appliance: from
// max(earliest, window start) to min(deadline, window end, horizon) minus the
// duration, stepping by granularity. An empty result means the problem is
// infeasible.
func Domain(a Appliance, c Constraints, granularity int) []int {
	earliest := a.EarliestMin
	latestEnd := a.DeadlineMin
	if c.HorizonMin < latestEnd {
		latestEnd = c.HorizonMin
	}
	if c.Window != nil {
		earliest = max(earliest, c.Window.StartMin)
		latestEnd = min(latestEnd, c.Window.EndMin)
	}
	latest := latestEnd - a.DurationMin
	if latest < earliest {
		return nil
	}

	starts := make([]int, 0, (latest-earliest)/granularity+1)
	for s := earliest; s <= latest; s += granularity {
		starts = append(starts, s)
	}
	return starts
}

// profileUnit is the largest time unit that every interval boundary in the
// problem falls on, so the load profile can be indexed exactly.
func profileUnit(horizon, granularity int, appliances []Appliance, domains [][]int) int {
	u := gcd(horizon, granularity)
	for i, a := range appliances {
		u = gcd(u, a.DurationMin)
		if len(domains[i]) > 0 {
			u = gcd(u, domains[i][0])
		}
	}
	if u <= 0 {
		return 1
	}
	return u
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
