package engine

import (
	"context"
	"math"
	"sort"
)

// ctxPollInterval is how many search nodes pass between context checks
const ctxPollInterval = 4096

// problem is the per-call working set shared by both strategies. Appliance
// i's candidate start domains[i][k] costs costs[i][k].
type problem struct {
	appliances []Appliance
	domains    [][]int
	costs      [][]float64
	horizon    int
	unit       int
	checker    Checker
	eval       evaluator
}

// assignment maps appliance index to start minute; -1 is unassigned
type assignment []int

// searchResult is the incumbent of an exact search
type searchResult struct {
	found      bool
	starts     assignment
	objective  float64
	exhaustive bool
	nodes      int
	leaves     int
}

type searcher struct {
	ctx    context.Context
	p      *problem
	order  []int   // variable order: appliance indices
	values [][]int // per appliance, domain indices cheapest first
	// slack[d] is the sum of the negative cheapest costs of the appliances
	// at depth d and deeper; zero unless some tariff rate is negative
	slack []float64

	profile   *LoadProfile
	starts    assignment
	committed float64
	comfort   float64

	best    searchResult
	stopped bool
	err     error
}

// exactSearch runs depth-first branch and bound over p. It returns the best
// complete assignment satisfying every hard constraint, if any.
func exactSearch(ctx context.Context, p *problem) (searchResult, error) {
	s := &searcher{
		ctx:     ctx,
		p:       p,
		order:   heaviestFirst(p.appliances),
		values:  cheapestFirst(p),
		profile: NewLoadProfile(p.horizon, p.unit),
		starts:  make(assignment, len(p.appliances)),
		best:    searchResult{objective: math.Inf(1)},
	}
	for i := range s.starts {
		s.starts[i] = -1
	}
	s.slack = remainingSlack(p, s.order, s.values)

	s.visit(0)
	if s.err != nil {
		return searchResult{}, s.err
	}
	s.best.exhaustive = !s.stopped
	return s.best, nil
}

// remainingSlack bounds how far the costs still to be committed below each
// depth can lower the total
func remainingSlack(p *problem, order []int, values [][]int) []float64 {
	slack := make([]float64, len(order)+1)
	for d := len(order) - 1; d >= 0; d-- {
		slack[d] = slack[d+1]
		i := order[d]
		if len(values[i]) == 0 {
			continue
		}
		if cheapest := p.costs[i][values[i][0]]; cheapest < 0 {
			slack[d] += cheapest
		}
	}
	return slack
}

// heaviestFirst orders appliances by descending power x duration.
// Ties keep input order.
func heaviestFirst(appliances []Appliance) []int {
	order := make([]int, len(appliances))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		a, b := appliances[order[x]], appliances[order[y]]
		return a.PowerW*float64(a.DurationMin) > b.PowerW*float64(b.DurationMin)
	})
	return order
}

// cheapestFirst orders each domain by ascending projected cost, then start
func cheapestFirst(p *problem) [][]int {
	values := make([][]int, len(p.domains))
	for i, d := range p.domains {
		idx := make([]int, len(d))
		for k := range idx {
			idx[k] = k
		}
		costs := p.costs[i]
		sort.SliceStable(idx, func(x, y int) bool {
			return costs[idx[x]] < costs[idx[y]]
		})
		values[i] = idx
	}
	return values
}

func (s *searcher) visit(depth int) {
	s.best.nodes++
	if s.best.nodes%ctxPollInterval == 0 && s.ctx.Err() != nil {
		s.stopped = true
	}
	if s.stopped || s.err != nil {
		return
	}
	if s.committed+s.slack[depth] >= s.best.objective {
		return
	}
	if depth == len(s.order) {
		s.leaf()
		return
	}

	i := s.order[depth]
	a := s.p.appliances[i]
	for _, k := range s.values[i] {
		cost := s.p.costs[i][k]
		// candidates are cheapest first: once one cannot beat the incumbent
		// or fit the budget, none of the rest can
		bound := s.committed + cost + s.slack[depth+1]
		if bound >= s.best.objective || !s.p.checker.BudgetOK(bound) {
			break
		}
		start := s.p.domains[i][k]
		if !s.p.checker.CanPlace(s.profile, a, start) {
			continue
		}

		s.profile.Place(start, a.DurationMin, a.PowerW)
		s.starts[i] = start
		delay := s.p.eval.delay(a, start)
		s.committed += cost
		s.comfort += delay

		s.visit(depth + 1)

		s.committed -= cost
		s.comfort -= delay
		s.starts[i] = -1
		if err := s.profile.Remove(start, a.DurationMin, a.PowerW); err != nil {
			s.err = err
		}
		if s.stopped || s.err != nil {
			return
		}
	}
}

func (s *searcher) leaf() {
	s.best.leaves++
	if !s.p.checker.BudgetOK(s.committed) {
		return
	}
	obj := s.p.eval.value(s.committed, s.profile.Peak(), s.comfort)
	if obj < s.best.objective {
		s.best.found = true
		s.best.objective = obj
		s.best.starts = append(assignment(nil), s.starts...)
	}
}
