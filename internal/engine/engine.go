package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidInput = errors.New("invalid input parameters")
	ErrInvariant    = errors.New("internal invariant violated")
)

// Recorder receives one observation per optimization call
type Recorder interface {
	RecordRun(strategy Strategy, feasible bool, nodes int, elapsed time.Duration)
}

// Config tunes strategy selection and the objective
type Config struct {
	// Above this many appliances the exact search is skipped
	GreedyThreshold int
	Granularity     GranularityPolicy
	Weights         Weights
}

// DefaultConfig diverts to greedy above 8 appliances
func DefaultConfig() Config {
	return Config{
		GreedyThreshold: 8,
		Granularity:     DefaultGranularityPolicy(),
		Weights:         DefaultWeights(),
	}
}

// Optimizer schedules appliances. It holds configuration only; every call
// owns its own working state, so one Optimizer may serve concurrent calls.
type Optimizer struct {
	cfg      Config
	log      zerolog.Logger
	recorder Recorder
}

// Option configures an Optimizer
type Option func(*Optimizer)

// WithLogger sets the logger; the default discards everything
func WithLogger(l zerolog.Logger) Option {
	return func(o *Optimizer) { o.log = l }
}

// WithRecorder reports every run to r
func WithRecorder(r Recorder) Option {
	return func(o *Optimizer) { o.recorder = r }
}

// New creates an Optimizer
func New(cfg Config, opts ...Option) *Optimizer {
	o := &Optimizer{cfg: cfg, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize assigns a start time to every appliance.
//
// Invalid input returns an error wrapping ErrInvalidInput. A well-formed but
// unsatisfiable request is not an error: the schedule has Feasible false.
// If ctx is cancelled during the exact search the best schedule found so far
// is returned with Exhaustive false.
func (o *Optimizer) Optimize(ctx context.Context, appliances []Appliance, c Constraints) (*Schedule, error) {
	began := time.Now()
	apps, c, err := normalize(appliances, c)
	if err != nil {
		return nil, err
	}

	sched, nodes, err := o.solve(ctx, apps, c)
	if err != nil {
		o.log.Error().Err(err).Int("appliances", len(apps)).Msg("optimization aborted")
		return nil, err
	}
	sched.NodesExplored = nodes
	sched.Runtime = time.Since(began)

	o.log.Info().
		Str("strategy", string(sched.Strategy)).
		Bool("feasible", sched.Feasible).
		Bool("exhaustive", sched.Exhaustive).
		Int("appliances", len(apps)).
		Int("granularity_min", sched.GranularityMin).
		Int("nodes", nodes).
		Float64("total_cost", sched.TotalCost).
		Float64("peak_kw", sched.PeakKW).
		Dur("runtime", sched.Runtime).
		Msg("optimization finished")
	if o.recorder != nil {
		o.recorder.RecordRun(sched.Strategy, sched.Feasible, nodes, sched.Runtime)
	}
	return sched, nil
}

func (o *Optimizer) solve(ctx context.Context, apps []Appliance, c Constraints) (*Schedule, int, error) {
	granularity := c.GranularityMin
	if granularity == 0 {
		granularity = o.cfg.Granularity.For(len(apps))
	}

	domains := make([][]int, len(apps))
	for i, a := range apps {
		domains[i] = Domain(a, c, granularity)
		if len(domains[i]) == 0 {
			o.log.Debug().Str("appliance", a.ID).Msg("empty domain")
			return infeasible(granularity, fmt.Sprintf("appliance %q has no start time that meets its deadline and window", a.ID)), 0, nil
		}
	}

	p := &problem{
		appliances: apps,
		domains:    domains,
		costs:      make([][]float64, len(apps)),
		horizon:    c.HorizonMin,
		unit:       profileUnit(c.HorizonMin, granularity, apps, domains),
		checker:    newChecker(c),
		eval:       newEvaluator(o.cfg.Weights, c, apps),
	}
	for i, a := range apps {
		p.costs[i] = make([]float64, len(domains[i]))
		for k, start := range domains[i] {
			p.costs[i][k] = EnergyCost(c.Tariff, a.PowerW, start, a.DurationMin)
		}
	}
	o.log.Debug().
		Int("appliances", len(apps)).
		Int("granularity_min", granularity).
		Int("profile_unit_min", p.unit).
		Msg("domains built")

	var (
		sched *Schedule
		nodes int
	)
	if len(apps) > o.cfg.GreedyThreshold {
		o.log.Debug().Int("threshold", o.cfg.GreedyThreshold).Msg("appliance count above threshold, using greedy")
	} else {
		res, err := exactSearch(ctx, p)
		if err != nil {
			return nil, res.nodes, err
		}
		nodes = res.nodes
		if res.found {
			sched = assemble(p, c.Tariff, res.starts, StrategyExact)
			sched.Exhaustive = res.exhaustive
		} else {
			o.log.Debug().Int("nodes", res.nodes).Bool("exhaustive", res.exhaustive).Msg("exact search found nothing, trying greedy")
		}
	}

	if sched == nil {
		starts, ok := greedySchedule(p)
		if !ok {
			return infeasible(granularity, "no assignment satisfies the power, concurrency, night and budget constraints"), nodes, nil
		}
		sched = assemble(p, c.Tariff, starts, StrategyGreedy)
	}

	sched.GranularityMin = granularity
	sched.BaselineCost, sched.BaselinePeakKW = baseline(p, c)
	if sched.BaselineCost > 0 {
		sched.SavingsPercent = (sched.BaselineCost - sched.TotalCost) / sched.BaselineCost * 100
	}
	return sched, nodes, nil
}

func infeasible(granularity int, reason string) *Schedule {
	return &Schedule{
		Strategy:         StrategyNone,
		InfeasibleReason: reason,
		GranularityMin:   granularity,
	}
}

// baseline runs every appliance at its earliest legal start, ignoring
// the power, concurrency and night constraints.
func baseline(p *problem, c Constraints) (cost, peakKW float64) {
	profile := NewLoadProfile(p.horizon, p.unit)
	for i, a := range p.appliances {
		start := p.domains[i][0]
		cost += EnergyCost(c.Tariff, a.PowerW, start, a.DurationMin)
		profile.Place(start, a.DurationMin, a.PowerW)
	}
	return cost, profile.Peak() / 1000
}
