package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/awaistahir/smart-sched/internal/engine"
)

// PromSink records optimizer runs in Prometheus metrics
type PromSink struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	nodes    prometheus.Counter
}

// NewPromSink registers optimizer metrics on reg. If reg is nil the default
// registerer is used. Collectors that are already registered are reused.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartsched_optimize_runs_total",
		Help: "Total number of optimization calls by strategy and outcome",
	}, []string{"strategy", "feasible"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "smartsched_optimize_duration_seconds",
		Help:    "Wall time of optimization calls",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"strategy"})
	nodes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "smartsched_search_nodes_total",
		Help: "Search nodes visited by the exact scheduler",
	})

	var err error
	if runs, err = register(reg, runs); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if nodes, err = register(reg, nodes); err != nil {
		return nil, err
	}
	return &PromSink{runs: runs, duration: duration, nodes: nodes}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordRun implements engine.Recorder
func (s *PromSink) RecordRun(strategy engine.Strategy, feasible bool, nodes int, elapsed time.Duration) {
	s.runs.WithLabelValues(string(strategy), strconv.FormatBool(feasible)).Inc()
	s.duration.WithLabelValues(string(strategy)).Observe(elapsed.Seconds())
	s.nodes.Add(float64(nodes))
}
