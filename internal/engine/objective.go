package engine

// Objective weight scales. The peak weight is (1 - CostSavingPriority) *
// PeakScale; the comfort weight is ComfortScale.
const (
	DefaultPeakScale    = 4.0
	DefaultComfortScale = 0.2
)

// Weights configures the scalar objective
type Weights struct {
	PeakScale    float64
	ComfortScale float64
	PeakMetric   PeakMetric
}

// DefaultWeights returns the stock scales with peak measured in kW
func DefaultWeights() Weights {
	return Weights{
		PeakScale:    DefaultPeakScale,
		ComfortScale: DefaultComfortScale,
		PeakMetric:   PeakKW,
	}
}

// evaluator scores assignments for one call
type evaluator struct {
	peakWeight    float64
	comfortWeight float64
	metric        PeakMetric
	maxDelay      int
	meanKW        float64 // mean load over the horizon; fixed for a given appliance set
}

func newEvaluator(w Weights, c Constraints, appliances []Appliance) evaluator {
	energyKWh := 0.0
	for _, a := range appliances {
		energyKWh += a.PowerW / 1000 * float64(a.DurationMin) / 60
	}
	return evaluator{
		peakWeight:    (1 - c.CostSavingPriority) * w.PeakScale,
		comfortWeight: w.ComfortScale,
		metric:        w.PeakMetric,
		maxDelay:      c.MaxDelayMin,
		meanKW:        energyKWh / (float64(c.HorizonMin) / 60),
	}
}

// delay is the normalized comfort penalty for one appliance
func (e evaluator) delay(a Appliance, start int) float64 {
	d := start - a.EarliestMin
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(max(1, e.maxDelay))
}

func (e evaluator) par(peakW float64) float64 {
	if e.meanKW == 0 {
		return 0
	}
	return peakW / 1000 / e.meanKW
}

// peakTerm is the peak component before weighting
func (e evaluator) peakTerm(peakW float64) float64 {
	if e.metric == PeakPAR {
		return e.par(peakW)
	}
	return peakW / 1000
}

// value combines cost, peak and comfort into the scalar to minimize
func (e evaluator) value(cost, peakW, comfort float64) float64 {
	return cost + e.peakWeight*e.peakTerm(peakW) + e.comfortWeight*comfort
}
