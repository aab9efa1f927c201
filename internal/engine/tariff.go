package engine

import "math"

// Tariff returns a cost per kWh for any minute of the horizon
type Tariff interface {
	Rate(minute int) float64
	// NextChange returns the first minute after minute at which the rate
	// may differ from Rate(minute).
	NextChange(minute int) int
}

// Flat is a constant rate
type Flat float64

func (f Flat) Rate(int) float64 { return float64(f) }

func (f Flat) NextChange(int) int { return math.MaxInt }

// Band is a rate applied to hours [FromHour, ToHour) of the day
type Band struct {
	FromHour int
	ToHour   int
	Rate     float64
}

// TimeOfUse applies hour-of-day bands; hours outside every band pay Default.
// The first matching band wins.
type TimeOfUse struct {
	Bands   []Band
	Default float64
}

// DefaultTimeOfUse is off-peak night cheaper, evening peak costlier
func DefaultTimeOfUse() TimeOfUse {
	return TimeOfUse{
		Bands: []Band{
			{FromHour: 0, ToHour: 6, Rate: 3.5},
			{FromHour: 12, ToHour: 16, Rate: 6.8},
			{FromHour: 18, ToHour: 22, Rate: 8.5},
		},
		Default: 5.5,
	}
}

func (t TimeOfUse) Rate(minute int) float64 {
	hour := (minute / 60) % 24
	for _, b := range t.Bands {
		if hour >= b.FromHour && hour < b.ToHour {
			return b.Rate
		}
	}
	return t.Default
}

func (t TimeOfUse) NextChange(minute int) int {
	return (minute/60 + 1) * 60
}

// SlotTariff holds one rate per fixed-length slot starting at minute 0.
// Minutes past the last slot pay the last rate.
type SlotTariff struct {
	SlotMin int
	Rates   []float64
}

func (s SlotTariff) Rate(minute int) float64 {
	if len(s.Rates) == 0 {
		return 0
	}
	i := minute / s.SlotMin
	if i >= len(s.Rates) {
		i = len(s.Rates) - 1
	}
	return s.Rates[i]
}

func (s SlotTariff) NextChange(minute int) int {
	if minute/s.SlotMin >= len(s.Rates)-1 {
		return math.MaxInt
	}
	return (minute/s.SlotMin + 1) * s.SlotMin
}

// EnergyCost integrates (P/1000) * (1/60) * rate(m) over [start, start+duration).
// Runs are split at every rate change so a run spanning bands pays the
// blended rate.
func EnergyCost(t Tariff, powerW float64, start, duration int) float64 {
	end := start + duration
	cost := 0.0
	for m := start; m < end; {
		next := t.NextChange(m)
		if next > end || next <= m {
			next = end
		}
		cost += powerW / 1000 * float64(next-m) / 60 * t.Rate(m)
		m = next
	}
	return cost
}
