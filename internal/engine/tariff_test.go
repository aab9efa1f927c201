package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeOfUseRate(t *testing.T) {
	tou := DefaultTimeOfUse()

	tests := []struct {
		minute int
		want   float64
	}{
		{minute: 0, want: 3.5},
		{minute: 5*60 + 59, want: 3.5},
		{minute: 6 * 60, want: 5.5},
		{minute: 13 * 60, want: 6.8},
		{minute: 16 * 60, want: 5.5},
		{minute: 18 * 60, want: 8.5},
		{minute: 21*60 + 30, want: 8.5},
		{minute: 22 * 60, want: 5.5},
		{minute: 23*60 + 59, want: 5.5},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tou.Rate(tt.minute), "minute %d", tt.minute)
	}
}

func TestEnergyCost(t *testing.T) {
	tests := []struct {
		name     string
		tariff   Tariff
		powerW   float64
		start    int
		duration int
		want     float64
	}{
		{
			name:     "flat rate one kWh",
			tariff:   Flat(6.0),
			powerW:   1000,
			start:    0,
			duration: 60,
			want:     6.0,
		},
		{
			name:     "inside one band",
			tariff:   DefaultTimeOfUse(),
			powerW:   2000,
			start:    60,
			duration: 90,
			want:     2 * 1.5 * 3.5,
		},
		{
			name:     "spanning off-peak into shoulder",
			tariff:   DefaultTimeOfUse(),
			powerW:   1000,
			start:    5*60 + 30,
			duration: 60,
			want:     0.5*3.5 + 0.5*5.5,
		},
		{
			name:     "spanning three bands",
			tariff:   DefaultTimeOfUse(),
			powerW:   3000,
			start:    17 * 60,
			duration: 6 * 60,
			want:     3 * (1*5.5 + 4*8.5 + 1*5.5),
		},
		{
			name:     "half hourly slots",
			tariff:   SlotTariff{SlotMin: 30, Rates: []float64{10, 20, 30}},
			powerW:   1000,
			start:    15,
			duration: 60,
			want:     0.25*10 + 0.5*20 + 0.25*30,
		},
		{
			name:     "past the last slot pays the last rate",
			tariff:   SlotTariff{SlotMin: 30, Rates: []float64{10, 20}},
			powerW:   1000,
			start:    30,
			duration: 120,
			want:     2 * 20,
		},
		{
			name:     "zero duration",
			tariff:   Flat(6.0),
			powerW:   1000,
			start:    30,
			duration: 0,
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, EnergyCost(tt.tariff, tt.powerW, tt.start, tt.duration), 1e-9)
		})
	}
}

func TestEnergyCostMatchesMinuteSum(t *testing.T) {
	tou := DefaultTimeOfUse()
	for _, start := range []int{0, 345, 700, 1075, 1300} {
		minuteSum := 0.0
		for m := start; m < start+135; m++ {
			minuteSum += 2.2 / 60 * tou.Rate(m)
		}
		assert.InDelta(t, minuteSum, EnergyCost(tou, 2200, start, 135), 1e-9, "start %d", start)
	}
}
