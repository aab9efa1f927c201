package prices

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/awaistahir/smart-sched/internal/engine"
)

var ErrNoSource = errors.New("no price source configured")

// Fetcher returns a day's half-hourly prices
type Fetcher interface {
	HalfHourly(ctx context.Context, day time.Time, region string) ([]PriceSlot, error)
}

// Cache persists fetched prices per region and day
type Cache interface {
	GetCachedPrices(region string, date time.Time) ([]PriceSlot, error)
	CachePrices(region string, date time.Time, slots []PriceSlot) error
}

// Cached serves prices from Cache and only goes to Source on a miss.
// Fetched days with at least one slot are written back.
type Cached struct {
	Cache  Cache
	Source Fetcher
	Log    zerolog.Logger
}

func (c Cached) HalfHourly(ctx context.Context, day time.Time, region string) ([]PriceSlot, error) {
	day = startOfDay(day)
	if slots, err := c.Cache.GetCachedPrices(region, day); err == nil && len(slots) > 0 {
		return slots, nil
	}
	if c.Source == nil {
		return nil, ErrNoSource
	}

	slots, err := c.Source.HalfHourly(ctx, day, region)
	if err != nil {
		return nil, err
	}
	if len(slots) > 0 {
		if err := c.Cache.CachePrices(region, day, slots); err != nil {
			c.Log.Warn().Err(err).Str("region", region).Msg("caching prices")
		}
	}
	return slots, nil
}

// DayTariff converts the day's prices into a tariff starting at midnight UTC
func (c Cached) DayTariff(ctx context.Context, day time.Time, region string) (engine.SlotTariff, error) {
	slots, err := c.HalfHourly(ctx, day, region)
	if err != nil {
		return engine.SlotTariff{}, err
	}
	return ToTariff(slots, startOfDay(day))
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
