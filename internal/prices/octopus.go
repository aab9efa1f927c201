package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/awaistahir/smart-sched/internal/engine"
)

const (
	octopusAPIBase = "https://api.octopus.energy/v1"
	// Current Agile product code - update as needed
	defaultAgileProduct = "AGILE-24-10-01"
	slotMinutes         = 30
)

var ErrNoPrices = errors.New("no prices published for the requested day")

// PriceSlot represents a 30-minute electricity pricing period
type PriceSlot struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	PencePerKWh float64   `json:"pence_per_kwh"`
	IncludesVAT bool      `json:"includes_vat"`
}

// OctopusClient fetches electricity prices from Octopus Energy Agile tariff
type OctopusClient struct {
	httpClient *http.Client
	baseURL    string
	product    string
	region     string
}

// ClientOption configures an OctopusClient
type ClientOption func(*OctopusClient)

// WithBaseURL points the client at another API host
func WithBaseURL(u string) ClientOption {
	return func(c *OctopusClient) { c.baseURL = u }
}

// WithHTTPClient replaces the default 30s-timeout client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *OctopusClient) { c.httpClient = hc }
}

// NewOctopusClient creates a new client for the Octopus Agile API
func NewOctopusClient(region string, opts ...ClientOption) *OctopusClient {
	c := &OctopusClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    octopusAPIBase,
		product:    defaultAgileProduct,
		region:     region,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// octopusResponse represents the API response structure
type octopusResponse struct {
	Count   int          `json:"count"`
	Next    *string      `json:"next"`
	Results []resultItem `json:"results"`
}

type resultItem struct {
	ValueExcVAT float64   `json:"value_exc_vat"`
	ValueIncVAT float64   `json:"value_inc_vat"`
	ValidFrom   time.Time `json:"valid_from"`
	ValidTo     time.Time `json:"valid_to"`
}

// HalfHourly fetches half-hourly prices for a specific day and region
func (c *OctopusClient) HalfHourly(ctx context.Context, day time.Time, region string) ([]PriceSlot, error) {
	if region == "" {
		region = c.region
	}

	// Construct tariff code: E-1R-{PRODUCT}-{REGION}
	tariffCode := fmt.Sprintf("E-1R-%s-%s", c.product, region)
	endpoint := fmt.Sprintf("%s/products/%s/electricity-tariffs/%s/standard-unit-rates/",
		c.baseURL, c.product, tariffCode)

	startOfDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	endOfDay := startOfDay.Add(24 * time.Hour)

	params := url.Values{}
	params.Add("period_from", startOfDay.Format(time.RFC3339))
	params.Add("period_to", endOfDay.Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var octResp octopusResponse
	if err := json.NewDecoder(resp.Body).Decode(&octResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	slots := make([]PriceSlot, 0, len(octResp.Results))
	for _, r := range octResp.Results {
		slots = append(slots, PriceSlot{
			Start:       r.ValidFrom,
			End:         r.ValidTo,
			PencePerKWh: r.ValueIncVAT,
			IncludesVAT: true,
		})
	}

	// API returns in reverse chronological order
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].Start.Before(slots[j].Start)
	})

	return slots, nil
}

// DayTariff fetches the day's prices and converts them to an engine tariff
// whose minute 0 is midnight UTC of day. Rates are in pounds per kWh.
func (c *OctopusClient) DayTariff(ctx context.Context, day time.Time, region string) (engine.SlotTariff, error) {
	slots, err := c.HalfHourly(ctx, day, region)
	if err != nil {
		return engine.SlotTariff{}, err
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return ToTariff(slots, start)
}

// ToTariff lays price slots onto a half-hour grid starting at horizonStart.
// Gaps before the first published slot take its price; gaps after take the
// preceding slot's price.
func ToTariff(slots []PriceSlot, horizonStart time.Time) (engine.SlotTariff, error) {
	if len(slots) == 0 {
		return engine.SlotTariff{}, ErrNoPrices
	}

	rates := make([]float64, engine.DefaultHorizonMin/slotMinutes)
	set := make([]bool, len(rates))
	for _, s := range slots {
		i := int(s.Start.Sub(horizonStart) / (slotMinutes * time.Minute))
		if i < 0 || i >= len(rates) {
			continue
		}
		rates[i] = s.PencePerKWh / 100
		set[i] = true
	}

	first := -1
	for i := range rates {
		if set[i] {
			first = i
			break
		}
	}
	if first < 0 {
		return engine.SlotTariff{}, ErrNoPrices
	}
	for i := 0; i < first; i++ {
		rates[i] = rates[first]
	}
	for i := first + 1; i < len(rates); i++ {
		if !set[i] {
			rates[i] = rates[i-1]
		}
	}

	return engine.SlotTariff{SlotMin: slotMinutes, Rates: rates}, nil
}
