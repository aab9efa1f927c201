package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"

	"github.com/awaistahir/smart-sched/internal/engine"
	"github.com/awaistahir/smart-sched/internal/prices"
	"github.com/awaistahir/smart-sched/internal/wire"
)

// Store handles persistent storage using SQLite
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new store and initializes the database
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initialize creates the database schema
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS appliances (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		power_w REAL NOT NULL,
		duration_min INTEGER NOT NULL,
		earliest_min INTEGER DEFAULT 0,
		deadline_min INTEGER DEFAULT 1440,
		priority TEXT DEFAULT 'medium',
		enabled INTEGER DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS preferences (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		max_delay_min INTEGER NOT NULL,
		night_usage_allowed INTEGER NOT NULL,
		cost_saving_priority REAL NOT NULL,
		power_limit_w REAL NOT NULL,
		max_concurrent INTEGER DEFAULT 0,
		max_cost REAL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		source TEXT NOT NULL,
		strategy TEXT NOT NULL,
		feasible INTEGER NOT NULL,
		total_cost REAL NOT NULL,
		peak_kw REAL NOT NULL,
		par REAL NOT NULL,
		runtime_ms REAL NOT NULL,
		baseline_cost REAL NOT NULL,
		baseline_peak_kw REAL NOT NULL,
		savings_percent REAL NOT NULL,
		result TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS price_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		region TEXT NOT NULL,
		date TEXT NOT NULL,
		slots TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		UNIQUE(region, date)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_price_cache_date ON price_cache(region, date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Appliance is a stored appliance definition
type Appliance struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PowerW      float64   `json:"power_w"`
	DurationMin int       `json:"duration_min"`
	EarliestMin int       `json:"earliest_min"`
	DeadlineMin int       `json:"deadline_min"`
	Priority    string    `json:"priority"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Engine converts to the optimizer's appliance type
func (a Appliance) Engine() engine.Appliance {
	return engine.Appliance{
		ID:          a.ID,
		Name:        a.Name,
		PowerW:      a.PowerW,
		DurationMin: a.DurationMin,
		EarliestMin: a.EarliestMin,
		DeadlineMin: a.DeadlineMin,
		Priority:    engine.ParsePriority(a.Priority),
	}
}

// SaveAppliance inserts or replaces an appliance. An empty ID is assigned
// a new UUID; CreatedAt is kept for existing rows.
func (s *Store) SaveAppliance(a *Appliance) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.DeadlineMin == 0 {
		a.DeadlineMin = engine.DefaultHorizonMin
	}
	if a.Priority == "" {
		a.Priority = engine.PriorityMedium.String()
	}
	now := s.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query := `INSERT INTO appliances
		(id, name, power_w, duration_min, earliest_min, deadline_min, priority, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, power_w = excluded.power_w, duration_min = excluded.duration_min,
			earliest_min = excluded.earliest_min, deadline_min = excluded.deadline_min,
			priority = excluded.priority, enabled = excluded.enabled, updated_at = excluded.updated_at`

	_, err := s.db.Exec(query, a.ID, a.Name, a.PowerW, a.DurationMin, a.EarliestMin, a.DeadlineMin,
		a.Priority, boolToInt(a.Enabled), a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano())
	return err
}

const applianceColumns = `id, name, power_w, duration_min, earliest_min, deadline_min, priority, enabled, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAppliance(row scanner) (Appliance, error) {
	var a Appliance
	var enabled int
	var created, updated int64
	err := row.Scan(&a.ID, &a.Name, &a.PowerW, &a.DurationMin, &a.EarliestMin, &a.DeadlineMin,
		&a.Priority, &enabled, &created, &updated)
	if err != nil {
		return Appliance{}, err
	}
	a.Enabled = enabled == 1
	a.CreatedAt = time.Unix(0, created)
	a.UpdatedAt = time.Unix(0, updated)
	return a, nil
}

// ListAppliances returns appliances by descending priority then name
func (s *Store) ListAppliances(enabledOnly bool) ([]Appliance, error) {
	query := `SELECT ` + applianceColumns + ` FROM appliances`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY CASE priority WHEN 'high' THEN 3 WHEN 'low' THEN 1 ELSE 2 END DESC, name, id`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appliances := []Appliance{}
	for rows.Next() {
		a, err := scanAppliance(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning appliance: %w", err)
		}
		appliances = append(appliances, a)
	}
	return appliances, rows.Err()
}

// GetAppliance retrieves a single appliance by ID; a missing row is
// reported as sql.ErrNoRows.
func (s *Store) GetAppliance(id string) (*Appliance, error) {
	a, err := scanAppliance(s.db.QueryRow(`SELECT `+applianceColumns+` FROM appliances WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAppliance deletes an appliance by ID
func (s *Store) DeleteAppliance(id string) error {
	res, err := s.db.Exec(`DELETE FROM appliances WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Preferences are the household-wide constraints used when optimizing the
// stored appliances
type Preferences struct {
	MaxDelayMin        int       `json:"max_delay_min"`
	NightUsageAllowed  bool      `json:"night_usage_allowed"`
	CostSavingPriority float64   `json:"cost_saving_priority"`
	PowerLimitW        float64   `json:"power_limit_w"`
	MaxConcurrent      int       `json:"max_concurrent"`
	MaxCost            *float64  `json:"max_cost,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DefaultPreferences apply until preferences are first saved
func DefaultPreferences() Preferences {
	return Preferences{
		MaxDelayMin:        wire.DefaultMaxDelayMin,
		NightUsageAllowed:  wire.DefaultNightUsageAllowed,
		CostSavingPriority: wire.DefaultCostSavingPriority,
		PowerLimitW:        4200,
	}
}

// Constraints builds optimizer constraints over a full day
func (p Preferences) Constraints(t engine.Tariff) engine.Constraints {
	return engine.Constraints{
		HorizonMin:         engine.DefaultHorizonMin,
		MaxPowerW:          p.PowerLimitW,
		MaxConcurrent:      p.MaxConcurrent,
		MaxCost:            p.MaxCost,
		NightUsageAllowed:  p.NightUsageAllowed,
		MaxDelayMin:        p.MaxDelayMin,
		CostSavingPriority: p.CostSavingPriority,
		Tariff:             t,
	}
}

// GetPreferences returns the saved preferences or the defaults
func (s *Store) GetPreferences() (Preferences, error) {
	query := `SELECT max_delay_min, night_usage_allowed, cost_saving_priority, power_limit_w,
		max_concurrent, max_cost, updated_at FROM preferences WHERE id = 1`

	var p Preferences
	var night int
	var maxCost sql.NullFloat64
	var updated int64
	err := s.db.QueryRow(query).Scan(&p.MaxDelayMin, &night, &p.CostSavingPriority, &p.PowerLimitW,
		&p.MaxConcurrent, &maxCost, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPreferences(), nil
	}
	if err != nil {
		return Preferences{}, err
	}
	p.NightUsageAllowed = night == 1
	if maxCost.Valid {
		p.MaxCost = &maxCost.Float64
	}
	p.UpdatedAt = time.Unix(0, updated)
	return p, nil
}

// SavePreferences replaces the stored preferences
func (s *Store) SavePreferences(p *Preferences) error {
	p.UpdatedAt = s.now()
	var maxCost sql.NullFloat64
	if p.MaxCost != nil {
		maxCost = sql.NullFloat64{Float64: *p.MaxCost, Valid: true}
	}

	query := `INSERT OR REPLACE INTO preferences
		(id, max_delay_min, night_usage_allowed, cost_saving_priority, power_limit_w, max_concurrent, max_cost, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, p.MaxDelayMin, boolToInt(p.NightUsageAllowed), p.CostSavingPriority,
		p.PowerLimitW, p.MaxConcurrent, maxCost, p.UpdatedAt.UnixNano())
	return err
}

// Run is one persisted optimization result
type Run struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	Source         string          `json:"source"`
	Strategy       string          `json:"strategy"`
	Feasible       bool            `json:"feasible"`
	TotalCost      float64         `json:"total_cost"`
	PeakKW         float64         `json:"peak_kw"`
	PAR            float64         `json:"par"`
	RuntimeMS      float64         `json:"runtime_ms"`
	BaselineCost   float64         `json:"baseline_cost"`
	BaselinePeakKW float64         `json:"baseline_peak_kw"`
	SavingsPercent float64         `json:"savings_percent"`
	Result         json.RawMessage `json:"result"`
}

// Run sources
const (
	SourceRequest = "request"
	SourceStored  = "stored"
)

// SaveRun persists a schedule and returns the stored run
func (s *Store) SaveRun(sched *engine.Schedule, source string) (*Run, error) {
	resp := wire.FromSchedule(sched)
	result, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encoding schedule: %w", err)
	}

	run := &Run{
		ID:             uuid.NewString(),
		CreatedAt:      s.now(),
		Source:         source,
		Strategy:       resp.Strategy,
		Feasible:       resp.Feasible,
		TotalCost:      resp.TotalCost,
		PeakKW:         resp.PeakKW,
		PAR:            resp.PAR,
		RuntimeMS:      resp.RuntimeMS,
		BaselineCost:   resp.BaselineCost,
		BaselinePeakKW: resp.BaselinePeakKW,
		SavingsPercent: resp.SavingsPercent,
		Result:         result,
	}

	query := `INSERT INTO runs
		(id, created_at, source, strategy, feasible, total_cost, peak_kw, par, runtime_ms,
		 baseline_cost, baseline_peak_kw, savings_percent, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query, run.ID, run.CreatedAt.UnixNano(), run.Source, run.Strategy, boolToInt(run.Feasible),
		run.TotalCost, run.PeakKW, run.PAR, run.RuntimeMS, run.BaselineCost, run.BaselinePeakKW,
		run.SavingsPercent, string(run.Result))
	if err != nil {
		return nil, err
	}
	return run, nil
}

const runColumns = `id, created_at, source, strategy, feasible, total_cost, peak_kw, par, runtime_ms,
	baseline_cost, baseline_peak_kw, savings_percent, result`

func scanRun(row scanner) (Run, error) {
	var r Run
	var created int64
	var feasible int
	var result string
	err := row.Scan(&r.ID, &created, &r.Source, &r.Strategy, &feasible, &r.TotalCost, &r.PeakKW, &r.PAR,
		&r.RuntimeMS, &r.BaselineCost, &r.BaselinePeakKW, &r.SavingsPercent, &result)
	if err != nil {
		return Run{}, err
	}
	r.CreatedAt = time.Unix(0, created)
	r.Feasible = feasible == 1
	r.Result = json.RawMessage(result)
	return r, nil
}

// ListRuns returns up to limit runs, newest first
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun retrieves a run by ID; a missing row is reported as sql.ErrNoRows
func (s *Store) GetRun(id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Dashboard summarizes the household and its latest run
type Dashboard struct {
	Appliances        int     `json:"appliances"`
	EnabledAppliances int     `json:"enabled_appliances"`
	Runs              int     `json:"runs"`
	LatestRun         *Run    `json:"latest_run,omitempty"`
	LatestCost        float64 `json:"latest_cost"`
	LatestBaseline    float64 `json:"latest_baseline_cost"`
	LatestSavingsPct  float64 `json:"latest_savings_percent"`
	LatestPeakKW      float64 `json:"latest_peak_kw"`
}

func (s *Store) Dashboard() (*Dashboard, error) {
	var d Dashboard
	err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(enabled), 0) FROM appliances`).Scan(&d.Appliances, &d.EnabledAppliances)
	if err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&d.Runs); err != nil {
		return nil, err
	}

	latest, err := s.ListRuns(1)
	if err != nil {
		return nil, err
	}
	if len(latest) == 1 {
		r := latest[0]
		d.LatestRun = &r
		d.LatestCost = r.TotalCost
		d.LatestBaseline = r.BaselineCost
		d.LatestSavingsPct = r.SavingsPercent
		d.LatestPeakKW = r.PeakKW
	}
	return &d, nil
}

// Analytics describes the costs of recent feasible runs, oldest first
type Analytics struct {
	Costs        []float64 `json:"costs"`
	MeanCost     float64   `json:"mean_cost"`
	MinCost      float64   `json:"min_cost"`
	MaxCost      float64   `json:"max_cost"`
	TotalSavings float64   `json:"total_savings"`
}

// Analytics covers the last n feasible runs
func (s *Store) Analytics(n int) (*Analytics, error) {
	rows, err := s.db.Query(`SELECT total_cost, baseline_cost FROM runs WHERE feasible = 1
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	a := &Analytics{Costs: []float64{}}
	for rows.Next() {
		var cost, baseline float64
		if err := rows.Scan(&cost, &baseline); err != nil {
			return nil, err
		}
		a.Costs = append(a.Costs, cost)
		a.TotalSavings += baseline - cost
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(a.Costs) == 0 {
		return a, nil
	}

	floats.Reverse(a.Costs)
	a.MeanCost = stat.Mean(a.Costs, nil)
	a.MinCost = floats.Min(a.Costs)
	a.MaxCost = floats.Max(a.Costs)
	return a, nil
}

// CachePrices stores fetched prices
func (s *Store) CachePrices(region string, date time.Time, slots []prices.PriceSlot) error {
	slotsJSON, err := json.Marshal(slots)
	if err != nil {
		return err
	}
	dateStr := date.Format("2006-01-02")

	query := `INSERT OR REPLACE INTO price_cache (region, date, slots, fetched_at)
		VALUES (?, ?, ?, ?)`

	_, err = s.db.Exec(query, region, dateStr, string(slotsJSON), s.now().UnixNano())
	return err
}

// GetCachedPrices retrieves cached prices
func (s *Store) GetCachedPrices(region string, date time.Time) ([]prices.PriceSlot, error) {
	dateStr := date.Format("2006-01-02")
	query := `SELECT slots FROM price_cache WHERE region = ? AND date = ?`

	var slotsJSON string
	err := s.db.QueryRow(query, region, dateStr).Scan(&slotsJSON)
	if err != nil {
		return nil, err
	}

	var slots []prices.PriceSlot
	if err := json.Unmarshal([]byte(slotsJSON), &slots); err != nil {
		return nil, err
	}

	return slots, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
