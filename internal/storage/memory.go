package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory Storage implementation, useful for tests and
// simple single-process deployments.
type MemoryStorage struct {
	mu       sync.RWMutex
	units    map[string]Unit
	readings map[string]MeterReading
	charges  map[string]BillCharge // keyed by unit|utility|bill|period
	daily    []DailyConsumption
	weather  map[time.Time]WeatherDay
	settings map[string]string
	email    *EmailConfig
	jobs     map[string]ScheduledJob
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		units:    make(map[string]Unit),
		readings: make(map[string]MeterReading),
		charges:  make(map[string]BillCharge),
		weather:  make(map[time.Time]WeatherDay),
		settings: make(map[string]string),
		jobs:     make(map[string]ScheduledJob),
	}
}

// NewMemoryWithUnits seeds the store with provisioned units.
func NewMemoryWithUnits(units []Unit) *MemoryStorage {
	m := NewMemory()
	for _, u := range units {
		m.units[u.ID] = u
	}
	return m
}

// Units

func (m *MemoryStorage) ListUnits(ctx context.Context) ([]Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Unit, 0, len(m.units))
	for _, u := range m.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStorage) GetUnit(ctx context.Context, id string) (*Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.units[id]; ok {
		cp := u
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStorage) GetUnitByName(ctx context.Context, name string) (*Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.units {
		if u.Name == name {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) UpsertUnit(ctx context.Context, u Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[u.ID] = u
	return nil
}

// Readings

func (m *MemoryStorage) AppendReading(ctx context.Context, r MeterReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings[r.ID] = r
	return nil
}

func (m *MemoryStorage) GetReading(ctx context.Context, id string) (*MeterReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.readings[id]; ok {
		cp := r
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStorage) RecentMeterReads(ctx context.Context, unitID, utility string, limit int) ([]MeterReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []MeterReading
	for _, r := range m.readings {
		if r.UnitID == unitID && r.UtilityType == utility &&
			r.EntryType == EntryMeterRead && r.Status == ReviewApproved && r.CapturedAt != nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.After(*out[j].CapturedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStorage) ListApprovedReadings(ctx context.Context, unitID, utility string) ([]MeterReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []MeterReading
	for _, r := range m.readings {
		if r.UnitID == unitID && r.UtilityType == utility && r.Status == ReviewApproved {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStorage) PendingReviews(ctx context.Context) ([]MeterReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []MeterReading
	for _, r := range m.readings {
		if r.Status == ReviewPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStorage) SetReadingStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.readings[id]; ok {
		r.Status = status
		m.readings[id] = r
	}
	return nil
}

// Bill charges

func (m *MemoryStorage) UpsertBillCharge(ctx context.Context, c BillCharge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.PeriodKey = ChargePeriodKey(c.PeriodStart, c.PeriodEnd)
	c.UpdatedAt = time.Now()
	key := c.UnitID + "|" + c.UtilityType + "|" + c.BillID + "|" + c.PeriodKey
	if prev, ok := m.charges[key]; ok {
		c.ID = prev.ID
	}
	m.charges[key] = c
	return nil
}

func (m *MemoryStorage) ListBillCharges(ctx context.Context, unitID, utility string) ([]BillCharge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []BillCharge
	for _, c := range m.charges {
		if c.UnitID == unitID && c.UtilityType == utility {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeriodStart == nil || out[j].PeriodStart == nil {
			return out[i].ID < out[j].ID
		}
		return out[i].PeriodStart.Before(*out[j].PeriodStart)
	})
	return out, nil
}

// Daily series

func (m *MemoryStorage) ReplaceDailySeries(ctx context.Context, unitID, utility string, rows []DailyConsumption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.daily[:0]
	for _, d := range m.daily {
		if !(d.UnitID == unitID && d.UtilityType == utility) {
			kept = append(kept, d)
		}
	}
	m.daily = append(kept, rows...)
	return nil
}

func (m *MemoryStorage) DailySeries(ctx context.Context, unitID, utility string, from, to time.Time) ([]DailyConsumption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DailyConsumption
	for _, d := range m.daily {
		if d.UnitID == unitID && d.UtilityType == utility &&
			!d.Day.Before(from) && !d.Day.After(to) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// Weather

func (m *MemoryStorage) UpsertWeatherDay(ctx context.Context, w WeatherDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.UpdatedAt = time.Now()
	m.weather[DateOnly(w.Day)] = w
	return nil
}

func (m *MemoryStorage) WeatherRange(ctx context.Context, from, to time.Time) ([]WeatherDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []WeatherDay
	for day, w := range m.weather {
		if !day.Before(from) && !day.After(to) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// Settings

func (m *MemoryStorage) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings[key], nil
}

func (m *MemoryStorage) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

// Email config

func (m *MemoryStorage) GetEmailConfig(ctx context.Context) (*EmailConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.email == nil {
		return nil, nil
	}
	cp := *m.email
	return &cp, nil
}

func (m *MemoryStorage) SaveEmailConfig(ctx context.Context, cfg EmailConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.ID == "" {
		cfg.ID = "default"
	}
	m.email = &cfg
	return nil
}

// Job bookkeeping

func (m *MemoryStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := 0
	if success {
		status = 1
	}
	m.jobs[name] = ScheduledJob{
		Name:           name,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
	return nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error { return nil }
func (m *MemoryStorage) Close() error                   { return nil }
