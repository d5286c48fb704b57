package storage

import (
	"strings"
	"time"
)

// Entry kinds for meter readings.
const (
	EntryMeterRead   = "meter_read"
	EntryBilledUsage = "billed_usage"
)

// Review statuses. Only approved readings feed the daily series.
const (
	ReviewPending  = "pending_review"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// Ingest sources.
const (
	SourceManual   = "manual"
	SourceDocument = "document"
	SourcePhoto    = "photo"
)

// Unit is a provisioned reporting unit. Immutable once readings reference it.
type Unit struct {
	ID        string    `json:"id" gorm:"primaryKey;column:id"`
	Name      string    `json:"name" gorm:"unique;column:name"`
	Location  string    `json:"location" gorm:"column:location"`
	Utilities string    `json:"utilities" gorm:"column:utilities"` // comma-separated allow-list
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
}

// AllowedUtilities splits the stored allow-list.
func (u Unit) AllowedUtilities() []string {
	if u.Utilities == "" {
		return nil
	}
	parts := strings.Split(u.Utilities, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Allows reports whether the unit may report the given utility type.
func (u Unit) Allows(utility string) bool {
	for _, ut := range u.AllowedUtilities() {
		if ut == utility {
			return true
		}
	}
	return false
}

// MeterReading is an append-only fact. Corrections append a new row rather
// than mutating history; only the review status may change afterwards.
type MeterReading struct {
	ID          string     `json:"id" gorm:"primaryKey;column:id"`
	UnitID      string     `json:"unit_id" gorm:"column:unit_id;index:idx_readings_unit_utility"`
	UtilityType string     `json:"utility_type" gorm:"column:utility_type;index:idx_readings_unit_utility"`
	EntryType   string     `json:"entry_type" gorm:"column:entry_type"`
	CapturedAt  *time.Time `json:"captured_at,omitempty" gorm:"column:captured_at"`
	PeriodStart *time.Time `json:"period_start,omitempty" gorm:"column:period_start"`
	PeriodEnd   *time.Time `json:"period_end,omitempty" gorm:"column:period_end"`
	Value       float64    `json:"reading_value" gorm:"column:reading_value"`
	ReadingUnit string     `json:"reading_unit" gorm:"column:reading_unit"`
	Confidence  float64    `json:"confidence" gorm:"column:confidence"`
	Evidence    string     `json:"evidence,omitempty" gorm:"column:evidence"`
	BillID      string     `json:"bill_id,omitempty" gorm:"column:bill_id"`
	IsOpening   bool       `json:"is_opening" gorm:"column:is_opening"`
	Status      string     `json:"review_status" gorm:"column:review_status"`
	Note        string     `json:"note,omitempty" gorm:"column:note"`
	Source      string     `json:"source" gorm:"column:source"`
	CreatedAt   time.Time  `json:"created_at" gorm:"column:created_at"`
}

// BillCharge is a monetary fact, upserted keyed by (unit, utility, bill id,
// period) so re-processing the same bill updates rather than duplicates.
type BillCharge struct {
	ID          string     `json:"id" gorm:"primaryKey;column:id"`
	UnitID      string     `json:"unit_id" gorm:"column:unit_id;uniqueIndex:idx_charges_key"`
	UtilityType string     `json:"utility_type" gorm:"column:utility_type;uniqueIndex:idx_charges_key"`
	BillID      string     `json:"bill_id,omitempty" gorm:"column:bill_id;uniqueIndex:idx_charges_key"`
	PeriodKey   string     `json:"-" gorm:"column:period_key;uniqueIndex:idx_charges_key"`
	PeriodStart *time.Time `json:"period_start,omitempty" gorm:"column:period_start"`
	PeriodEnd   *time.Time `json:"period_end,omitempty" gorm:"column:period_end"`
	TotalCAD    float64    `json:"total_cad" gorm:"column:total_cad"`
	Confidence  float64    `json:"confidence" gorm:"column:confidence"`
	Evidence    string     `json:"evidence,omitempty" gorm:"column:evidence"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"column:updated_at"`
}

// DailyConsumption is a derived row, fully recomputable from readings.
// Weather columns are a best-effort left join; nil means no weather fact.
type DailyConsumption struct {
	ID          uint       `json:"-" gorm:"primaryKey;column:id"`
	UnitID      string     `json:"unit_id" gorm:"column:unit_id;index:idx_daily_unit_utility"`
	UtilityType string     `json:"utility_type" gorm:"column:utility_type;index:idx_daily_unit_utility"`
	UsageUnit   string     `json:"usage_unit" gorm:"column:usage_unit"`
	Day         time.Time  `json:"day" gorm:"column:day"`
	Value       float64    `json:"value" gorm:"column:value"`
	Source      string     `json:"source" gorm:"column:source"` // meter | bill
	TempAvgC    *float64   `json:"temp_avg_c,omitempty" gorm:"column:temp_avg_c"`
	HeatingDD   *float64   `json:"heating_degree_days,omitempty" gorm:"column:heating_dd"`
	CoolingDD   *float64   `json:"cooling_degree_days,omitempty" gorm:"column:cooling_dd"`
	PrecipMM    *float64   `json:"precip_mm,omitempty" gorm:"column:precip_mm"`
	RebuiltAt   *time.Time `json:"-" gorm:"column:rebuilt_at"`
}

// WeatherDay is a per-calendar-date weather fact.
type WeatherDay struct {
	Day       time.Time `json:"day" gorm:"primaryKey;column:day"`
	TempAvgC  float64   `json:"temp_avg_c" gorm:"column:temp_avg_c"`
	PrecipMM  float64   `json:"precip_mm" gorm:"column:precip_mm"`
	HeatingDD float64   `json:"heating_degree_days" gorm:"column:heating_dd"`
	CoolingDD float64   `json:"cooling_degree_days" gorm:"column:cooling_dd"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// Setting is a key/value row for runtime-tunable configuration.
type Setting struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// ScheduledJob records the last outcome of a background job.
type ScheduledJob struct {
	Name           string    `gorm:"primaryKey;column:name"`
	LastRunAt      time.Time `gorm:"column:last_run_at"`
	LastDurationMs int64     `gorm:"column:last_duration_ms"`
	LastSuccess    int       `gorm:"column:last_success"`
	LastError      string    `gorm:"column:last_error"`
}

// EmailConfig holds configuration for email notifications.
type EmailConfig struct {
	ID          string    `json:"id" gorm:"primaryKey;column:id"`
	Provider    string    `json:"provider" gorm:"column:provider"` // "smtp", "sendgrid", "gmail", "resend"
	Host        string    `json:"host,omitempty" gorm:"column:host"`
	Port        int       `json:"port,omitempty" gorm:"column:port"`
	Username    string    `json:"username,omitempty" gorm:"column:username"`
	Password    string    `json:"password,omitempty" gorm:"column:password"`
	FromAddress string    `json:"from_address" gorm:"column:from_address"`
	FromName    string    `json:"from_name" gorm:"column:from_name"`
	APIKey      string    `json:"api_key,omitempty" gorm:"column:api_key"`
	Encryption  string    `json:"encryption,omitempty" gorm:"column:encryption"`
	ReviewTo    string    `json:"review_to,omitempty" gorm:"column:review_to"` // recipient for pending-review digests
	Enabled     bool      `json:"enabled" gorm:"column:enabled"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// ChargePeriodKey builds the composite period portion of the bill-charge
// upsert key. Charges without a period collapse to one row per bill.
func ChargePeriodKey(start, end *time.Time) string {
	if start == nil || end == nil {
		return ""
	}
	return start.UTC().Format("2006-01-02") + "/" + end.UTC().Format("2006-01-02")
}

// DateOnly truncates t to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
