package storage

import (
	"context"
	"time"
)

// Storage abstracts persistence for units, reading facts, bill charges, the
// derived daily series, weather facts and operational bookkeeping.
type Storage interface {
	// Units
	ListUnits(ctx context.Context) ([]Unit, error)
	GetUnit(ctx context.Context, id string) (*Unit, error)
	GetUnitByName(ctx context.Context, name string) (*Unit, error)
	UpsertUnit(ctx context.Context, u Unit) error

	// Reading facts (append-only; only the review status may change later)
	AppendReading(ctx context.Context, r MeterReading) error
	GetReading(ctx context.Context, id string) (*MeterReading, error)
	// RecentMeterReads returns approved meter_read rows for the unit and
	// utility, newest capture first, at most limit rows.
	RecentMeterReads(ctx context.Context, unitID, utility string, limit int) ([]MeterReading, error)
	// ListApprovedReadings returns all approved readings (both entry kinds)
	// for the unit and utility.
	ListApprovedReadings(ctx context.Context, unitID, utility string) ([]MeterReading, error)
	PendingReviews(ctx context.Context) ([]MeterReading, error)
	SetReadingStatus(ctx context.Context, id, status string) error

	// Bill charges
	UpsertBillCharge(ctx context.Context, c BillCharge) error
	ListBillCharges(ctx context.Context, unitID, utility string) ([]BillCharge, error)

	// Derived daily series (drop-and-recompute cache)
	ReplaceDailySeries(ctx context.Context, unitID, utility string, rows []DailyConsumption) error
	DailySeries(ctx context.Context, unitID, utility string, from, to time.Time) ([]DailyConsumption, error)

	// Weather facts
	UpsertWeatherDay(ctx context.Context, w WeatherDay) error
	WeatherRange(ctx context.Context, from, to time.Time) ([]WeatherDay, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Email configuration
	GetEmailConfig(ctx context.Context) (*EmailConfig, error)
	SaveEmailConfig(ctx context.Context, cfg EmailConfig) error

	// Job bookkeeping
	UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error

	Ping(ctx context.Context) error
	Close() error
}

// AdvisoryLocker is implemented by backends that support cross-instance
// exclusion (postgres). Others report the lock as always acquired.
type AdvisoryLocker interface {
	AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error)
}
