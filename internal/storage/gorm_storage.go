package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GormStorage struct {
	db *gorm.DB
}

func NewGormStorage(driver, dsn string) (*GormStorage, error) {
	var gormDialector gorm.Dialector
	if driver == "postgres" {
		gormDialector = postgres.Open(dsn)
	} else if driver == "sqlite" {
		gormDialector = sqlite.Open(dsn)
	} else {
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := gorm.Open(gormDialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	return &GormStorage{db: db}, nil
}

func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&Unit{},
		&MeterReading{},
		&BillCharge{},
		&DailyConsumption{},
		&WeatherDay{},
		&Setting{},
		&ScheduledJob{},
		&EmailConfig{},
	)
}

// Units

func (s *GormStorage) ListUnits(ctx context.Context) ([]Unit, error) {
	var units []Unit
	result := s.db.WithContext(ctx).Order("name").Find(&units)
	return units, result.Error
}

func (s *GormStorage) GetUnit(ctx context.Context, id string) (*Unit, error) {
	var u Unit
	result := s.db.WithContext(ctx).First(&u, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &u, nil
}

func (s *GormStorage) GetUnitByName(ctx context.Context, name string) (*Unit, error) {
	var u Unit
	result := s.db.WithContext(ctx).First(&u, "name = ?", name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &u, nil
}

func (s *GormStorage) UpsertUnit(ctx context.Context, u Unit) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&u).Error
}

// Readings

func (s *GormStorage) AppendReading(ctx context.Context, r MeterReading) error {
	return s.db.WithContext(ctx).Create(&r).Error
}

func (s *GormStorage) GetReading(ctx context.Context, id string) (*MeterReading, error) {
	var r MeterReading
	result := s.db.WithContext(ctx).First(&r, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &r, nil
}

func (s *GormStorage) RecentMeterReads(ctx context.Context, unitID, utility string, limit int) ([]MeterReading, error) {
	var rows []MeterReading
	result := s.db.WithContext(ctx).
		Where("unit_id = ? AND utility_type = ? AND entry_type = ? AND review_status = ?",
			unitID, utility, EntryMeterRead, ReviewApproved).
		Order("captured_at desc").
		Limit(limit).
		Find(&rows)
	return rows, result.Error
}

func (s *GormStorage) ListApprovedReadings(ctx context.Context, unitID, utility string) ([]MeterReading, error) {
	var rows []MeterReading
	result := s.db.WithContext(ctx).
		Where("unit_id = ? AND utility_type = ? AND review_status = ?", unitID, utility, ReviewApproved).
		Order("created_at").
		Find(&rows)
	return rows, result.Error
}

func (s *GormStorage) PendingReviews(ctx context.Context) ([]MeterReading, error) {
	var rows []MeterReading
	result := s.db.WithContext(ctx).
		Where("review_status = ?", ReviewPending).
		Order("created_at").
		Find(&rows)
	return rows, result.Error
}

func (s *GormStorage) SetReadingStatus(ctx context.Context, id, status string) error {
	return s.db.WithContext(ctx).Model(&MeterReading{}).
		Where("id = ?", id).
		Update("review_status", status).Error
}

// Bill charges

func (s *GormStorage) UpsertBillCharge(ctx context.Context, c BillCharge) error {
	c.PeriodKey = ChargePeriodKey(c.PeriodStart, c.PeriodEnd)
	c.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "unit_id"}, {Name: "utility_type"}, {Name: "bill_id"}, {Name: "period_key"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"total_cad", "confidence", "evidence", "period_start", "period_end", "updated_at"}),
	}).Create(&c).Error
}

func (s *GormStorage) ListBillCharges(ctx context.Context, unitID, utility string) ([]BillCharge, error) {
	var rows []BillCharge
	result := s.db.WithContext(ctx).
		Where("unit_id = ? AND utility_type = ?", unitID, utility).
		Order("period_start").
		Find(&rows)
	return rows, result.Error
}

// Daily series

func (s *GormStorage) ReplaceDailySeries(ctx context.Context, unitID, utility string, rows []DailyConsumption) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("unit_id = ? AND utility_type = ?", unitID, utility).
			Delete(&DailyConsumption{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 200).Error
	})
}

func (s *GormStorage) DailySeries(ctx context.Context, unitID, utility string, from, to time.Time) ([]DailyConsumption, error) {
	var rows []DailyConsumption
	result := s.db.WithContext(ctx).
		Where("unit_id = ? AND utility_type = ? AND day >= ? AND day <= ?", unitID, utility, from, to).
		Order("day").
		Find(&rows)
	return rows, result.Error
}

// Weather

func (s *GormStorage) UpsertWeatherDay(ctx context.Context, w WeatherDay) error {
	w.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "day"}},
		UpdateAll: true,
	}).Create(&w).Error
}

func (s *GormStorage) WeatherRange(ctx context.Context, from, to time.Time) ([]WeatherDay, error) {
	var rows []WeatherDay
	result := s.db.WithContext(ctx).
		Where("day >= ? AND day <= ?", from, to).
		Order("day").
		Find(&rows)
	return rows, result.Error
}

// Settings

func (s *GormStorage) GetSetting(ctx context.Context, key string) (string, error) {
	var setting Setting
	result := s.db.WithContext(ctx).First(&setting, "key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", result.Error
	}
	return setting.Value, nil
}

func (s *GormStorage) SetSetting(ctx context.Context, key, value string) error {
	setting := Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&setting).Error
}

// Email config

func (s *GormStorage) GetEmailConfig(ctx context.Context) (*EmailConfig, error) {
	var cfg EmailConfig
	result := s.db.WithContext(ctx).First(&cfg)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &cfg, nil
}

func (s *GormStorage) SaveEmailConfig(ctx context.Context, cfg EmailConfig) error {
	if cfg.ID == "" {
		cfg.ID = "default"
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&cfg).Error
}

// Job bookkeeping

func (s *GormStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	status := 0
	if success {
		status = 1
	}
	job := ScheduledJob{
		Name:           name,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&job).Error
}

// Close & Ping

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Advisory locks (postgres only; sqlite deployments are single-instance)

func (s *GormStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.db.Dialector.Name() == "postgres" {
		var ok bool
		err := s.db.WithContext(ctx).Raw("SELECT pg_try_advisory_lock(?)", key).Scan(&ok).Error
		return ok, err
	}
	return true, nil
}

func (s *GormStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.db.Dialector.Name() == "postgres" {
		var ok bool
		err := s.db.WithContext(ctx).Raw("SELECT pg_advisory_unlock(?)", key).Scan(&ok).Error
		return ok, err
	}
	return true, nil
}
