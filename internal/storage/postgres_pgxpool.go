package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPoolStorage is a flat-SQL backend on pgxpool, for deployments that
// want pool introspection and advisory locks without the ORM layer.
type PostgresPoolStorage struct {
	pool *pgxpool.Pool
}

func OpenPostgresPool(ctx context.Context, dsn string) (*PostgresPoolStorage, error) {
	if dsn == "" {
		dsn = "postgres://localhost:5432/meterlog?sslmode=disable"
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &PostgresPoolStorage{pool: pool}, nil
}

// Stat exposes pool statistics for metrics reporting.
func (s *PostgresPoolStorage) Stat() *pgxpool.Stat { return s.pool.Stat() }

func (s *PostgresPoolStorage) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresPoolStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Units

func (s *PostgresPoolStorage) ListUnits(ctx context.Context) ([]Unit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, location, utilities, created_at FROM units ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.Name, &u.Location, &u.Utilities, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresPoolStorage) GetUnit(ctx context.Context, id string) (*Unit, error) {
	return s.getUnitWhere(ctx, "id = $1", id)
}

func (s *PostgresPoolStorage) GetUnitByName(ctx context.Context, name string) (*Unit, error) {
	return s.getUnitWhere(ctx, "name = $1", name)
}

func (s *PostgresPoolStorage) getUnitWhere(ctx context.Context, where, arg string) (*Unit, error) {
	var u Unit
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, location, utilities, created_at FROM units WHERE `+where, arg).
		Scan(&u.ID, &u.Name, &u.Location, &u.Utilities, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *PostgresPoolStorage) UpsertUnit(ctx context.Context, u Unit) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO units (id, name, location, utilities, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, location = EXCLUDED.location, utilities = EXCLUDED.utilities`,
		u.ID, u.Name, u.Location, u.Utilities, u.CreatedAt)
	return err
}

// Readings

const readingCols = `id, unit_id, utility_type, entry_type, captured_at, period_start, period_end,
	reading_value, reading_unit, confidence, evidence, bill_id, is_opening, review_status, note, source, created_at`

func scanReading(row pgx.Row) (MeterReading, error) {
	var r MeterReading
	err := row.Scan(&r.ID, &r.UnitID, &r.UtilityType, &r.EntryType, &r.CapturedAt,
		&r.PeriodStart, &r.PeriodEnd, &r.Value, &r.ReadingUnit, &r.Confidence,
		&r.Evidence, &r.BillID, &r.IsOpening, &r.Status, &r.Note, &r.Source, &r.CreatedAt)
	return r, err
}

func (s *PostgresPoolStorage) AppendReading(ctx context.Context, r MeterReading) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO meter_readings (`+readingCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		r.ID, r.UnitID, r.UtilityType, r.EntryType, r.CapturedAt, r.PeriodStart, r.PeriodEnd,
		r.Value, r.ReadingUnit, r.Confidence, r.Evidence, r.BillID, r.IsOpening, r.Status,
		r.Note, r.Source, r.CreatedAt)
	return err
}

func (s *PostgresPoolStorage) GetReading(ctx context.Context, id string) (*MeterReading, error) {
	r, err := scanReading(s.pool.QueryRow(ctx,
		`SELECT `+readingCols+` FROM meter_readings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *PostgresPoolStorage) queryReadings(ctx context.Context, q string, args ...any) ([]MeterReading, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MeterReading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresPoolStorage) RecentMeterReads(ctx context.Context, unitID, utility string, limit int) ([]MeterReading, error) {
	return s.queryReadings(ctx, `
		SELECT `+readingCols+` FROM meter_readings
		WHERE unit_id = $1 AND utility_type = $2 AND entry_type = 'meter_read' AND review_status = 'approved'
		ORDER BY captured_at DESC LIMIT $3`, unitID, utility, limit)
}

func (s *PostgresPoolStorage) ListApprovedReadings(ctx context.Context, unitID, utility string) ([]MeterReading, error) {
	return s.queryReadings(ctx, `
		SELECT `+readingCols+` FROM meter_readings
		WHERE unit_id = $1 AND utility_type = $2 AND review_status = 'approved'
		ORDER BY created_at`, unitID, utility)
}

func (s *PostgresPoolStorage) PendingReviews(ctx context.Context) ([]MeterReading, error) {
	return s.queryReadings(ctx, `
		SELECT `+readingCols+` FROM meter_readings
		WHERE review_status = 'pending_review' ORDER BY created_at`)
}

func (s *PostgresPoolStorage) SetReadingStatus(ctx context.Context, id, status string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE meter_readings SET review_status = $2 WHERE id = $1`, id, status)
	return err
}

// Bill charges

func (s *PostgresPoolStorage) UpsertBillCharge(ctx context.Context, c BillCharge) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bill_charges (id, unit_id, utility_type, bill_id, period_key, period_start, period_end,
			total_cad, confidence, evidence, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (unit_id, utility_type, bill_id, period_key) DO UPDATE SET
			total_cad = EXCLUDED.total_cad, confidence = EXCLUDED.confidence,
			evidence = EXCLUDED.evidence, period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end, updated_at = EXCLUDED.updated_at`,
		c.ID, c.UnitID, c.UtilityType, c.BillID, ChargePeriodKey(c.PeriodStart, c.PeriodEnd),
		c.PeriodStart, c.PeriodEnd, c.TotalCAD, c.Confidence, c.Evidence, time.Now())
	return err
}

func (s *PostgresPoolStorage) ListBillCharges(ctx context.Context, unitID, utility string) ([]BillCharge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, unit_id, utility_type, bill_id, period_key, period_start, period_end,
			total_cad, confidence, evidence, updated_at
		FROM bill_charges WHERE unit_id = $1 AND utility_type = $2 ORDER BY period_start`,
		unitID, utility)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BillCharge
	for rows.Next() {
		var c BillCharge
		if err := rows.Scan(&c.ID, &c.UnitID, &c.UtilityType, &c.BillID, &c.PeriodKey,
			&c.PeriodStart, &c.PeriodEnd, &c.TotalCAD, &c.Confidence, &c.Evidence, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Daily series

func (s *PostgresPoolStorage) ReplaceDailySeries(ctx context.Context, unitID, utility string, rows []DailyConsumption) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM daily_consumption WHERE unit_id = $1 AND utility_type = $2`,
		unitID, utility); err != nil {
		return err
	}
	for _, d := range rows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO daily_consumption (unit_id, utility_type, usage_unit, day, value, source,
				temp_avg_c, heating_dd, cooling_dd, precip_mm, rebuilt_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			d.UnitID, d.UtilityType, d.UsageUnit, d.Day, d.Value, d.Source,
			d.TempAvgC, d.HeatingDD, d.CoolingDD, d.PrecipMM, d.RebuiltAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresPoolStorage) DailySeries(ctx context.Context, unitID, utility string, from, to time.Time) ([]DailyConsumption, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, unit_id, utility_type, usage_unit, day, value, source,
			temp_avg_c, heating_dd, cooling_dd, precip_mm, rebuilt_at
		FROM daily_consumption
		WHERE unit_id = $1 AND utility_type = $2 AND day >= $3 AND day <= $4
		ORDER BY day`, unitID, utility, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DailyConsumption
	for rows.Next() {
		var d DailyConsumption
		if err := rows.Scan(&d.ID, &d.UnitID, &d.UtilityType, &d.UsageUnit, &d.Day, &d.Value,
			&d.Source, &d.TempAvgC, &d.HeatingDD, &d.CoolingDD, &d.PrecipMM, &d.RebuiltAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Weather

func (s *PostgresPoolStorage) UpsertWeatherDay(ctx context.Context, w WeatherDay) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO weather_days (day, temp_avg_c, precip_mm, heating_dd, cooling_dd, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (day) DO UPDATE SET
			temp_avg_c = EXCLUDED.temp_avg_c, precip_mm = EXCLUDED.precip_mm,
			heating_dd = EXCLUDED.heating_dd, cooling_dd = EXCLUDED.cooling_dd,
			updated_at = EXCLUDED.updated_at`,
		DateOnly(w.Day), w.TempAvgC, w.PrecipMM, w.HeatingDD, w.CoolingDD, time.Now())
	return err
}

func (s *PostgresPoolStorage) WeatherRange(ctx context.Context, from, to time.Time) ([]WeatherDay, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT day, temp_avg_c, precip_mm, heating_dd, cooling_dd, updated_at
		FROM weather_days WHERE day >= $1 AND day <= $2 ORDER BY day`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WeatherDay
	for rows.Next() {
		var w WeatherDay
		if err := rows.Scan(&w.Day, &w.TempAvgC, &w.PrecipMM, &w.HeatingDD, &w.CoolingDD, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Settings

func (s *PostgresPoolStorage) GetSetting(ctx context.Context, key string) (string, error) {
	var val string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&val)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return val, nil
}

func (s *PostgresPoolStorage) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now())
	return err
}

// Email config

func (s *PostgresPoolStorage) GetEmailConfig(ctx context.Context) (*EmailConfig, error) {
	var cfg EmailConfig
	err := s.pool.QueryRow(ctx, `
		SELECT id, provider, host, port, username, password, from_address, from_name,
			api_key, encryption, review_to, enabled, created_at, updated_at
		FROM email_config LIMIT 1`).
		Scan(&cfg.ID, &cfg.Provider, &cfg.Host, &cfg.Port, &cfg.Username, &cfg.Password,
			&cfg.FromAddress, &cfg.FromName, &cfg.APIKey, &cfg.Encryption, &cfg.ReviewTo,
			&cfg.Enabled, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (s *PostgresPoolStorage) SaveEmailConfig(ctx context.Context, cfg EmailConfig) error {
	if cfg.ID == "" {
		cfg.ID = "default"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_config (id, provider, host, port, username, password, from_address,
			from_name, api_key, encryption, review_to, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			provider = EXCLUDED.provider, host = EXCLUDED.host, port = EXCLUDED.port,
			username = EXCLUDED.username, password = EXCLUDED.password,
			from_address = EXCLUDED.from_address, from_name = EXCLUDED.from_name,
			api_key = EXCLUDED.api_key, encryption = EXCLUDED.encryption,
			review_to = EXCLUDED.review_to, enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at`,
		cfg.ID, cfg.Provider, cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.FromAddress,
		cfg.FromName, cfg.APIKey, cfg.Encryption, cfg.ReviewTo, cfg.Enabled, time.Now(), time.Now())
	return err
}

// Job bookkeeping

func (s *PostgresPoolStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	status := 0
	if success {
		status = 1
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_jobs (name, last_run_at, last_duration_ms, last_success, last_error)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (name) DO UPDATE SET
			last_run_at = EXCLUDED.last_run_at, last_duration_ms = EXCLUDED.last_duration_ms,
			last_success = EXCLUDED.last_success, last_error = EXCLUDED.last_error`,
		name, started, dur.Milliseconds(), status, errMsg)
	return err
}

// Advisory locks

func (s *PostgresPoolStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok)
	return ok, err
}

func (s *PostgresPoolStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&ok)
	return ok, err
}
