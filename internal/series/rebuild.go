package series

import (
	"context"
	"fmt"
	"time"

	"github.com/bher20/meterlog/internal/metrics"
	"github.com/bher20/meterlog/internal/storage"
)

// Rebuild recomputes the full daily series for one unit and utility from its
// approved reading facts, joins weather by calendar date (best effort), and
// replaces the stored series. Drop-and-recompute keeps the cache consistent;
// the operation is idempotent and safe to retry.
func Rebuild(ctx context.Context, st storage.Storage, unitID, utility string) error {
	started := time.Now()

	readings, err := st.ListApprovedReadings(ctx, unitID, utility)
	if err != nil {
		return fmt.Errorf("list readings: %w", err)
	}
	days := BuildDailySeries(readings)

	var weather map[time.Time]storage.WeatherDay
	if len(days) > 0 {
		from, to := days[0].Day, days[len(days)-1].Day
		facts, err := st.WeatherRange(ctx, from, to)
		if err != nil {
			return fmt.Errorf("weather range: %w", err)
		}
		weather = make(map[time.Time]storage.WeatherDay, len(facts))
		for _, w := range facts {
			weather[storage.DateOnly(w.Day)] = w
		}
	}

	now := time.Now()
	rows := make([]storage.DailyConsumption, 0, len(days))
	for _, d := range days {
		row := storage.DailyConsumption{
			UnitID:      unitID,
			UtilityType: utility,
			UsageUnit:   d.UsageUnit,
			Day:         d.Day,
			Value:       d.Value,
			Source:      d.Source,
			RebuiltAt:   &now,
		}
		if w, ok := weather[d.Day]; ok {
			t, h, c, p := w.TempAvgC, w.HeatingDD, w.CoolingDD, w.PrecipMM
			row.TempAvgC, row.HeatingDD, row.CoolingDD, row.PrecipMM = &t, &h, &c, &p
		}
		rows = append(rows, row)
	}

	if err := st.ReplaceDailySeries(ctx, unitID, utility, rows); err != nil {
		return fmt.Errorf("replace daily series: %w", err)
	}
	metrics.SeriesRebuildSeconds.WithLabelValues(utility).Observe(time.Since(started).Seconds())
	return nil
}

// RebuildAll rebuilds every unit's series for each utility it may report.
func RebuildAll(ctx context.Context, st storage.Storage) error {
	units, err := st.ListUnits(ctx)
	if err != nil {
		return fmt.Errorf("list units: %w", err)
	}
	for _, u := range units {
		for _, utility := range u.AllowedUtilities() {
			if err := Rebuild(ctx, st, u.ID, utility); err != nil {
				return fmt.Errorf("rebuild %s/%s: %w", u.Name, utility, err)
			}
		}
	}
	return nil
}
