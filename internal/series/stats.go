package series

import (
	"context"
	"fmt"
	"time"

	"github.com/bher20/meterlog/internal/costs"
	"github.com/bher20/meterlog/internal/storage"
)

// IntervalDelta describes the most recent meter-read interval.
type IntervalDelta struct {
	Delta      float64   `json:"delta"`
	Days       float64   `json:"days"`
	RatePerDay float64   `json:"rate_per_day"`
	CapturedAt time.Time `json:"captured_at"`
}

// WindowUsage is aggregated usage over a window, bucketed by usage unit, with
// a cost estimate when the utility has a rate schedule.
type WindowUsage struct {
	Days   int                `json:"days"`
	Totals map[string]float64 `json:"totals"`
	Cost   *costs.Estimate    `json:"cost,omitempty"`
}

// UtilityStats is the per-utility stats block returned with every successful
// ingest and from the stats endpoint.
type UtilityStats struct {
	UtilityType   string                 `json:"utility_type"`
	LatestDelta   *IntervalDelta         `json:"latest_interval,omitempty"`
	TrendPct      *float64               `json:"trend_pct,omitempty"`
	Windows       map[string]WindowUsage `json:"windows"`
	PendingReview int                    `json:"pending_review,omitempty"`
}

// Compute aggregates the derived daily series and recent meter intervals into
// the standard reporting windows: 7/30/90 days, month-to-date, since the last
// bill period, and a projected 30 days.
func Compute(ctx context.Context, st storage.Storage, unitID, utility string, now time.Time) (*UtilityStats, error) {
	today := storage.DateOnly(now)
	horizon := today.AddDate(0, 0, -120)
	rows, err := st.DailySeries(ctx, unitID, utility, horizon, today)
	if err != nil {
		return nil, fmt.Errorf("daily series: %w", err)
	}

	stats := &UtilityStats{
		UtilityType: utility,
		Windows:     make(map[string]WindowUsage),
	}

	addWindow := func(name string, from time.Time, days int) {
		totals := sumBuckets(rows, from, today)
		stats.Windows[name] = WindowUsage{
			Days:   days,
			Totals: totals,
			Cost:   costs.EstimateForUtility(utility, toBuckets(totals), days),
		}
	}

	addWindow("1d", today, 1)
	addWindow("7d", today.AddDate(0, 0, -6), 7)
	addWindow("30d", today.AddDate(0, 0, -29), 30)
	addWindow("90d", today.AddDate(0, 0, -89), 90)

	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	addWindow("month_to_date", monthStart, today.Day())

	// Projection: last 7 days' mean daily usage carried over 30 days.
	week := stats.Windows["7d"].Totals
	projected := make(map[string]float64, len(week))
	for unit, total := range week {
		projected[unit] = round3(total / 7 * 30)
	}
	stats.Windows["projected_30d"] = WindowUsage{
		Days:   30,
		Totals: projected,
		Cost:   costs.EstimateForUtility(utility, toBuckets(projected), 30),
	}

	if err := addSinceLastBill(ctx, st, stats, rows, unitID, utility, today); err != nil {
		return nil, err
	}
	if err := addIntervalTrend(ctx, st, stats, unitID, utility); err != nil {
		return nil, err
	}
	return stats, nil
}

func addSinceLastBill(ctx context.Context, st storage.Storage, stats *UtilityStats, rows []storage.DailyConsumption, unitID, utility string, today time.Time) error {
	charges, err := st.ListBillCharges(ctx, unitID, utility)
	if err != nil {
		return fmt.Errorf("list charges: %w", err)
	}
	var lastEnd *time.Time
	for _, c := range charges {
		if c.PeriodEnd != nil && (lastEnd == nil || c.PeriodEnd.After(*lastEnd)) {
			lastEnd = c.PeriodEnd
		}
	}
	if lastEnd == nil {
		return nil
	}
	from := storage.DateOnly(*lastEnd).AddDate(0, 0, 1)
	if from.After(today) {
		return nil
	}
	days := int(today.Sub(from).Hours()/24) + 1
	totals := sumBuckets(rows, from, today)
	stats.Windows["since_last_bill"] = WindowUsage{
		Days:   days,
		Totals: totals,
		Cost:   costs.EstimateForUtility(utility, toBuckets(totals), days),
	}
	return nil
}

// addIntervalTrend fills the latest meter interval and its rate change
// against the previous interval.
func addIntervalTrend(ctx context.Context, st storage.Storage, stats *UtilityStats, unitID, utility string) error {
	reads, err := st.RecentMeterReads(ctx, unitID, utility, 3)
	if err != nil {
		return fmt.Errorf("recent reads: %w", err)
	}
	if len(reads) < 2 {
		return nil
	}
	latest := intervalBetween(reads[1], reads[0])
	stats.LatestDelta = &latest
	if len(reads) == 3 {
		previous := intervalBetween(reads[2], reads[1])
		if previous.RatePerDay > 0 {
			pct := round3((latest.RatePerDay - previous.RatePerDay) / previous.RatePerDay * 100)
			stats.TrendPct = &pct
		}
	}
	return nil
}

func intervalBetween(older, newer storage.MeterReading) IntervalDelta {
	days := newer.CapturedAt.Sub(*older.CapturedAt).Hours() / 24
	if days < 1.0/24 {
		days = 1.0 / 24
	}
	delta := newer.Value - older.Value
	return IntervalDelta{
		Delta:      round3(delta),
		Days:       round3(days),
		RatePerDay: round3(delta / days),
		CapturedAt: *newer.CapturedAt,
	}
}

// sumBuckets sums daily values per usage unit over [from, to]. Both meter and
// bill sourced rows participate; the union is summed within each bucket.
func sumBuckets(rows []storage.DailyConsumption, from, to time.Time) map[string]float64 {
	totals := make(map[string]float64)
	for _, r := range rows {
		if r.Day.Before(from) || r.Day.After(to) {
			continue
		}
		totals[r.UsageUnit] += r.Value
	}
	for k, v := range totals {
		totals[k] = round3(v)
	}
	return totals
}

func toBuckets(totals map[string]float64) []costs.UsageBucket {
	out := make([]costs.UsageBucket, 0, len(totals))
	for unit, v := range totals {
		out = append(out, costs.UsageBucket{Unit: unit, Value: v})
	}
	return out
}
