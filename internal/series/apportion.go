// Package series derives the dense per-day consumption series from sparse
// reading facts and aggregates it into the windows the API reports.
package series

import (
	"math"
	"sort"
	"time"

	"github.com/bher20/meterlog/internal/storage"
)

// Row sources.
const (
	SourceMeter = "meter"
	SourceBill  = "bill"
)

// DayValue is one apportioned day before weather joining.
type DayValue struct {
	Day       time.Time
	UsageUnit string
	Value     float64
	Source    string
}

// BuildDailySeries unions meter-interval and billed-period apportionment over
// the given approved readings. Overlapping days from the two processes are
// both retained; aggregation downstream tracks usage-unit buckets separately.
// Output is totally ordered by day.
func BuildDailySeries(readings []storage.MeterReading) []DayValue {
	var out []DayValue
	out = append(out, ApportionMeterIntervals(readings)...)
	out = append(out, ApportionBilledPeriods(readings)...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

// ApportionMeterIntervals spreads each consecutive approved meter-read delta
// evenly across the calendar days in (day[i-1], day[i]].
func ApportionMeterIntervals(readings []storage.MeterReading) []DayValue {
	byUnit := make(map[string][]storage.MeterReading)
	for _, r := range readings {
		if r.EntryType == storage.EntryMeterRead && r.CapturedAt != nil {
			byUnit[r.ReadingUnit] = append(byUnit[r.ReadingUnit], r)
		}
	}

	var out []DayValue
	for usageUnit, reads := range byUnit {
		sort.Slice(reads, func(i, j int) bool { return reads[i].CapturedAt.Before(*reads[j].CapturedAt) })
		for i := 1; i < len(reads); i++ {
			prev, cur := reads[i-1], reads[i]
			totalDelta := cur.Value - prev.Value
			if totalDelta < 0 {
				continue
			}
			startDay := storage.DateOnly(*prev.CapturedAt)
			endDay := storage.DateOnly(*cur.CapturedAt)
			daysBetween := int(endDay.Sub(startDay).Hours() / 24)
			if daysBetween < 1 {
				daysBetween = 1
			}
			perDay := round3(totalDelta / float64(daysBetween))
			for d := 1; d <= daysBetween; d++ {
				out = append(out, DayValue{
					Day:       startDay.AddDate(0, 0, d),
					UsageUnit: usageUnit,
					Value:     perDay,
					Source:    SourceMeter,
				})
			}
		}
	}
	return out
}

// ApportionBilledPeriods spreads each approved billed_usage total evenly
// across the calendar days in [periodStart, periodEnd].
func ApportionBilledPeriods(readings []storage.MeterReading) []DayValue {
	var out []DayValue
	for _, r := range readings {
		if r.EntryType != storage.EntryBilledUsage || r.PeriodStart == nil || r.PeriodEnd == nil {
			continue
		}
		startDay := storage.DateOnly(*r.PeriodStart)
		endDay := storage.DateOnly(*r.PeriodEnd)
		if endDay.Before(startDay) {
			continue
		}
		days := int(endDay.Sub(startDay).Hours()/24) + 1
		if days < 1 {
			days = 1
		}
		perDay := round3(r.Value / float64(days))
		for d := 0; d < days; d++ {
			out = append(out, DayValue{
				Day:       startDay.AddDate(0, 0, d),
				UsageUnit: r.ReadingUnit,
				Value:     perDay,
				Source:    SourceBill,
			})
		}
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
