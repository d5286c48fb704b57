package series

import (
	"context"
	"testing"
	"time"

	"github.com/bher20/meterlog/internal/registry"
	"github.com/bher20/meterlog/internal/storage"
)

const testUnitID = "unit-1"

func seedDailySeries(t *testing.T, st storage.Storage, utility string, now time.Time, perDay float64, days int) {
	t.Helper()
	today := storage.DateOnly(now)
	rows := make([]storage.DailyConsumption, 0, days)
	for i := 0; i < days; i++ {
		rows = append(rows, storage.DailyConsumption{
			UnitID:      testUnitID,
			UtilityType: utility,
			Day:         today.AddDate(0, 0, -i),
			UsageUnit:   registry.UnitKWh,
			Value:       perDay,
			Source:      SourceMeter,
		})
	}
	if err := st.ReplaceDailySeries(context.Background(), testUnitID, utility, rows); err != nil {
		t.Fatalf("seed series: %v", err)
	}
}

func TestComputeStandardWindows(t *testing.T) {
	st := storage.NewMemory()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	seedDailySeries(t, st, registry.UtilityElectricity, now, 10, 100)

	stats, err := Compute(context.Background(), st, testUnitID, registry.UtilityElectricity, now)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	cases := map[string]float64{
		"1d":            10,
		"7d":            70,
		"30d":           300,
		"90d":           900,
		"month_to_date": 150, // March 1 through March 15
		"projected_30d": 300, // 70 / 7 * 30
	}
	for name, want := range cases {
		w, ok := stats.Windows[name]
		if !ok {
			t.Errorf("window %q missing", name)
			continue
		}
		if got := w.Totals[registry.UnitKWh]; got != want {
			t.Errorf("window %q total = %v, want %v", name, got, want)
		}
		if w.Cost == nil {
			t.Errorf("window %q has no cost estimate for electricity", name)
		}
	}
	if stats.Windows["month_to_date"].Days != 15 {
		t.Errorf("month_to_date days = %d, want 15", stats.Windows["month_to_date"].Days)
	}
}

func TestComputeSinceLastBill(t *testing.T) {
	st := storage.NewMemory()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	seedDailySeries(t, st, registry.UtilityElectricity, now, 10, 100)

	periodEnd := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	periodStart := periodEnd.AddDate(0, 0, -29)
	err := st.UpsertBillCharge(context.Background(), storage.BillCharge{
		ID:          "c1",
		UnitID:      testUnitID,
		UtilityType: registry.UtilityElectricity,
		BillID:      "B-1",
		PeriodKey:   storage.ChargePeriodKey(&periodStart, &periodEnd),
		PeriodStart: &periodStart,
		PeriodEnd:   &periodEnd,
		TotalCAD:    88.5,
	})
	if err != nil {
		t.Fatalf("seed charge: %v", err)
	}

	stats, err := Compute(context.Background(), st, testUnitID, registry.UtilityElectricity, now)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	w, ok := stats.Windows["since_last_bill"]
	if !ok {
		t.Fatal("since_last_bill window missing")
	}
	// March 6 through March 15 inclusive.
	if w.Days != 10 {
		t.Errorf("days = %d, want 10", w.Days)
	}
	if got := w.Totals[registry.UnitKWh]; got != 100 {
		t.Errorf("total = %v, want 100", got)
	}
}

func TestComputeNoBillOmitsWindow(t *testing.T) {
	st := storage.NewMemory()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	seedDailySeries(t, st, registry.UtilityElectricity, now, 10, 20)

	stats, err := Compute(context.Background(), st, testUnitID, registry.UtilityElectricity, now)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if _, ok := stats.Windows["since_last_bill"]; ok {
		t.Errorf("since_last_bill present without any charge")
	}
}

func TestComputeIntervalTrend(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	// Three reads: 8/day then 12/day. Trend is +50%.
	times := []time.Time{
		now.AddDate(0, 0, -20),
		now.AddDate(0, 0, -10),
		now,
	}
	values := []float64{1000, 1080, 1200}
	for i := range times {
		captured := times[i]
		err := st.AppendReading(ctx, storage.MeterReading{
			ID:          storage.DateOnly(captured).Format("2006-01-02"),
			UnitID:      testUnitID,
			UtilityType: registry.UtilityElectricity,
			EntryType:   storage.EntryMeterRead,
			CapturedAt:  &captured,
			Value:       values[i],
			ReadingUnit: registry.UnitKWh,
			Status:      storage.ReviewApproved,
		})
		if err != nil {
			t.Fatalf("seed reading: %v", err)
		}
	}

	stats, err := Compute(ctx, st, testUnitID, registry.UtilityElectricity, now)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if stats.LatestDelta == nil {
		t.Fatal("latest interval missing")
	}
	if stats.LatestDelta.RatePerDay != 12 {
		t.Errorf("latest rate = %v, want 12", stats.LatestDelta.RatePerDay)
	}
	if stats.TrendPct == nil {
		t.Fatal("trend missing")
	}
	if *stats.TrendPct != 50 {
		t.Errorf("trend = %v, want 50", *stats.TrendPct)
	}
}

func TestRebuildReplacesDerivedRows(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	t1 := t0.AddDate(0, 0, 10)
	for _, p := range []struct {
		at time.Time
		v  float64
	}{{t0, 1000}, {t1, 1100}} {
		captured := p.at
		err := st.AppendReading(ctx, storage.MeterReading{
			ID:          captured.Format(time.RFC3339),
			UnitID:      testUnitID,
			UtilityType: registry.UtilityElectricity,
			EntryType:   storage.EntryMeterRead,
			CapturedAt:  &captured,
			Value:       p.v,
			ReadingUnit: registry.UnitKWh,
			Status:      storage.ReviewApproved,
		})
		if err != nil {
			t.Fatalf("seed reading: %v", err)
		}
	}

	if err := Rebuild(ctx, st, testUnitID, registry.UtilityElectricity); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	rows, err := st.DailySeries(ctx, testUnitID, registry.UtilityElectricity,
		t0.AddDate(0, 0, -1), t1.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("daily series: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("derived %d rows, want 10", len(rows))
	}
	for _, r := range rows {
		if r.Value != 10 {
			t.Errorf("day %s value %v, want 10", r.Day.Format("2006-01-02"), r.Value)
		}
	}

	// Rebuilding again must not duplicate rows.
	if err := Rebuild(ctx, st, testUnitID, registry.UtilityElectricity); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	rows, _ = st.DailySeries(ctx, testUnitID, registry.UtilityElectricity,
		t0.AddDate(0, 0, -1), t1.AddDate(0, 0, 1))
	if len(rows) != 10 {
		t.Errorf("after second rebuild %d rows, want 10", len(rows))
	}
}
