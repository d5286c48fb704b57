package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bher20/meterlog/internal/registry"
	"github.com/bher20/meterlog/internal/storage"
)

func newTestService(t *testing.T) (*Service, storage.Storage) {
	t.Helper()
	st := storage.NewMemory()
	svc := NewService(st)
	if err := svc.SeedUnits(context.Background()); err != nil {
		t.Fatalf("seed units: %v", err)
	}
	return svc, st
}

func TestSeedUnitsIdempotent(t *testing.T) {
	svc, st := newTestService(t)
	if err := svc.SeedUnits(context.Background()); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	units, err := st.ListUnits(context.Background())
	if err != nil {
		t.Fatalf("list units: %v", err)
	}
	if len(units) != len(registry.Units()) {
		t.Errorf("seeded %d units, want %d", len(units), len(registry.Units()))
	}
}

func TestIngestManualPersistsAndRebuilds(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	t0 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	t1 := t0.AddDate(0, 0, 10)
	req := ManualRequest{
		UnitName: "main-house",
		Entries: []Entry{
			meterRead(registry.UtilityElectricity, registry.UnitKWh, "", t0, 1000),
			meterRead(registry.UtilityElectricity, registry.UnitKWh, "", t1, 1100),
		},
	}

	res, err := svc.IngestManual(ctx, req)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(res.Inserted) != 2 {
		t.Fatalf("inserted %d, want 2", len(res.Inserted))
	}
	for _, r := range res.Inserted {
		if r.Status != storage.ReviewApproved || r.Source != storage.SourceManual {
			t.Errorf("inserted row status=%s source=%s", r.Status, r.Source)
		}
	}

	// The daily series must exist immediately after the response.
	unit, _ := st.GetUnitByName(ctx, "main-house")
	rows, err := st.DailySeries(ctx, unit.ID, registry.UtilityElectricity, t0, t1.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("daily series: %v", err)
	}
	if len(rows) != 10 {
		t.Errorf("derived %d rows, want 10", len(rows))
	}

	stats, ok := res.Stats[registry.UtilityElectricity]
	if !ok || stats == nil {
		t.Fatal("response missing electricity stats")
	}
	if stats.LatestDelta == nil || stats.LatestDelta.Delta != 100 {
		t.Errorf("latest delta %+v, want 100", stats.LatestDelta)
	}
}

func TestIngestManualDedupsRestatedBill(t *testing.T) {
	svc, _ := newTestService(t)

	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.AddDate(0, 0, 30)
	req := ManualRequest{
		UnitName: "main-house",
		Entries: []Entry{
			meterRead(registry.UtilityElectricity, registry.UnitKWh, "B-1", t0, 1000),
			meterRead(registry.UtilityElectricity, registry.UnitKWh, "B-1", t1, 1450),
			billedUsage(registry.UtilityElectricity, registry.UnitKWh, "B-1", 450),
		},
	}
	res, err := svc.IngestManual(context.Background(), req)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(res.Removals) != 1 {
		t.Errorf("removals = %d, want 1", len(res.Removals))
	}
	if len(res.Inserted) != 2 {
		t.Errorf("inserted = %d, want 2", len(res.Inserted))
	}
}

func TestIngestManualValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	cases := []struct {
		name string
		req  ManualRequest
	}{
		{"unknown unit", ManualRequest{UnitName: "nowhere", Entries: []Entry{
			meterRead(registry.UtilityElectricity, registry.UnitKWh, "", now, 1)}}},
		{"empty batch", ManualRequest{UnitName: "main-house"}},
		{"disallowed utility", ManualRequest{UnitName: "laneway", Entries: []Entry{
			meterRead(registry.UtilityGas, registry.UnitM3, "", now, 1)}}},
		{"meter read without timestamp", ManualRequest{UnitName: "main-house", Entries: []Entry{
			{EntryType: EntryMeterRead, UtilityType: registry.UtilityElectricity, ReadingUnit: registry.UnitKWh, Value: 1}}}},
		{"billed usage without period", ManualRequest{UnitName: "main-house", Entries: []Entry{
			{EntryType: EntryBilledUsage, UtilityType: registry.UtilityElectricity, ReadingUnit: registry.UnitKWh, Value: 1}}}},
		{"negative value", ManualRequest{UnitName: "main-house", Entries: []Entry{
			meterRead(registry.UtilityElectricity, registry.UnitKWh, "", now, -5)}}},
	}
	for _, tc := range cases {
		_, err := svc.IngestManual(ctx, tc.req)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
}

func TestIngestManualNothingPersistedOnInvalidBatch(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	req := ManualRequest{
		UnitName: "main-house",
		Entries: []Entry{
			meterRead(registry.UtilityElectricity, registry.UnitKWh, "", t0, 1000),
			{EntryType: "bogus", UtilityType: registry.UtilityElectricity, ReadingUnit: registry.UnitKWh, Value: 1},
		},
	}
	if _, err := svc.IngestManual(ctx, req); err == nil {
		t.Fatal("expected validation failure")
	}

	unit, _ := st.GetUnitByName(ctx, "main-house")
	rows, err := st.ListApprovedReadings(ctx, unit.ID, registry.UtilityElectricity)
	if err != nil {
		t.Fatalf("list readings: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("%d rows persisted from a rejected batch, want 0", len(rows))
	}
}

func TestResolveReviewApprove(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	unit, _ := st.GetUnitByName(ctx, "main-house")

	captured := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	pending := storage.MeterReading{
		ID:          "pending-1",
		UnitID:      unit.ID,
		UtilityType: registry.UtilityElectricity,
		EntryType:   storage.EntryMeterRead,
		CapturedAt:  &captured,
		Value:       1000,
		ReadingUnit: registry.UnitKWh,
		Status:      storage.ReviewPending,
		Source:      storage.SourcePhoto,
	}
	if err := st.AppendReading(ctx, pending); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	rows, err := svc.PendingReviews(ctx)
	if err != nil || len(rows) != 1 {
		t.Fatalf("pending reviews = %v, %v", rows, err)
	}

	if err := svc.ResolveReview(ctx, "pending-1", "approve"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	r, _ := st.GetReading(ctx, "pending-1")
	if r.Status != storage.ReviewApproved {
		t.Errorf("status = %s, want approved", r.Status)
	}

	// Approving twice is invalid; the row is no longer pending.
	if err := svc.ResolveReview(ctx, "pending-1", "approve"); err == nil {
		t.Error("expected error approving a non-pending reading")
	}
}

func TestResolveReviewReject(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	unit, _ := st.GetUnitByName(ctx, "main-house")

	captured := time.Now()
	if err := st.AppendReading(ctx, storage.MeterReading{
		ID:          "pending-2",
		UnitID:      unit.ID,
		UtilityType: registry.UtilityElectricity,
		EntryType:   storage.EntryMeterRead,
		CapturedAt:  &captured,
		Value:       99999,
		ReadingUnit: registry.UnitKWh,
		Status:      storage.ReviewPending,
		Source:      storage.SourcePhoto,
	}); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	if err := svc.ResolveReview(ctx, "pending-2", "reject"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	r, _ := st.GetReading(ctx, "pending-2")
	if r.Status != storage.ReviewRejected {
		t.Errorf("status = %s, want rejected", r.Status)
	}

	// Rejected rows stay out of history used for validation.
	reads, _ := st.RecentMeterReads(ctx, unit.ID, registry.UtilityElectricity, 10)
	if len(reads) != 0 {
		t.Errorf("rejected reading visible in approved history: %v", reads)
	}
}

func TestResolveReviewBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.ResolveReview(ctx, "nope", "approve"); err == nil {
		t.Error("expected error for unknown reading")
	}
	if err := svc.ResolveReview(ctx, "nope", "shrug"); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestUnitStatsCoversAllUtilities(t *testing.T) {
	svc, _ := newTestService(t)
	stats, err := svc.UnitStats(context.Background(), "main-house")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, u := range []string{registry.UtilityElectricity, registry.UtilityGas, registry.UtilityWater} {
		if _, ok := stats[u]; !ok {
			t.Errorf("stats missing %s", u)
		}
	}
}
