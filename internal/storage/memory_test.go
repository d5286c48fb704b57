package storage

import (
	"context"
	"testing"
	"time"
)

func TestBillChargeUpsertKeyedByPeriod(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)

	first := BillCharge{
		ID: "a", UnitID: "u1", UtilityType: "electricity", BillID: "B-1",
		PeriodStart: &start, PeriodEnd: &end, TotalCAD: 88.5,
	}
	if err := m.UpsertBillCharge(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Re-processing the same bill updates in place, keeping the original ID.
	second := first
	second.ID = "b"
	second.TotalCAD = 90.0
	if err := m.UpsertBillCharge(ctx, second); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	charges, err := m.ListBillCharges(ctx, "u1", "electricity")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(charges) != 1 {
		t.Fatalf("charges = %d, want 1 after upsert", len(charges))
	}
	if charges[0].ID != "a" || charges[0].TotalCAD != 90.0 {
		t.Errorf("charge = %+v, want id a total 90", charges[0])
	}

	// A different period for the same bill id is a distinct fact.
	nextStart := end.AddDate(0, 0, 1)
	nextEnd := nextStart.AddDate(0, 0, 29)
	third := BillCharge{
		ID: "c", UnitID: "u1", UtilityType: "electricity", BillID: "B-1",
		PeriodStart: &nextStart, PeriodEnd: &nextEnd, TotalCAD: 75.0,
	}
	if err := m.UpsertBillCharge(ctx, third); err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	charges, _ = m.ListBillCharges(ctx, "u1", "electricity")
	if len(charges) != 2 {
		t.Errorf("charges = %d, want 2 distinct periods", len(charges))
	}
}

func TestReadingsAppendOnlyWithStatusUpdate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	captured := time.Now()

	r := MeterReading{
		ID: "r1", UnitID: "u1", UtilityType: "electricity",
		EntryType: EntryMeterRead, CapturedAt: &captured,
		Value: 1000, Status: ReviewPending,
	}
	if err := m.AppendReading(ctx, r); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Pending reads are invisible to history.
	reads, _ := m.RecentMeterReads(ctx, "u1", "electricity", 10)
	if len(reads) != 0 {
		t.Errorf("pending reading visible: %v", reads)
	}

	if err := m.SetReadingStatus(ctx, "r1", ReviewApproved); err != nil {
		t.Fatalf("set status: %v", err)
	}
	reads, _ = m.RecentMeterReads(ctx, "u1", "electricity", 10)
	if len(reads) != 1 {
		t.Fatalf("approved reading not visible")
	}

	// Unknown ids are a no-op, matching the SQL backends.
	if err := m.SetReadingStatus(ctx, "missing", ReviewApproved); err != nil {
		t.Errorf("unknown id should no-op, got %v", err)
	}
}

func TestRecentMeterReadsNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		captured := base.AddDate(0, 0, i)
		if err := m.AppendReading(ctx, MeterReading{
			ID: captured.Format("2006-01-02"), UnitID: "u1", UtilityType: "gas",
			EntryType: EntryMeterRead, CapturedAt: &captured,
			Value: float64(1000 + i), Status: ReviewApproved,
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	reads, err := m.RecentMeterReads(ctx, "u1", "gas", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(reads) != 3 {
		t.Fatalf("reads = %d, want limit 3", len(reads))
	}
	if reads[0].Value != 1004 || reads[2].Value != 1002 {
		t.Errorf("not newest first: %v, %v", reads[0].Value, reads[2].Value)
	}
}
