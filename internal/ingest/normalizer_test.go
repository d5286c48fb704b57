package ingest

import (
	"testing"
	"time"

	"github.com/bher20/meterlog/internal/registry"
)

// steadyHistory builds a newest-first history rising by ratePerDay every
// stepDays, ending at endValue on day 0 of the returned base time.
func steadyHistory(endValue, ratePerDay float64, stepDays, points int) (time.Time, []HistoryPoint) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	history := make([]HistoryPoint, points)
	for i := 0; i < points; i++ {
		history[i] = HistoryPoint{
			CapturedAt: base.AddDate(0, 0, -i*stepDays),
			Value:      endValue - float64(i*stepDays)*ratePerDay,
		}
	}
	return base, history
}

func TestNormalizeColdStartAccepts(t *testing.T) {
	out := NormalizeReading(registry.UtilityElectricity, time.Now(), 12345, nil)
	if out.Status != Accepted {
		t.Fatalf("cold start: expected Accepted, got %v (%s)", out.Status, out.Reason)
	}
	if out.Value != 12345 {
		t.Errorf("cold start: value changed to %v", out.Value)
	}
}

func TestNormalizePlausibleReadingAccepted(t *testing.T) {
	base, history := steadyHistory(1095, 11, 10, 4)
	next := base.AddDate(0, 0, 1)

	out := NormalizeReading(registry.UtilityElectricity, next, 1106, history)
	if out.Status != Accepted {
		t.Fatalf("expected Accepted, got %v (note=%q reason=%q)", out.Status, out.Note, out.Reason)
	}
	if out.Value != 1106 {
		t.Errorf("value = %v, want 1106", out.Value)
	}
}

func TestNormalizeTrailingDigitCorrected(t *testing.T) {
	// A reading of 11050 against a history around 1095 at ~11/day is the
	// classic extra-trailing-digit artifact; 11050/10 = 1105 fits the trend.
	base, history := steadyHistory(1095, 11, 10, 4)
	next := base.AddDate(0, 0, 1)

	out := NormalizeReading(registry.UtilityElectricity, next, 11050, history)
	if out.Status != Corrected {
		t.Fatalf("expected Corrected, got %v (reason=%q)", out.Status, out.Reason)
	}
	if out.Value != 1105 {
		t.Errorf("corrected value = %v, want 1105", out.Value)
	}
	if out.Note == "" {
		t.Errorf("correction must carry an explanatory note")
	}

	// The corrected value must itself pass normalization unchanged.
	again := NormalizeReading(registry.UtilityElectricity, next, out.Value, history)
	if again.Status != Accepted || again.Value != 1105 {
		t.Errorf("corrected value did not re-validate: %+v", again)
	}
}

func TestNormalizeCorrectionNeverBelowPrevious(t *testing.T) {
	// 860 is below the previous cumulative value and every truncation of it
	// is lower still, so there is nothing plausible to accept.
	base, history := steadyHistory(1095, 11, 10, 4)
	next := base.AddDate(0, 0, 1)

	out := NormalizeReading(registry.UtilityElectricity, next, 860, history)
	if out.Status != Flagged {
		t.Fatalf("expected Flagged, got %v (value=%v)", out.Status, out.Value)
	}
	if out.Reason == "" {
		t.Errorf("flag must carry a reason")
	}
	if out.Value != 860 {
		t.Errorf("flagged outcome must preserve the raw value, got %v", out.Value)
	}
}

func TestNormalizeNoCandidateFlagged(t *testing.T) {
	// 99999 is implausible raw, and both truncations land either above the
	// ceiling or below the previous value.
	base, history := steadyHistory(1095, 11, 10, 4)
	next := base.AddDate(0, 0, 1)

	out := NormalizeReading(registry.UtilityElectricity, next, 99999, history)
	if out.Status != Flagged {
		t.Fatalf("expected Flagged, got %v value=%v note=%q", out.Status, out.Value, out.Note)
	}
}

func TestNormalizeSlightlyHighButPlausibleAccepted(t *testing.T) {
	// Delta 30 vs expected 11 is outside the tolerance band but physically
	// plausible, and no truncation survives the monotonicity rule. The raw
	// value must stand rather than be flagged.
	base, history := steadyHistory(1095, 11, 10, 4)
	next := base.AddDate(0, 0, 1)

	out := NormalizeReading(registry.UtilityElectricity, next, 1125, history)
	if out.Status != Accepted {
		t.Fatalf("expected Accepted, got %v (reason=%q)", out.Status, out.Reason)
	}
	if out.Value != 1125 {
		t.Errorf("value = %v, want 1125", out.Value)
	}
}

func TestNormalizeSingleHistoryPointUsesCeilingOnly(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	history := []HistoryPoint{{CapturedAt: base, Value: 1000}}
	next := base.AddDate(0, 0, 2)

	// No rate yet, so anything under 2 days * 250 kWh passes.
	out := NormalizeReading(registry.UtilityElectricity, next, 1300, history)
	if out.Status != Accepted {
		t.Fatalf("expected Accepted under ceiling, got %v (%s)", out.Status, out.Reason)
	}

	out = NormalizeReading(registry.UtilityElectricity, next, 20000, history)
	if out.Status != Flagged {
		t.Fatalf("expected Flagged over ceiling, got %v value=%v", out.Status, out.Value)
	}
}

func TestNormalizeShortElapsedClamped(t *testing.T) {
	// A capture ten minutes after the previous one must not divide by a near
	// zero interval; the elapsed time is floored at one hour.
	base, history := steadyHistory(1095, 11, 10, 4)
	next := base.Add(10 * time.Minute)

	out := NormalizeReading(registry.UtilityElectricity, next, 1096, history)
	if out.Status != Accepted {
		t.Fatalf("expected Accepted, got %v (%s)", out.Status, out.Reason)
	}
}

func TestHistoryWindowPerUtility(t *testing.T) {
	if got := HistoryWindow(registry.UtilityGas); got != 18 {
		t.Errorf("gas window = %d, want 18", got)
	}
	if got := HistoryWindow(registry.UtilityElectricity); got != 12 {
		t.Errorf("electricity window = %d, want 12", got)
	}
	if got := HistoryWindow(registry.UtilityWater); got != 12 {
		t.Errorf("water window = %d, want 12", got)
	}
}
