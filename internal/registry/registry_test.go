package registry

import "testing"

func TestNormalizeMeterID(t *testing.T) {
	cases := map[string]string{
		"170254891":     "170254891",
		"17-025-4891":   "170254891",
		" 004 728 156 ": "004728156",
		"No. 17025489a": "17025489",
		"":              "",
	}
	for in, want := range cases {
		if got := NormalizeMeterID(in); got != want {
			t.Errorf("NormalizeMeterID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLookupMeterRequiresNormalizedID(t *testing.T) {
	if _, ok := LookupMeter("170254891"); !ok {
		t.Error("known meter not found")
	}
	if _, ok := LookupMeter(""); ok {
		t.Error("empty id must not match")
	}
	if _, ok := LookupMeter("999999999"); ok {
		t.Error("unknown id matched")
	}
}

func TestUnitsJSONOverride(t *testing.T) {
	t.Setenv(unitsEnv, `[{"name":"cabin","location":"Whistler, BC","utilities":["electricity"]}]`)
	units := Units()
	if len(units) != 1 || units[0].Name != "cabin" {
		t.Fatalf("override not honored: %+v", units)
	}
	if !UnitAllows("cabin", UtilityElectricity) {
		t.Error("cabin should allow electricity")
	}
	if UnitAllows("cabin", UtilityWater) {
		t.Error("cabin should not allow water")
	}
}

func TestUnitsJSONOverrideInvalidFallsBack(t *testing.T) {
	t.Setenv(unitsEnv, `{broken`)
	units := Units()
	if len(units) != 2 {
		t.Fatalf("invalid override must fall back to defaults, got %+v", units)
	}
}

func TestMetersJSONOverride(t *testing.T) {
	t.Setenv(metersEnv, `[{"meterId":"555000111","unitName":"main-house","utilityType":"water","readingUnit":"m3"}]`)
	m, ok := LookupMeter("555000111")
	if !ok {
		t.Fatal("override meter not found")
	}
	if m.UtilityType != UtilityWater {
		t.Errorf("utility = %q, want water", m.UtilityType)
	}
	if _, ok := LookupMeter("170254891"); ok {
		t.Error("default meters should be replaced by the override")
	}
}
