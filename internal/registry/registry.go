// Package registry holds the static unit and meter-identifier registries.
// Units are provisioned up front; the meter registry maps physical meter
// identifiers (normalized to digits only) to the unit and utility they meter.
package registry

import (
	"encoding/json"
	"os"
	"strings"
)

// Utility types a unit may report.
const (
	UtilityElectricity = "electricity"
	UtilityGas         = "gas"
	UtilityWater       = "water"
)

// Reading units.
const (
	UnitKWh = "kWh"
	UnitM3  = "m3"
	UnitGJ  = "GJ"
)

// KnownUtility reports whether s names a supported utility type.
func KnownUtility(s string) bool {
	switch s {
	case UtilityElectricity, UtilityGas, UtilityWater:
		return true
	}
	return false
}

type UnitDescriptor struct {
	Name      string   `json:"name"`
	Location  string   `json:"location"`
	Utilities []string `json:"utilities"`
}

// MeterMapping ties a physical meter identifier to a unit and utility.
// MeterID is stored digits-only; lookups must normalize first.
type MeterMapping struct {
	MeterID     string `json:"meterId"`
	UnitName    string `json:"unitName"`
	UtilityType string `json:"utilityType"`
	ReadingUnit string `json:"readingUnit"`
}

const (
	unitsEnv  = "METERLOG_UNITS_JSON"
	metersEnv = "METERLOG_METERS_JSON"
)

func defaultUnits() []UnitDescriptor {
	return []UnitDescriptor{
		{
			Name:      "main-house",
			Location:  "Vancouver, BC",
			Utilities: []string{UtilityElectricity, UtilityGas, UtilityWater},
		},
		{
			Name:      "laneway",
			Location:  "Vancouver, BC",
			Utilities: []string{UtilityElectricity},
		},
	}
}

func defaultMeters() []MeterMapping {
	return []MeterMapping{
		{MeterID: "170254891", UnitName: "main-house", UtilityType: UtilityElectricity, ReadingUnit: UnitKWh},
		{MeterID: "170318467", UnitName: "laneway", UtilityType: UtilityElectricity, ReadingUnit: UnitKWh},
		{MeterID: "004728156", UnitName: "main-house", UtilityType: UtilityGas, ReadingUnit: UnitM3},
	}
}

// Units returns the provisioned units, honoring the env JSON override.
func Units() []UnitDescriptor {
	raw := os.Getenv(unitsEnv)
	if raw == "" {
		return defaultUnits()
	}
	var out []UnitDescriptor
	if err := json.Unmarshal([]byte(raw), &out); err != nil || len(out) == 0 {
		return defaultUnits()
	}
	return out
}

func GetUnit(name string) (UnitDescriptor, bool) {
	for _, u := range Units() {
		if u.Name == name {
			return u, true
		}
	}
	return UnitDescriptor{}, false
}

// UnitAllows reports whether the named unit may report the given utility.
func UnitAllows(name, utility string) bool {
	u, ok := GetUnit(name)
	if !ok {
		return false
	}
	for _, ut := range u.Utilities {
		if ut == utility {
			return true
		}
	}
	return false
}

// Meters returns the meter identifier mappings, honoring the env JSON override.
func Meters() []MeterMapping {
	raw := os.Getenv(metersEnv)
	if raw == "" {
		return defaultMeters()
	}
	var out []MeterMapping
	if err := json.Unmarshal([]byte(raw), &out); err != nil || len(out) == 0 {
		return defaultMeters()
	}
	return out
}

// LookupMeter resolves a digits-only meter identifier to its mapping.
func LookupMeter(normalizedID string) (MeterMapping, bool) {
	if normalizedID == "" {
		return MeterMapping{}, false
	}
	for _, m := range Meters() {
		if NormalizeMeterID(m.MeterID) == normalizedID {
			return m, true
		}
	}
	return MeterMapping{}, false
}

// NormalizeMeterID strips everything but digits from an identifier.
func NormalizeMeterID(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
