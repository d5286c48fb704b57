// Package costs applies tiered residential utility rate schedules to usage
// buckets over arbitrary windows, producing CAD cost projections. Rate
// constants are effective-dated assumptions and are surfaced with every
// estimate rather than hidden.
package costs

import (
	"fmt"
	"math"

	"github.com/bher20/meterlog/internal/registry"
)

// Electricity: two-tier residential schedule.
const (
	elecBasicPerDay     = 0.2253  // CAD/day
	elecTier1PerKWh     = 0.1097  // CAD/kWh
	elecTier2PerKWh     = 0.1408  // CAD/kWh
	elecTier1KWhPerDay  = 22.1918 // tier 1 allowance per day
	elecEffectiveString = "electricity rates effective 2025-04-01: basic $0.2253/day, tier 1 $0.1097/kWh up to 22.1918 kWh/day, tier 2 $0.1408/kWh"
)

// Gas: per-gigajoule delivery schedule.
const (
	gasBasicPerDay      = 0.4128 // CAD/day
	gasDeliveryPerGJ    = 6.005
	gasStoragePerGJ     = 1.345 // storage and transport
	gasCommodityPerGJ   = 2.015
	gasLevyPct          = 0.004  // clean-energy levy on pre-tax subtotal
	gasM3ToGJ           = 0.0385 // estimated heat value, GJ per m3
	gasEffectiveString  = "gas rates effective 2025-04-01: basic $0.4128/day, delivery $6.005/GJ, storage & transport $1.345/GJ, commodity $2.015/GJ, clean-energy levy 0.4%"
	gasConversionString = "m3 converted to GJ at estimated 0.0385 GJ/m3 (billed GJ preferred when present)"
)

const taxRate = 0.05

// UsageBucket is a usage total in one reading unit.
type UsageBucket struct {
	Unit  string  `json:"unit"`
	Value float64 `json:"value"`
}

// LineItem is one itemized component of an estimate.
type LineItem struct {
	Label string  `json:"label"`
	CAD   float64 `json:"cad"`
}

// Estimate is an itemized CAD projection for a window.
type Estimate struct {
	TotalCAD    float64    `json:"total_cad"`
	FixedCAD    float64    `json:"fixed_cad"`
	UsageCAD    float64    `json:"usage_cad"`
	LevyCAD     float64    `json:"levy_cad,omitempty"`
	TaxCAD      float64    `json:"tax_cad"`
	Items       []LineItem `json:"items"`
	Assumptions []string   `json:"assumptions"`
}

// EstimateForUtility dispatches to the rate schedule for the utility, or
// returns nil when no schedule exists (water) or days <= 0.
func EstimateForUtility(utility string, buckets []UsageBucket, days int) *Estimate {
	switch utility {
	case registry.UtilityElectricity:
		return EstimateElectricity(sumUnit(buckets, registry.UnitKWh), days)
	case registry.UtilityGas:
		return EstimateGas(buckets, days)
	default:
		return nil
	}
}

// EstimateElectricity applies the two-tier residential electricity schedule:
// a basic daily charge, tier 1 energy up to the per-day allowance times the
// window length, tier 2 for the remainder, and tax on the subtotal.
func EstimateElectricity(kwh float64, days int) *Estimate {
	if days <= 0 {
		return nil
	}
	kwh = round3(math.Max(kwh, 0))

	fixed := roundCents(elecBasicPerDay * float64(days))
	tier1Cap := round3(elecTier1KWhPerDay * float64(days))
	tier1KWh := math.Min(kwh, tier1Cap)
	tier2KWh := math.Max(kwh-tier1Cap, 0)
	tier1 := roundCents(tier1KWh * elecTier1PerKWh)
	tier2 := roundCents(tier2KWh * elecTier2PerKWh)

	subtotal := fixed + tier1 + tier2
	tax := roundCents(subtotal * taxRate)

	return &Estimate{
		TotalCAD: roundCents(subtotal + tax),
		FixedCAD: fixed,
		UsageCAD: roundCents(tier1 + tier2),
		TaxCAD:   tax,
		Items: []LineItem{
			{Label: fmt.Sprintf("basic charge (%d days)", days), CAD: fixed},
			{Label: fmt.Sprintf("tier 1 energy (%.3f kWh)", round3(tier1KWh)), CAD: tier1},
			{Label: fmt.Sprintf("tier 2 energy (%.3f kWh)", round3(tier2KWh)), CAD: tier2},
			{Label: "tax (5%)", CAD: tax},
		},
		Assumptions: []string{elecEffectiveString, "5% tax applied to subtotal"},
	}
}

// EstimateGas applies the per-gigajoule gas schedule. Billed GJ buckets are
// preferred over meter m3 buckets when both cover the window; m3 is converted
// with the estimated heat value otherwise.
func EstimateGas(buckets []UsageBucket, days int) *Estimate {
	if days <= 0 {
		return nil
	}

	assumptions := []string{gasEffectiveString, "5% tax applied to subtotal plus levy"}
	gj := sumUnit(buckets, registry.UnitGJ)
	if gj == 0 {
		if m3 := sumUnit(buckets, registry.UnitM3); m3 > 0 {
			gj = m3 * gasM3ToGJ
			assumptions = append(assumptions, gasConversionString)
		}
	}
	gj = round3(math.Max(gj, 0))

	fixed := roundCents(gasBasicPerDay * float64(days))
	delivery := roundCents(gj * gasDeliveryPerGJ)
	storageTransport := roundCents(gj * gasStoragePerGJ)
	commodity := roundCents(gj * gasCommodityPerGJ)

	subtotal := fixed + delivery + storageTransport + commodity
	levy := roundCents(subtotal * gasLevyPct)
	tax := roundCents((subtotal + levy) * taxRate)

	return &Estimate{
		TotalCAD: roundCents(subtotal + levy + tax),
		FixedCAD: fixed,
		UsageCAD: roundCents(delivery + storageTransport + commodity),
		LevyCAD:  levy,
		TaxCAD:   tax,
		Items: []LineItem{
			{Label: fmt.Sprintf("basic charge (%d days)", days), CAD: fixed},
			{Label: fmt.Sprintf("delivery (%.3f GJ)", gj), CAD: delivery},
			{Label: fmt.Sprintf("storage & transport (%.3f GJ)", gj), CAD: storageTransport},
			{Label: fmt.Sprintf("commodity (%.3f GJ)", gj), CAD: commodity},
			{Label: "clean-energy levy (0.4%)", CAD: levy},
			{Label: "tax (5%)", CAD: tax},
		},
		Assumptions: assumptions,
	}
}

func sumUnit(buckets []UsageBucket, unit string) float64 {
	var total float64
	for _, b := range buckets {
		if b.Unit == unit {
			total += b.Value
		}
	}
	return total
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
