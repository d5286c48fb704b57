package ingest

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Entry is one freshly extracted reading candidate, validated but not yet
// persisted. Every field originates from untrusted extraction output.
type Entry struct {
	EntryType   string     `json:"entry_type"`
	UtilityType string     `json:"utility_type"`
	CapturedAt  *time.Time `json:"captured_at,omitempty"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
	Value       float64    `json:"reading_value"`
	ReadingUnit string     `json:"reading_unit"`
	Confidence  float64    `json:"confidence"`
	Evidence    string     `json:"evidence,omitempty"`
	BillID      string     `json:"bill_id,omitempty"`
	IsOpening   bool       `json:"is_opening,omitempty"`
}

// Removal records a dropped entry and why it was dropped.
type Removal struct {
	Entry  Entry  `json:"entry"`
	Reason string `json:"reason"`
}

// DedupBilledUsage removes billed_usage entries that merely restate a meter
// delta already present in the same batch: two or more meter reads sharing
// utility, reading unit and bill id whose earliest-to-latest delta is close
// to the billed total. Entries with mismatched units are never compared; unit
// conversion is apportionment's concern, not deduplication's.
func DedupBilledUsage(entries []Entry) ([]Entry, []Removal) {
	type groupKey struct {
		utility, unit, billID string
	}
	groups := make(map[groupKey][]Entry)
	for _, e := range entries {
		if e.EntryType == EntryMeterRead && e.CapturedAt != nil {
			k := groupKey{e.UtilityType, e.ReadingUnit, e.BillID}
			groups[k] = append(groups[k], e)
		}
	}

	deltas := make(map[groupKey]float64)
	for k, g := range groups {
		if len(g) < 2 {
			continue
		}
		sort.Slice(g, func(i, j int) bool { return g[i].CapturedAt.Before(*g[j].CapturedAt) })
		delta := g[len(g)-1].Value - g[0].Value
		if delta >= 0 {
			deltas[k] = delta
		}
	}

	kept := make([]Entry, 0, len(entries))
	var removed []Removal
	for _, e := range entries {
		if e.EntryType == EntryBilledUsage {
			k := groupKey{e.UtilityType, e.ReadingUnit, e.BillID}
			if delta, ok := deltas[k]; ok && closeEnough(delta, e.Value) {
				removed = append(removed, Removal{
					Entry: e,
					Reason: fmt.Sprintf("billed usage %.3f %s restates the %.3f %s meter delta for bill %q",
						e.Value, e.ReadingUnit, delta, e.ReadingUnit, e.BillID),
				})
				continue
			}
		}
		kept = append(kept, e)
	}
	return kept, removed
}

func closeEnough(delta, billed float64) bool {
	tolerance := math.Max(1, 0.02*math.Abs(billed))
	return math.Abs(delta-billed) <= tolerance
}
