package ingest

import (
	"fmt"
	"math"
	"time"

	"github.com/bher20/meterlog/internal/registry"
)

// Physically plausible consumption ceilings per utility, in reading units per
// day. Intentionally generous upper bounds, not tight statistical limits.
var dailyCeilings = map[string]float64{
	registry.UtilityElectricity: 250, // kWh
	registry.UtilityGas:         80,  // m3
	registry.UtilityWater:       20,  // m3
}

// HistoryWindow returns how many prior approved meter reads the normalizer
// wants for a utility. Gas billing cycles are noisier, so it looks further
// back.
func HistoryWindow(utility string) int {
	if utility == registry.UtilityGas {
		return 18
	}
	return 12
}

// HistoryPoint is one prior approved cumulative reading, value at a capture
// time. Normalization is a pure function over an explicit ordered history so
// it can be tested without a live store.
type HistoryPoint struct {
	CapturedAt time.Time
	Value      float64
}

type OutcomeStatus int

const (
	// Accepted means the raw value was taken unchanged.
	Accepted OutcomeStatus = iota
	// Corrected means a digit-correction candidate replaced the raw value.
	Corrected
	// Flagged means no candidate was plausible; nothing was accepted.
	Flagged
)

// Outcome is the normalizer's decision. Value holds the accepted or corrected
// reading; Note explains a correction; Reason explains a flag.
type Outcome struct {
	Status OutcomeStatus
	Value  float64
	Note   string
	Reason string
}

const minElapsedDays = 1.0 / 24.0

// NormalizeReading validates a freshly captured cumulative reading against
// rolling history. History must be ordered newest capture first; only the
// points the caller fetched (HistoryWindow) participate. The decision is
// deterministic and has no side effects.
func NormalizeReading(utility string, capturedAt time.Time, rawValue float64, history []HistoryPoint) Outcome {
	if len(history) == 0 {
		// Cold start: nothing to compare against.
		return Outcome{Status: Accepted, Value: rawValue}
	}

	prev := history[0]
	elapsedDays := capturedAt.Sub(prev.CapturedAt).Hours() / 24
	if elapsedDays < minElapsedDays {
		elapsedDays = minElapsedDays
	}

	ceiling, ok := dailyCeilings[utility]
	if !ok {
		ceiling = dailyCeilings[registry.UtilityElectricity]
	}
	maxPlausibleDelta := ceiling * elapsedDays

	expectedRate, haveRate := expectedDailyRate(history)
	expectedDelta := expectedRate * elapsedDays

	// Acceptance band around the expected delta. Without any historical rate
	// the band degrades to [0, maxPlausibleDelta].
	lo, hi := 0.0, maxPlausibleDelta
	if haveRate {
		tolerance := math.Max(math.Max(0.75*expectedDelta, expectedRate), 2)
		lo = math.Max(0, expectedDelta-tolerance)
		hi = math.Min(maxPlausibleDelta, expectedDelta+tolerance)
	}

	rawDelta := rawValue - prev.Value
	if rawDelta >= lo && rawDelta <= hi {
		return Outcome{Status: Accepted, Value: rawValue}
	}

	best, rawScore, rawEligible := pickCandidate(rawValue, prev.Value, expectedDelta, lo, hi, maxPlausibleDelta)
	if best == nil {
		reason := fmt.Sprintf(
			"implausible reading %.3f: previous %.3f %.2f days earlier, delta %.3f, expected ~%.3f (max plausible %.3f)",
			rawValue, prev.Value, elapsedDays, rawDelta, expectedDelta, maxPlausibleDelta)
		return Outcome{Status: Flagged, Value: rawValue, Reason: reason}
	}

	if best.value != rawValue {
		// Correct only when materially better than keeping the raw value, or
		// when the raw value cannot stand at all.
		if !rawEligible || rawDelta > maxPlausibleDelta || best.score < 0.25*rawScore {
			note := fmt.Sprintf("corrected %.3f to %.3f (trailing-digit artifact; delta %.3f vs expected ~%.3f)",
				rawValue, best.value, best.value-prev.Value, expectedDelta)
			return Outcome{Status: Corrected, Value: best.value, Note: note}
		}
	}
	return Outcome{Status: Accepted, Value: rawValue}
}

// expectedDailyRate computes the recency-weighted mean daily rate from
// consecutive historical deltas. History is newest first; interval 0 is the
// most recent and carries the highest weight.
func expectedDailyRate(history []HistoryPoint) (float64, bool) {
	if len(history) < 2 {
		return 0, false
	}
	intervals := len(history) - 1
	var weightedSum, weightTotal float64
	for i := 0; i < intervals; i++ {
		newer, older := history[i], history[i+1]
		dayDelta := newer.CapturedAt.Sub(older.CapturedAt).Hours() / 24
		if dayDelta < minElapsedDays {
			dayDelta = minElapsedDays
		}
		rate := (newer.Value - older.Value) / dayDelta
		if rate < 0 {
			continue // approved history should be non-decreasing; skip glitches
		}
		weight := math.Max(float64(intervals-i), 1)
		weightedSum += weight * rate
		weightTotal += weight
	}
	if weightTotal == 0 {
		return 0, false
	}
	return weightedSum / weightTotal, true
}

type candidate struct {
	value float64
	score float64
}

// correction candidates: the raw value plus variants with the last one or two
// digits truncated, the common photo artifact of reading a sub-dial or
// decimal marker as an extra trailing digit.
func digitCandidates(raw float64) []float64 {
	return []float64{raw, math.Floor(raw / 10), math.Floor(raw / 100)}
}

// pickCandidate scores each candidate by closeness of its delta to the
// expected delta (with a penalty for anything other than the raw value) and
// returns the lowest-scoring one whose delta is inside the band or at least
// under the absolute ceiling. It also reports the raw value's own score and
// whether the raw value was eligible at all.
func pickCandidate(raw, prev, expectedDelta, lo, hi, ceiling float64) (best *candidate, rawScore float64, rawEligible bool) {
	for _, v := range digitCandidates(raw) {
		if v < prev {
			continue // corrections never go below the previous cumulative value
		}
		delta := v - prev
		score := math.Abs(delta - expectedDelta)
		if v != raw {
			score *= 1.1
		}
		inBand := delta >= lo && delta <= hi
		underCeiling := delta <= ceiling
		if v == raw {
			rawScore = score
			rawEligible = underCeiling
		}
		if !inBand && !underCeiling {
			continue
		}
		if best == nil || score < best.score {
			best = &candidate{value: v, score: score}
		}
	}
	return best, rawScore, rawEligible
}
