package ingest

import (
	"regexp"
	"sort"
	"strings"

	"github.com/bher20/meterlog/internal/registry"
)

// digitRunRe pulls digit sequences of identifier length out of free text.
var digitRunRe = regexp.MustCompile(`\d{6,}`)

// RankFunc scores a normalized candidate; lower ranks are tried first.
// LookupFunc resolves a normalized identifier to a mapping. Both are
// swappable so new meter-format heuristics can be added without touching
// resolution control flow.
type (
	RankFunc   func(candidate string) int
	LookupFunc func(normalizedID string) (registry.MeterMapping, bool)
)

// Resolver picks the most likely true meter identifier among extraction
// candidates and resolves it through the registry.
type Resolver struct {
	Rank   RankFunc
	Lookup LookupFunc
}

// Known identifier prefixes for the deployment's electricity meters.
var knownMeterPrefixes = []string{"17"}

// DefaultRank prefers a known 9-digit prefix pattern, then plain 9-digit
// identifiers, then everything else.
func DefaultRank(candidate string) int {
	if len(candidate) == 9 {
		for _, p := range knownMeterPrefixes {
			if strings.HasPrefix(candidate, p) {
				return 0
			}
		}
		return 1
	}
	return 2
}

func NewResolver() *Resolver {
	return &Resolver{Rank: DefaultRank, Lookup: registry.LookupMeter}
}

// Resolve normalizes and ranks the primary identifier, the candidate list and
// any identifier-length digit runs found in the evidence text, then tries
// them in ranked order until one matches a known mapping. On failure it
// returns a MappingError listing every normalized candidate tried.
func (r *Resolver) Resolve(primary string, candidates []string, evidence string) (registry.MeterMapping, error) {
	all := make([]string, 0, len(candidates)+4)
	all = append(all, primary)
	all = append(all, candidates...)
	all = append(all, digitRunRe.FindAllString(evidence, -1)...)

	seen := make(map[string]bool)
	normalized := make([]string, 0, len(all))
	for _, c := range all {
		n := registry.NormalizeMeterID(c)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		normalized = append(normalized, n)
	}

	// Stable sort keeps first-occurrence order within a rank.
	sort.SliceStable(normalized, func(i, j int) bool {
		return r.Rank(normalized[i]) < r.Rank(normalized[j])
	})

	for _, n := range normalized {
		if m, ok := r.Lookup(n); ok {
			return m, nil
		}
	}
	return registry.MeterMapping{}, &MappingError{Candidates: normalized}
}

// ManualOverride bypasses identifier lookup for a caller-forced unit,
// producing a synthetic mapping scoped to that unit. Photo ingestion
// currently targets electricity meters, so the utility is fixed.
func ManualOverride(unitName string) (registry.MeterMapping, error) {
	u, ok := registry.GetUnit(unitName)
	if !ok {
		return registry.MeterMapping{}, validationf("unknown unit %q for manual meter override", unitName)
	}
	if !registry.UnitAllows(u.Name, registry.UtilityElectricity) {
		return registry.MeterMapping{}, validationf("unit %q does not report electricity", unitName)
	}
	return registry.MeterMapping{
		UnitName:    u.Name,
		UtilityType: registry.UtilityElectricity,
		ReadingUnit: registry.UnitKWh,
	}, nil
}
