package ingest

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/bher20/meterlog/internal/alerting"
	"github.com/bher20/meterlog/internal/extraction"
	"github.com/bher20/meterlog/internal/metrics"
	"github.com/bher20/meterlog/internal/registry"
	"github.com/bher20/meterlog/internal/series"
	"github.com/bher20/meterlog/internal/storage"
)

// Service orchestrates ingestion: resolve the target unit/utility, validate
// or correct extracted values, deduplicate, persist, rebuild the daily
// series, and assemble response stats. Each request is independent; the only
// shared state is the per-(unit, utility) write serialization.
type Service struct {
	st        storage.Storage
	extractor *extraction.Client
	resolver  *Resolver
	alerter   *alerting.Alerter
	timezone  string

	locks sync.Map // "unitID|utility" -> *sync.Mutex
}

type Option func(*Service)

func WithExtractor(c *extraction.Client) Option {
	return func(s *Service) { s.extractor = c }
}

func WithAlerter(a *alerting.Alerter) Option {
	return func(s *Service) { s.alerter = a }
}

func WithTimezone(tz string) Option {
	return func(s *Service) { s.timezone = tz }
}

func NewService(st storage.Storage, opts ...Option) *Service {
	s := &Service{
		st:       st,
		resolver: NewResolver(),
		timezone: "America/Vancouver",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedUnits provisions registry units into storage if they are not already
// present. Existing units are left untouched (units are immutable once
// readings reference them).
func (s *Service) SeedUnits(ctx context.Context) error {
	for _, d := range registry.Units() {
		existing, err := s.st.GetUnitByName(ctx, d.Name)
		if err != nil {
			return &PersistenceError{Op: "lookup unit " + d.Name, Err: err}
		}
		if existing != nil {
			continue
		}
		u := storage.Unit{
			ID:        uuid.New().String(),
			Name:      d.Name,
			Location:  d.Location,
			Utilities: joinUtilities(d.Utilities),
			CreatedAt: time.Now(),
		}
		if err := s.st.UpsertUnit(ctx, u); err != nil {
			return &PersistenceError{Op: "seed unit " + d.Name, Err: err}
		}
		log.Printf("ingest: provisioned unit %s (%s)", d.Name, u.ID)
	}
	return nil
}

func joinUtilities(utilities []string) string {
	out := ""
	for i, u := range utilities {
		if i > 0 {
			out += ","
		}
		out += u
	}
	return out
}

// ManualRequest is the JSON body of a manual ingest.
type ManualRequest struct {
	UnitName string  `json:"unit"`
	Entries  []Entry `json:"entries"`
}

// Result is the payload of a successful ingest.
type Result struct {
	Inserted []storage.MeterReading          `json:"inserted"`
	Removals []Removal                       `json:"removals,omitempty"`
	Charges  []storage.BillCharge            `json:"charges,omitempty"`
	Stats    map[string]*series.UtilityStats `json:"stats"`
}

// IngestManual validates and persists manually entered readings.
func (s *Service) IngestManual(ctx context.Context, req ManualRequest) (*Result, error) {
	unit, err := s.requireUnit(ctx, req.UnitName)
	if err != nil {
		return nil, err
	}
	if len(req.Entries) == 0 {
		return nil, validationf("no entries supplied")
	}
	for i, e := range req.Entries {
		if err := validateEntry(unit, e); err != nil {
			return nil, validationf("entry %d: %v", i, err)
		}
	}
	return s.persistBatch(ctx, unit, req.Entries, nil, storage.SourceManual)
}

// IngestDocument runs a bill PDF through preflight and extraction, then
// persists the surviving entries and any bill-charge facts. Nothing is
// written until extraction succeeds and every entry passes validation.
func (s *Service) IngestDocument(ctx context.Context, unitName string, payload []byte, filename string) (*Result, error) {
	unit, err := s.requireUnit(ctx, unitName)
	if err != nil {
		return nil, err
	}
	if s.extractor == nil {
		return nil, &ExtractionError{Err: fmt.Errorf("extraction service not configured")}
	}

	evidenceText, err := extraction.PreflightPDF(payload)
	if err != nil {
		return nil, validationf("document rejected: %v", err)
	}

	billResult, err := s.extractor.ExtractBill(ctx, payload, filename, s.timezone)
	if err != nil {
		metrics.IngestsTotal.WithLabelValues(storage.SourceDocument, "extraction_error").Inc()
		return nil, &ExtractionError{Err: err}
	}

	entries := make([]Entry, 0, len(billResult.Entries))
	for i, e := range billResult.Entries {
		entry := fromExtractionEntry(e)
		if entry.Evidence == "" {
			entry.Evidence = snippet(evidenceText, 240)
		}
		if err := validateEntry(unit, entry); err != nil {
			return nil, validationf("extracted entry %d: %v", i, err)
		}
		entries = append(entries, entry)
	}

	charges := make([]storage.BillCharge, 0, len(billResult.Charges))
	for _, c := range billResult.Charges {
		if !unit.Allows(c.UtilityType) {
			return nil, validationf("unit %q does not report %s", unit.Name, c.UtilityType)
		}
		charges = append(charges, storage.BillCharge{
			ID:          uuid.New().String(),
			UnitID:      unit.ID,
			UtilityType: c.UtilityType,
			BillID:      c.BillID,
			PeriodStart: c.PeriodStart,
			PeriodEnd:   c.PeriodEnd,
			TotalCAD:    c.TotalCAD,
			Confidence:  c.Confidence,
			Evidence:    c.Evidence,
		})
	}

	return s.persistBatch(ctx, unit, entries, charges, storage.SourceDocument)
}

// IngestPhoto extracts a reading from a meter photograph, resolves which
// meter it belongs to, normalizes the value against history, and persists
// the outcome. A flagged value is stored as a pending-review row and the
// request fails with a ReviewError; divergent history is never committed.
func (s *Service) IngestPhoto(ctx context.Context, payload []byte, filename, overrideUnit string) (*Result, error) {
	if s.extractor == nil {
		return nil, &ExtractionError{Err: fmt.Errorf("extraction service not configured")}
	}

	photo, err := s.extractor.ExtractPhoto(ctx, payload, filename, s.timezone)
	if err != nil {
		metrics.IngestsTotal.WithLabelValues(storage.SourcePhoto, "extraction_error").Inc()
		return nil, &ExtractionError{Err: err}
	}

	var mapping registry.MeterMapping
	if overrideUnit != "" {
		mapping, err = ManualOverride(overrideUnit)
	} else {
		mapping, err = s.resolver.Resolve(photo.MeterIdentifier, photo.Candidates, photo.Evidence)
	}
	if err != nil {
		return nil, err
	}

	unit, err := s.requireUnit(ctx, mapping.UnitName)
	if err != nil {
		return nil, err
	}
	if !unit.Allows(mapping.UtilityType) {
		return nil, validationf("unit %q does not report %s", unit.Name, mapping.UtilityType)
	}

	unlock := s.lock(unit.ID, mapping.UtilityType)
	defer unlock()

	history, err := s.st.RecentMeterReads(ctx, unit.ID, mapping.UtilityType, HistoryWindow(mapping.UtilityType))
	if err != nil {
		return nil, &PersistenceError{Op: "fetch reading history", Err: err}
	}
	points := toHistoryPoints(history)

	outcome := NormalizeReading(mapping.UtilityType, photo.CapturedAt, photo.Value, points)

	capturedAt := photo.CapturedAt
	reading := storage.MeterReading{
		ID:          uuid.New().String(),
		UnitID:      unit.ID,
		UtilityType: mapping.UtilityType,
		EntryType:   storage.EntryMeterRead,
		CapturedAt:  &capturedAt,
		Value:       outcome.Value,
		ReadingUnit: firstNonEmpty(photo.ReadingUnit, mapping.ReadingUnit),
		Confidence:  photo.Confidence,
		Evidence:    photo.Evidence,
		Status:      storage.ReviewApproved,
		Note:        outcome.Note,
		Source:      storage.SourcePhoto,
		CreatedAt:   time.Now(),
		IsOpening:   len(points) == 0,
	}

	if outcome.Status == Flagged {
		metrics.ReadingFlagsTotal.WithLabelValues(mapping.UtilityType).Inc()
		metrics.IngestsTotal.WithLabelValues(storage.SourcePhoto, "flagged").Inc()
		reading.Status = storage.ReviewPending
		reading.Value = photo.Value
		reading.Note = outcome.Reason
		if err := s.st.AppendReading(ctx, reading); err != nil {
			return nil, &PersistenceError{Op: "store flagged reading", Err: err}
		}
		s.notifyReview(ctx, unit, reading)
		return nil, &ReviewError{ReadingID: reading.ID, Value: photo.Value, Reason: outcome.Reason}
	}

	if outcome.Status == Corrected {
		metrics.ReadingCorrectionsTotal.WithLabelValues(mapping.UtilityType).Inc()
		log.Printf("ingest: %s/%s %s", unit.Name, mapping.UtilityType, outcome.Note)
	}

	if err := s.st.AppendReading(ctx, reading); err != nil {
		return nil, &PersistenceError{Op: "store reading", Err: err}
	}

	if err := s.rebuildWithRetry(ctx, unit.ID, mapping.UtilityType); err != nil {
		return nil, err
	}

	stats, err := s.statsFor(ctx, unit.ID, []string{mapping.UtilityType})
	if err != nil {
		return nil, err
	}
	metrics.IngestsTotal.WithLabelValues(storage.SourcePhoto, "ok").Inc()
	return &Result{Inserted: []storage.MeterReading{reading}, Stats: stats}, nil
}

// persistBatch deduplicates a validated batch and commits it, then rebuilds
// the daily series for every touched utility before returning stats. The
// rebuild must complete before the response; callers immediately query
// aggregates that depend on it.
func (s *Service) persistBatch(ctx context.Context, unit *storage.Unit, entries []Entry, charges []storage.BillCharge, source string) (*Result, error) {
	kept, removals := DedupBilledUsage(entries)
	for _, r := range removals {
		metrics.DedupRemovalsTotal.WithLabelValues(r.Entry.UtilityType).Inc()
		log.Printf("ingest: %s", r.Reason)
	}

	utilities := touchedUtilities(kept, charges)
	for _, u := range utilities {
		unlock := s.lock(unit.ID, u)
		defer unlock()
	}

	inserted := make([]storage.MeterReading, 0, len(kept))
	for _, e := range kept {
		r := storage.MeterReading{
			ID:          uuid.New().String(),
			UnitID:      unit.ID,
			UtilityType: e.UtilityType,
			EntryType:   e.EntryType,
			CapturedAt:  e.CapturedAt,
			PeriodStart: e.PeriodStart,
			PeriodEnd:   e.PeriodEnd,
			Value:       e.Value,
			ReadingUnit: e.ReadingUnit,
			Confidence:  e.Confidence,
			Evidence:    e.Evidence,
			BillID:      e.BillID,
			IsOpening:   e.IsOpening,
			Status:      storage.ReviewApproved,
			Source:      source,
			CreatedAt:   time.Now(),
		}
		if err := s.st.AppendReading(ctx, r); err != nil {
			metrics.IngestsTotal.WithLabelValues(source, "persistence_error").Inc()
			return nil, &PersistenceError{Op: "store reading", Err: err}
		}
		inserted = append(inserted, r)
	}

	for i := range charges {
		if err := s.st.UpsertBillCharge(ctx, charges[i]); err != nil {
			metrics.IngestsTotal.WithLabelValues(source, "persistence_error").Inc()
			return nil, &PersistenceError{Op: "upsert bill charge", Err: err}
		}
	}

	for _, u := range utilities {
		if err := s.rebuildWithRetry(ctx, unit.ID, u); err != nil {
			return nil, err
		}
	}

	stats, err := s.statsFor(ctx, unit.ID, utilities)
	if err != nil {
		return nil, err
	}
	metrics.IngestsTotal.WithLabelValues(source, "ok").Inc()
	return &Result{Inserted: inserted, Removals: removals, Charges: charges, Stats: stats}, nil
}

// Review queue

// PendingReviews lists readings awaiting a human decision.
func (s *Service) PendingReviews(ctx context.Context) ([]storage.MeterReading, error) {
	rows, err := s.st.PendingReviews(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list pending reviews", Err: err}
	}
	return rows, nil
}

// ResolveReview approves or rejects a pending reading. Approval turns the
// stored row into an approved fact and rebuilds the series; rejection keeps
// it for audit but out of every computation.
func (s *Service) ResolveReview(ctx context.Context, readingID, action string) error {
	if action != "approve" && action != "reject" {
		return validationf("unknown review action %q", action)
	}
	r, err := s.st.GetReading(ctx, readingID)
	if err != nil {
		return &PersistenceError{Op: "fetch reading", Err: err}
	}
	if r == nil {
		return validationf("unknown reading %q", readingID)
	}
	if r.Status != storage.ReviewPending {
		return validationf("reading %q is not pending review", readingID)
	}

	status := storage.ReviewRejected
	if action == "approve" {
		status = storage.ReviewApproved
	}
	if err := s.st.SetReadingStatus(ctx, readingID, status); err != nil {
		return &PersistenceError{Op: "update review status", Err: err}
	}
	if status == storage.ReviewApproved {
		return s.rebuildWithRetry(ctx, r.UnitID, r.UtilityType)
	}
	return nil
}

// UnitStats assembles the per-utility stats blocks for a unit.
func (s *Service) UnitStats(ctx context.Context, unitName string) (map[string]*series.UtilityStats, error) {
	unit, err := s.requireUnit(ctx, unitName)
	if err != nil {
		return nil, err
	}
	return s.statsFor(ctx, unit.ID, unit.AllowedUtilities())
}

// helpers

func (s *Service) requireUnit(ctx context.Context, name string) (*storage.Unit, error) {
	if name == "" {
		return nil, validationf("missing unit")
	}
	unit, err := s.st.GetUnitByName(ctx, name)
	if err != nil {
		return nil, &PersistenceError{Op: "lookup unit", Err: err}
	}
	if unit == nil {
		return nil, validationf("unknown unit %q", name)
	}
	return unit, nil
}

// lock serializes writes per (unit, utility) so two concurrent ingests never
// both validate against the same latest reading and commit divergent deltas.
func (s *Service) lock(unitID, utility string) func() {
	key := unitID + "|" + utility
	v, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// rebuildWithRetry rebuilds the derived series. The rebuild is idempotent,
// so unlike reading writes it may be retried on transient failure.
func (s *Service) rebuildWithRetry(ctx context.Context, unitID, utility string) error {
	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := series.Rebuild(ctx, s.st, unitID, utility); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return &PersistenceError{Op: "rebuild daily series", Err: err}
	}
	return nil
}

func (s *Service) statsFor(ctx context.Context, unitID string, utilities []string) (map[string]*series.UtilityStats, error) {
	out := make(map[string]*series.UtilityStats, len(utilities))
	for _, u := range utilities {
		st, err := series.Compute(ctx, s.st, unitID, u, time.Now())
		if err != nil {
			return nil, &PersistenceError{Op: "compute stats", Err: err}
		}
		out[u] = st
	}
	return out, nil
}

func (s *Service) notifyReview(ctx context.Context, unit *storage.Unit, r storage.MeterReading) {
	if s.alerter == nil {
		return
	}
	alert := alerting.ReviewAlert{
		ReadingID:   r.ID,
		UnitName:    unit.Name,
		UtilityType: r.UtilityType,
		Value:       r.Value,
		Reason:      r.Note,
		Source:      r.Source,
		Timestamp:   time.Now(),
	}
	if err := s.alerter.SendReviewAlert(ctx, alert); err != nil {
		log.Printf("ingest: review alert failed: %v", err)
	}
}

// validateEntry rejects malformed entries before any side effect.
func validateEntry(unit *storage.Unit, e Entry) error {
	if !registry.KnownUtility(e.UtilityType) {
		return fmt.Errorf("unknown utility type %q", e.UtilityType)
	}
	if !unit.Allows(e.UtilityType) {
		return fmt.Errorf("unit %q does not report %s", unit.Name, e.UtilityType)
	}
	if e.Value < 0 {
		return fmt.Errorf("negative reading value")
	}
	switch e.EntryType {
	case EntryMeterRead:
		if e.CapturedAt == nil {
			return fmt.Errorf("meter_read requires captured_at")
		}
	case EntryBilledUsage:
		if e.PeriodStart == nil || e.PeriodEnd == nil {
			return fmt.Errorf("billed_usage requires a period")
		}
		if e.PeriodEnd.Before(*e.PeriodStart) {
			return fmt.Errorf("period end before start")
		}
	default:
		return fmt.Errorf("unknown entry type %q", e.EntryType)
	}
	return nil
}

func fromExtractionEntry(e extraction.Entry) Entry {
	return Entry{
		EntryType:   e.EntryType,
		UtilityType: e.UtilityType,
		CapturedAt:  e.CapturedAt,
		PeriodStart: e.PeriodStart,
		PeriodEnd:   e.PeriodEnd,
		Value:       e.Value,
		ReadingUnit: e.ReadingUnit,
		Confidence:  e.Confidence,
		Evidence:    e.Evidence,
		BillID:      e.BillID,
		IsOpening:   e.IsOpening,
	}
}

func toHistoryPoints(reads []storage.MeterReading) []HistoryPoint {
	points := make([]HistoryPoint, 0, len(reads))
	for _, r := range reads {
		if r.CapturedAt != nil {
			points = append(points, HistoryPoint{CapturedAt: *r.CapturedAt, Value: r.Value})
		}
	}
	return points
}

func touchedUtilities(entries []Entry, charges []storage.BillCharge) []string {
	set := make(map[string]bool)
	for _, e := range entries {
		set[e.UtilityType] = true
	}
	for _, c := range charges {
		set[c.UtilityType] = true
	}
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
