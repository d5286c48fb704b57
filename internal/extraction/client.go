// Package extraction talks to the AI extraction collaborator. Every field it
// returns is untrusted input and is shape-validated before use; nothing is
// persisted until extraction succeeds and validation passes.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/bher20/meterlog/internal/registry"
	"github.com/bher20/meterlog/internal/storage"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 90 * time.Second},
	}
}

// billResponse is the wire shape for document extraction.
type billResponse struct {
	Entries []wireEntry `json:"entries"`
}

type wireEntry struct {
	EntryType   string   `json:"entry_type"`
	UtilityType string   `json:"utility_type"`
	CapturedAt  string   `json:"captured_at"`
	PeriodStart string   `json:"period_start"`
	PeriodEnd   string   `json:"period_end"`
	Value       *float64 `json:"reading_value"`
	ReadingUnit string   `json:"reading_unit"`
	Confidence  float64  `json:"confidence"`
	Evidence    string   `json:"evidence"`
	BillID      string   `json:"bill_id"`
	IsOpening   bool     `json:"is_opening"`
	TotalCAD    *float64 `json:"total_charges_cad"`
}

// Entry is one shape-validated reading candidate from a bill extraction.
type Entry struct {
	EntryType   string
	UtilityType string
	CapturedAt  *time.Time
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	Value       float64
	ReadingUnit string
	Confidence  float64
	Evidence    string
	BillID      string
	IsOpening   bool
}

// BillResult carries validated entries plus any total-charge facts the
// extractor found on the bill.
type BillResult struct {
	Entries []Entry
	Charges []ChargeFact
}

type ChargeFact struct {
	UtilityType string
	BillID      string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	TotalCAD    float64
	Confidence  float64
	Evidence    string
}

// photoResponse is the wire shape for meter-photo extraction.
type photoResponse struct {
	MeterIdentifier           string   `json:"meter_identifier"`
	MeterIdentifierCandidates []string `json:"meter_identifier_candidates"`
	Value                     *float64 `json:"reading_value"`
	ReadingUnit               string   `json:"reading_unit"`
	CapturedAt                string   `json:"captured_at"`
	Confidence                float64  `json:"confidence"`
	Evidence                  string   `json:"evidence"`
}

// PhotoReading is a validated meter-photo extraction.
type PhotoReading struct {
	MeterIdentifier string
	Candidates      []string
	Value           float64
	ReadingUnit     string
	CapturedAt      time.Time
	Confidence      float64
	Evidence        string
}

// ExtractBill sends a PDF to the extraction service and validates the
// structured candidates it returns.
func (c *Client) ExtractBill(ctx context.Context, pdf []byte, filename, timezone string) (*BillResult, error) {
	var resp billResponse
	if err := c.postDocument(ctx, "/extract/bill", pdf, filename, timezone, &resp); err != nil {
		return nil, err
	}

	result := &BillResult{}
	for i, w := range resp.Entries {
		entry, charge, err := validateEntry(w)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if charge != nil {
			result.Charges = append(result.Charges, *charge)
		}
		if entry != nil {
			result.Entries = append(result.Entries, *entry)
		}
	}
	if len(result.Entries) == 0 && len(result.Charges) == 0 {
		return nil, fmt.Errorf("extraction returned no usable entries")
	}
	return result, nil
}

// ExtractPhoto sends a meter photograph to the extraction service and
// validates the reading it returns.
func (c *Client) ExtractPhoto(ctx context.Context, image []byte, filename, timezone string) (*PhotoReading, error) {
	var resp photoResponse
	if err := c.postDocument(ctx, "/extract/meter-photo", image, filename, timezone, &resp); err != nil {
		return nil, err
	}

	if resp.Value == nil || *resp.Value < 0 {
		return nil, fmt.Errorf("photo extraction returned no usable reading value")
	}
	capturedAt, err := parseTimestamp(resp.CapturedAt)
	if err != nil {
		return nil, fmt.Errorf("photo captured_at: %w", err)
	}
	unit := resp.ReadingUnit
	if unit == "" {
		unit = registry.UnitKWh
	}
	return &PhotoReading{
		MeterIdentifier: resp.MeterIdentifier,
		Candidates:      resp.MeterIdentifierCandidates,
		Value:           *resp.Value,
		ReadingUnit:     unit,
		CapturedAt:      capturedAt,
		Confidence:      clampConfidence(resp.Confidence),
		Evidence:        resp.Evidence,
	}, nil
}

func (c *Client) postDocument(ctx context.Context, path string, payload []byte, filename, timezone string, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("extraction service not configured")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := fw.Write(payload); err != nil {
		return err
	}
	if err := mw.WriteField("timezone", timezone); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("extraction service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, bytes.TrimSpace(slurp))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("unparsable extraction response: %w", err)
	}
	return nil
}

// validateEntry shape-checks one untrusted wire entry. It may yield a reading
// entry, a charge fact (when the extractor reported bill totals), or an
// error.
func validateEntry(w wireEntry) (*Entry, *ChargeFact, error) {
	if !registry.KnownUtility(w.UtilityType) {
		return nil, nil, fmt.Errorf("unknown utility type %q", w.UtilityType)
	}

	var periodStart, periodEnd *time.Time
	if w.PeriodStart != "" || w.PeriodEnd != "" {
		ps, err := parseTimestamp(w.PeriodStart)
		if err != nil {
			return nil, nil, fmt.Errorf("period_start: %w", err)
		}
		pe, err := parseTimestamp(w.PeriodEnd)
		if err != nil {
			return nil, nil, fmt.Errorf("period_end: %w", err)
		}
		if pe.Before(ps) {
			return nil, nil, fmt.Errorf("period end %s before start %s", w.PeriodEnd, w.PeriodStart)
		}
		periodStart, periodEnd = &ps, &pe
	}

	if w.TotalCAD != nil {
		if *w.TotalCAD < 0 {
			return nil, nil, fmt.Errorf("negative total charges")
		}
		return nil, &ChargeFact{
			UtilityType: w.UtilityType,
			BillID:      w.BillID,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
			TotalCAD:    *w.TotalCAD,
			Confidence:  clampConfidence(w.Confidence),
			Evidence:    w.Evidence,
		}, nil
	}

	if w.Value == nil || *w.Value < 0 {
		return nil, nil, fmt.Errorf("missing or negative reading value")
	}

	entry := &Entry{
		EntryType:   w.EntryType,
		UtilityType: w.UtilityType,
		Value:       *w.Value,
		ReadingUnit: w.ReadingUnit,
		Confidence:  clampConfidence(w.Confidence),
		Evidence:    w.Evidence,
		BillID:      w.BillID,
		IsOpening:   w.IsOpening,
	}

	switch w.EntryType {
	case storage.EntryMeterRead:
		t, err := parseTimestamp(w.CapturedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("meter_read requires captured_at: %w", err)
		}
		entry.CapturedAt = &t
	case storage.EntryBilledUsage:
		if periodStart == nil || periodEnd == nil {
			return nil, nil, fmt.Errorf("billed_usage requires a period")
		}
		entry.PeriodStart, entry.PeriodEnd = periodStart, periodEnd
	default:
		return nil, nil, fmt.Errorf("unknown entry type %q", w.EntryType)
	}
	return entry, nil, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
