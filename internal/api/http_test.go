package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bher20/meterlog/internal/ingest"
	"github.com/bher20/meterlog/internal/registry"
	"github.com/bher20/meterlog/internal/storage"
)

func newTestMux(t *testing.T) (*http.ServeMux, storage.Storage) {
	t.Helper()
	st := storage.NewMemory()
	svc := ingest.NewService(st)
	if err := svc.SeedUnits(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewMux(svc, st, nil), st
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestIngestManualEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	captured := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	later := captured.AddDate(0, 0, 10)
	rec := postJSON(t, mux, "/api/ingest/manual", ingest.ManualRequest{
		UnitName: "main-house",
		Entries: []ingest.Entry{
			{EntryType: ingest.EntryMeterRead, UtilityType: registry.UtilityElectricity,
				ReadingUnit: registry.UnitKWh, CapturedAt: &captured, Value: 1000},
			{EntryType: ingest.EntryMeterRead, UtilityType: registry.UtilityElectricity,
				ReadingUnit: registry.UnitKWh, CapturedAt: &later, Value: 1100},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var res ingest.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Inserted) != 2 {
		t.Errorf("inserted = %d, want 2", len(res.Inserted))
	}
	if _, ok := res.Stats[registry.UtilityElectricity]; !ok {
		t.Errorf("stats missing electricity block")
	}
}

func TestIngestManualValidationMapsTo400(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := postJSON(t, mux, "/api/ingest/manual", ingest.ManualRequest{UnitName: "nowhere"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body struct {
		Error    string `json:"error"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Category != ingest.CategoryValidation {
		t.Errorf("category = %q, want validation", body.Category)
	}
	if body.Error == "" {
		t.Error("error message missing")
	}
}

func TestUnitsEndpoints(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/units", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list units status = %d", rec.Code)
	}
	var units []storage.Unit
	if err := json.Unmarshal(rec.Body.Bytes(), &units); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(units) != 2 {
		t.Errorf("units = %d, want 2", len(units))
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/units/main-house/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/units/main-house/daily?utility=electricity", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("daily status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/units/nowhere/stats", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown unit status = %d, want 400", rec.Code)
	}
}

func TestReviewEndpoints(t *testing.T) {
	mux, st := newTestMux(t)
	ctx := context.Background()

	unit, _ := st.GetUnitByName(ctx, "main-house")
	captured := time.Now()
	if err := st.AppendReading(ctx, storage.MeterReading{
		ID:          "r-1",
		UnitID:      unit.ID,
		UtilityType: registry.UtilityElectricity,
		EntryType:   storage.EntryMeterRead,
		CapturedAt:  &captured,
		Value:       1000,
		ReadingUnit: registry.UnitKWh,
		Status:      storage.ReviewPending,
		Source:      storage.SourcePhoto,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reviews", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var rows []storage.MeterReading
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "r-1" {
		t.Fatalf("pending rows = %+v", rows)
	}

	rec = postJSON(t, mux, "/api/reviews/r-1", map[string]string{"action": "approve"})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body %s", rec.Code, rec.Body.String())
	}
	r, _ := st.GetReading(ctx, "r-1")
	if r.Status != storage.ReviewApproved {
		t.Errorf("status = %s after approval", r.Status)
	}

	// A second resolve of the same reading is a validation error.
	rec = postJSON(t, mux, "/api/reviews/r-1", map[string]string{"action": "reject"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("re-resolve status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	mux, _ := newTestMux(t)
	for _, path := range []string{"/healthz", "/readyz", "/livez"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ingest/manual", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
