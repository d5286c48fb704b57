package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bher20/meterlog/internal/ingest"
	"github.com/bher20/meterlog/internal/metrics"
	"github.com/bher20/meterlog/internal/notification"
	"github.com/bher20/meterlog/internal/storage"
	"github.com/bher20/meterlog/internal/ui"
)

// 20 MB is plenty for a bill PDF or meter photo.
const maxUploadBytes = 20 << 20

// NewMux constructs the HTTP mux, wiring in the ingest service, metrics,
// and health endpoints.
func NewMux(svc *ingest.Service, st storage.Storage, notif *notification.Service) *http.ServeMux {
	mux := http.NewServeMux()

	// Metrics endpoint.
	mux.Handle("/metrics", promhttp.Handler())

	// Health / readiness / liveness.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			log.Printf("readyz: db ping failed: %v", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("live"))
	})

	h := &Handler{svc: svc, st: st}
	mux.HandleFunc("/api/ingest/manual", h.IngestManual)
	mux.HandleFunc("/api/ingest/document", h.IngestDocument)
	mux.HandleFunc("/api/ingest/photo", h.IngestPhoto)
	mux.HandleFunc("/api/units", h.ListUnits)
	mux.HandleFunc("/api/units/", h.UnitSubresource)
	mux.HandleFunc("/api/reviews", h.ListReviews)
	mux.HandleFunc("/api/reviews/", h.ResolveReview)

	registerNotificationRoutes(mux, notif)

	// Web UI
	mux.Handle("/ui/", http.StripPrefix("/ui/", ui.Handler()))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/ui/", http.StatusFound)
	})

	return mux
}

type Handler struct {
	svc *ingest.Service
	st  storage.Storage
}

// IngestManual accepts a JSON batch of manually entered readings.
func (h *Handler) IngestManual(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ingest.ManualRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&req); err != nil {
		writeError(w, r, &ingest.ValidationError{Msg: "invalid JSON body: " + err.Error()})
		return
	}
	result, err := h.svc.IngestManual(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// IngestDocument accepts a multipart upload of a bill PDF.
func (h *Handler) IngestDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload, filename, unitName, err := readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.svc.IngestDocument(r.Context(), unitName, payload, filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// IngestPhoto accepts a multipart upload of a meter photograph. The unit
// field is optional; when present it overrides meter-identifier resolution.
func (h *Handler) IngestPhoto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload, filename, unitName, err := readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.svc.IngestPhoto(r.Context(), payload, filename, unitName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ListUnits serves GET /api/units.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	units, err := h.st.ListUnits(r.Context())
	if err != nil {
		writeError(w, r, &ingest.PersistenceError{Op: "list units", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, units)
}

// UnitSubresource serves GET /api/units/{name}/stats and
// GET /api/units/{name}/daily.
func (h *Handler) UnitSubresource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/units/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	name, endpoint := parts[0], parts[1]

	switch endpoint {
	case "stats":
		stats, err := h.svc.UnitStats(r.Context(), name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	case "daily":
		h.serveDaily(w, r, name)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveDaily(w http.ResponseWriter, r *http.Request, unitName string) {
	unit, err := h.st.GetUnitByName(r.Context(), unitName)
	if err != nil {
		writeError(w, r, &ingest.PersistenceError{Op: "lookup unit", Err: err})
		return
	}
	if unit == nil {
		writeError(w, r, &ingest.ValidationError{Msg: "unknown unit " + unitName})
		return
	}

	q := r.URL.Query()
	utility := q.Get("utility")
	if utility != "" && !unit.Allows(utility) {
		writeError(w, r, &ingest.ValidationError{Msg: "unit does not report " + utility})
		return
	}

	to := storage.DateOnly(time.Now().UTC())
	from := to.AddDate(0, 0, -90)
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, r, &ingest.ValidationError{Msg: "invalid from date"})
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, r, &ingest.ValidationError{Msg: "invalid to date"})
			return
		}
		to = t
	}

	utilities := unit.AllowedUtilities()
	if utility != "" {
		utilities = []string{utility}
	}
	out := make(map[string][]storage.DailyConsumption, len(utilities))
	for _, u := range utilities {
		rows, err := h.st.DailySeries(r.Context(), unit.ID, u, from, to)
		if err != nil {
			writeError(w, r, &ingest.PersistenceError{Op: "fetch daily series", Err: err})
			return
		}
		out[u] = rows
	}
	writeJSON(w, http.StatusOK, out)
}

// ListReviews serves GET /api/reviews.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rows, err := h.svc.PendingReviews(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ResolveReview serves POST /api/reviews/{id} with {"action": "approve"}.
func (h *Handler) ResolveReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/reviews/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, &ingest.ValidationError{Msg: "invalid JSON body: " + err.Error()})
		return
	}
	if err := h.svc.ResolveReview(r.Context(), id, body.Action); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": body.Action + "d"})
}

// readUpload pulls the file and optional unit field out of a multipart form.
func readUpload(r *http.Request) (payload []byte, filename, unitName string, err error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", "", &ingest.ValidationError{Msg: "invalid multipart form: " + err.Error()}
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", "", &ingest.ValidationError{Msg: "missing file field"}
	}
	defer file.Close()
	payload, err = io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return nil, "", "", &ingest.ValidationError{Msg: "reading upload failed: " + err.Error()}
	}
	return payload, header.Filename, r.FormValue("unit"), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response failed: %v", err)
	}
}

type errorBody struct {
	Error      string   `json:"error"`
	Category   string   `json:"category"`
	ReadingID  string   `json:"reading_id,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// writeError maps the ingest error taxonomy onto HTTP statuses. Unknown
// errors become opaque 500s; their detail goes to the log only.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error(), Category: ingest.CategoryPersistence}
	status := http.StatusInternalServerError

	var (
		ve *ingest.ValidationError
		ee *ingest.ExtractionError
		re *ingest.ReviewError
		me *ingest.MappingError
		pe *ingest.PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		body.Category = ingest.CategoryValidation
	case errors.As(err, &ee):
		status = http.StatusBadGateway
		body.Category = ingest.CategoryExtraction
	case errors.As(err, &re):
		status = http.StatusConflict
		body.Category = ingest.CategoryReview
		body.ReadingID = re.ReadingID
	case errors.As(err, &me):
		status = http.StatusUnprocessableEntity
		body.Category = ingest.CategoryMapping
		body.Candidates = me.Candidates
	case errors.As(err, &pe):
		status = http.StatusInternalServerError
		body.Category = ingest.CategoryPersistence
		log.Printf("api: %s: %v", r.URL.Path, err)
		body.Error = "internal error"
	default:
		log.Printf("api: %s: %v", r.URL.Path, err)
		body.Error = "internal error"
	}

	metrics.RequestErrorsTotal.WithLabelValues(r.URL.Path, body.Category).Inc()
	writeJSON(w, status, body)
}
