package api

import (
	"encoding/json"
	"net/http"

	"github.com/bher20/meterlog/internal/ingest"
	"github.com/bher20/meterlog/internal/notification"
	"github.com/bher20/meterlog/internal/storage"
)

// registerNotificationRoutes wires the email-config endpoints. The service
// may be nil when ingestion runs without outbound mail.
func registerNotificationRoutes(mux *http.ServeMux, svc *notification.Service) {
	if svc == nil {
		return
	}

	mux.HandleFunc("/api/notifications/config", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			cfg, err := svc.GetConfig(r.Context())
			if err != nil {
				writeError(w, r, &ingest.PersistenceError{Op: "load email config", Err: err})
				return
			}
			if cfg == nil {
				writeJSON(w, http.StatusOK, map[string]any{"configured": false})
				return
			}
			// Never echo credentials back.
			cfg.Password = ""
			cfg.APIKey = ""
			writeJSON(w, http.StatusOK, cfg)
		case http.MethodPost:
			var cfg storage.EmailConfig
			if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
				writeError(w, r, &ingest.ValidationError{Msg: "invalid JSON body: " + err.Error()})
				return
			}
			if err := svc.SaveConfig(r.Context(), cfg); err != nil {
				writeError(w, r, &ingest.PersistenceError{Op: "save email config", Err: err})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/notifications/test", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Config storage.EmailConfig `json:"config"`
			To     string              `json:"to"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, &ingest.ValidationError{Msg: "invalid JSON body: " + err.Error()})
			return
		}
		if req.To == "" {
			writeError(w, r, &ingest.ValidationError{Msg: "missing to address"})
			return
		}
		if err := svc.TestConfig(r.Context(), req.Config, req.To); err != nil {
			writeError(w, r, &ingest.ValidationError{Msg: "test send failed: " + err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
	})
}
