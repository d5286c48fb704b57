package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// AlertConfig holds alerting configuration.
type AlertConfig struct {
	// WebhookURL is a generic webhook endpoint (Slack, Discord, or custom)
	WebhookURL string
	// WebhookType determines the payload format: "slack", "discord", or "generic"
	WebhookType string
	// Enabled controls whether alerts are sent
	Enabled bool
	// Timeout for HTTP requests
	Timeout time.Duration
}

// DefaultAlertConfig returns config from environment variables.
func DefaultAlertConfig() AlertConfig {
	cfg := AlertConfig{
		WebhookURL:  os.Getenv("ALERT_WEBHOOK_URL"),
		WebhookType: os.Getenv("ALERT_WEBHOOK_TYPE"),
		Timeout:     10 * time.Second,
	}

	cfg.Enabled = cfg.WebhookURL != ""

	if cfg.WebhookType == "" {
		// Auto-detect from URL
		if strings.Contains(cfg.WebhookURL, "slack.com") {
			cfg.WebhookType = "slack"
		} else if strings.Contains(cfg.WebhookURL, "discord.com") {
			cfg.WebhookType = "discord"
		} else {
			cfg.WebhookType = "generic"
		}
	}

	return cfg
}

// Alerter sends alerts to configured webhooks.
type Alerter struct {
	cfg    AlertConfig
	client *http.Client
}

// NewAlerter creates a new alerter instance.
func NewAlerter(cfg AlertConfig) *Alerter {
	return &Alerter{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// ReviewAlert describes a reading flagged for manual review.
type ReviewAlert struct {
	ReadingID   string
	UnitName    string
	UtilityType string
	Value       float64
	Reason      string
	Source      string
	Timestamp   time.Time
}

// SendReviewAlert notifies the configured webhook that a reading needs a
// human decision. Failures are logged, not fatal; the ingest response already
// carries the flag.
func (a *Alerter) SendReviewAlert(ctx context.Context, alert ReviewAlert) error {
	if !a.cfg.Enabled {
		return nil
	}

	var payload []byte
	var err error

	switch a.cfg.WebhookType {
	case "slack":
		payload, err = a.buildSlackPayload(alert)
	case "discord":
		payload, err = a.buildDiscordPayload(alert)
	default:
		payload, err = a.buildGenericPayload(alert)
	}

	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	log.Printf("alerting: sent review alert for %s/%s reading %s", alert.UnitName, alert.UtilityType, alert.ReadingID)
	return nil
}

func (a *Alerter) buildSlackPayload(alert ReviewAlert) ([]byte, error) {
	payload := map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": fmt.Sprintf(":mag: Meter reading needs review: %s/%s", alert.UnitName, alert.UtilityType),
				},
			},
			{
				"type": "section",
				"fields": []map[string]string{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Value:*\n%.3f", alert.Value)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Source:*\n%s", alert.Source)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Reading:*\n%s", alert.ReadingID)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Timestamp:*\n%s", alert.Timestamp.Format(time.RFC3339))},
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Reason:*\n%s", alert.Reason),
				},
			},
		},
	}

	return json.Marshal(payload)
}

func (a *Alerter) buildDiscordPayload(alert ReviewAlert) ([]byte, error) {
	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       fmt.Sprintf("Meter reading needs review: %s/%s", alert.UnitName, alert.UtilityType),
				"description": alert.Reason,
				"color":       16776960, // Yellow
				"fields": []map[string]interface{}{
					{"name": "Value", "value": fmt.Sprintf("%.3f", alert.Value), "inline": true},
					{"name": "Source", "value": alert.Source, "inline": true},
					{"name": "Reading", "value": alert.ReadingID, "inline": true},
				},
				"timestamp": alert.Timestamp.Format(time.RFC3339),
			},
		},
	}

	return json.Marshal(payload)
}

func (a *Alerter) buildGenericPayload(alert ReviewAlert) ([]byte, error) {
	payload := map[string]interface{}{
		"event":        "reading_review_required",
		"reading_id":   alert.ReadingID,
		"unit":         alert.UnitName,
		"utility_type": alert.UtilityType,
		"value":        alert.Value,
		"reason":       alert.Reason,
		"source":       alert.Source,
		"timestamp":    alert.Timestamp.Format(time.RFC3339),
	}

	return json.Marshal(payload)
}
