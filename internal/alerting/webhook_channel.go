package alerting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const webhookEvent = "scamshield.alert"

// webhookPayload carries the alert fields at the top level plus a one-line
// text summary, which chat webhooks render directly.
type webhookPayload struct {
	Event string `json:"event"`
	Text  string `json:"text"`
	Alert
}

type WebhookChannel struct {
	url      string
	headers  map[string]string
	severity []string
	client   *http.Client
}

func NewWebhookChannel(url string, headers map[string]string, severity []string) *WebhookChannel {
	return &WebhookChannel{url: url, headers: headers, severity: severity, client: httpClient}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(alert Alert) error {
	if !severityAllowed(w.severity, alert.Severity) {
		return nil
	}
	body, err := json.Marshal(webhookPayload{Event: webhookEvent, Text: summary(alert), Alert: alert})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "scamshield-alerts/1.0")
	for key, value := range w.headers {
		req.Header.Set(key, value)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func summary(alert Alert) string {
	target := alert.Host
	if target == "" {
		target = alert.URL
	}
	return fmt.Sprintf("[%s] %s scored %d/100: %s", alert.Severity, target, alert.Score, alert.Reason)
}
