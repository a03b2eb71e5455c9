package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lance13c/deltawatch/internal/config"
)

// WebhookTransport posts notifications as JSON
type WebhookTransport struct {
	cfg        config.WebhookConfig
	httpClient *http.Client
}

// webhookPayload is the JSON body sent to the webhook
type webhookPayload struct {
	Event     string    `json:"event"`
	MonitorID int64     `json:"monitor_id"`
	RunID     string    `json:"run_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Subject   string    `json:"subject"`
	Text      string    `json:"text"`
	Diff      string    `json:"diff,omitempty"`
	DiffImage string    `json:"diff_image,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// NewWebhookTransport creates a webhook transport
func NewWebhookTransport(cfg config.WebhookConfig) *WebhookTransport {
	return &WebhookTransport{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *WebhookTransport) Name() string {
	return "webhook"
}

// Send posts the message; any non-2xx response is an error
func (w *WebhookTransport) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(webhookPayload{
		Event:     msg.Kind,
		MonitorID: msg.MonitorID,
		RunID:     msg.RunID,
		URL:       msg.URL,
		Subject:   msg.Subject,
		Text:      msg.Text,
		Diff:      msg.DiffText,
		DiffImage: msg.DiffImagePath,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "deltawatch")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
