package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lance13c/deltawatch/internal/config"
)

// PushTransport publishes to an ntfy-compatible topic
type PushTransport struct {
	cfg        config.PushConfig
	httpClient *http.Client
}

// NewPushTransport creates a push transport
func NewPushTransport(cfg config.PushConfig) *PushTransport {
	return &PushTransport{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PushTransport) Name() string {
	return "push"
}

// pushTags maps message kinds to ntfy emoji tags
var pushTags = map[string]string{
	KindChange:   "bell",
	KindKeyword:  "mag",
	KindDowntime: "warning",
	KindRepair:   "wrench",
}

// Send publishes the message text with the subject as title
func (p *PushTransport) Send(ctx context.Context, msg Message) error {
	url := strings.TrimRight(p.cfg.Server, "/") + "/" + p.cfg.Topic

	body := msg.Text
	if msg.DiffText != "" {
		body += "\n\n" + msg.DiffText
	}
	if len(body) > 4000 {
		body = body[:4000]
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Title", msg.Subject)
	if tag, ok := pushTags[msg.Kind]; ok {
		req.Header.Set("Tags", tag)
	}
	if msg.Kind == KindDowntime {
		req.Header.Set("Priority", "high")
	}
	if msg.URL != "" {
		req.Header.Set("Click", msg.URL)
	}
	if p.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push server returned status %d", resp.StatusCode)
	}
	return nil
}
