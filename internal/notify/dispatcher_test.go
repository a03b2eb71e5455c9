package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lance13c/deltawatch/internal/config"
	"github.com/lance13c/deltawatch/internal/models"
)

type fakeTransport struct {
	name string
	err  error
	sent []Message
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Send(ctx context.Context, msg Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("no deadline on send context")
	}
	f.sent = append(f.sent, msg)
	return f.err
}

func TestDispatcherFansOut(t *testing.T) {
	broken := &fakeTransport{name: "broken", err: errors.New("smtp down")}
	ok := &fakeTransport{name: "ok"}
	d := NewDispatcher(func(ctx context.Context) []Transport {
		return []Transport{broken, ok}
	})

	d.Send(context.Background(), Message{Kind: KindChange, MonitorID: 7, Subject: "hi"})

	if len(broken.sent) != 1 {
		t.Errorf("broken transport got %d messages", len(broken.sent))
	}
	if len(ok.sent) != 1 || ok.sent[0].Subject != "hi" {
		t.Errorf("failure on one transport blocked the next: %+v", ok.sent)
	}
}

func TestDispatcherRereadsTransports(t *testing.T) {
	var calls int
	d := NewDispatcher(func(ctx context.Context) []Transport {
		calls++
		return nil
	})
	d.Send(context.Background(), Message{Subject: "a"})
	d.Send(context.Background(), Message{Subject: "b"})
	if calls != 2 {
		t.Errorf("transport source read %d times, want 2", calls)
	}
}

func TestBuildTransports(t *testing.T) {
	cfg := config.NotificationsConfig{
		Webhook: config.WebhookConfig{Enabled: true, URL: "http://example.invalid"},
		Push:    config.PushConfig{Enabled: true, Server: "http://ntfy.invalid", Topic: "t"},
	}
	transports := BuildTransports(cfg)
	if len(transports) != 2 {
		t.Fatalf("got %d transports", len(transports))
	}
	if transports[0].Name() != "webhook" || transports[1].Name() != "push" {
		t.Errorf("names = %s, %s", transports[0].Name(), transports[1].Name())
	}
}

func TestWebhookTransport(t *testing.T) {
	var got webhookPayload
	var secret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret = r.Header.Get("X-Secret")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := NewWebhookTransport(config.WebhookConfig{
		Enabled: true,
		URL:     srv.URL,
		Headers: map[string]string{"X-Secret": "s3"},
	})
	err := tr.Send(context.Background(), Message{
		Kind: KindChange, MonitorID: 3, RunID: "run-1", Subject: "Change", Text: "body", DiffText: "[-a-]{+b+}",
	})
	if err != nil {
		t.Fatal(err)
	}
	if secret != "s3" {
		t.Errorf("custom header = %q", secret)
	}
	if got.Event != KindChange || got.MonitorID != 3 || got.RunID != "run-1" || got.Diff != "[-a-]{+b+}" {
		t.Errorf("payload = %+v", got)
	}
}

func TestWebhookTransportStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewWebhookTransport(config.WebhookConfig{Enabled: true, URL: srv.URL})
	if err := tr.Send(context.Background(), Message{Subject: "x"}); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestPushTransport(t *testing.T) {
	var path, title, tags, auth, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		title = r.Header.Get("Title")
		tags = r.Header.Get("Tags")
		auth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	defer srv.Close()

	tr := NewPushTransport(config.PushConfig{Enabled: true, Server: srv.URL + "/", Topic: "prices", Token: "tk"})
	err := tr.Send(context.Background(), Message{Kind: KindKeyword, Subject: "Keyword", Text: "sale appeared"})
	if err != nil {
		t.Fatal(err)
	}
	if path != "/prices" {
		t.Errorf("path = %q", path)
	}
	if title != "Keyword" || tags != "mag" || auth != "Bearer tk" {
		t.Errorf("headers: title=%q tags=%q auth=%q", title, tags, auth)
	}
	if body != "sale appeared" {
		t.Errorf("body = %q", body)
	}
}

func TestBuildEmail(t *testing.T) {
	img := filepath.Join(t.TempDir(), "1_1700000000000_diff.png")
	if err := os.WriteFile(img, []byte("fakepng"), 0644); err != nil {
		t.Fatal(err)
	}

	m := &models.Monitor{ID: 1, Name: "Shop", URL: "https://shop.example/item"}
	msg := ChangeMessage(m, ChangeDetails{
		NewValue:      strp("€12"),
		WordDiff:      "Price [-€10-]{+€12+}",
		WordDiffHTML:  "Price <del>€10</del><ins>€12</ins>",
		DiffImagePath: img,
	})

	raw, err := BuildEmail("DeltaWatch <alerts@example.com>", []string{"me@example.com"}, msg)
	if err != nil {
		t.Fatal(err)
	}
	out := string(raw)

	for _, want := range []string{
		"Subject: Change detected: Shop",
		"multipart/mixed",
		"multipart/alternative",
		"text/plain",
		"text/html",
		"image/png",
		"1_1700000000000_diff.png",
		"ZmFrZXBuZw==",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("email missing %q", want)
		}
	}
}

func TestBuildEmailRejectsBadAddress(t *testing.T) {
	if _, err := BuildEmail("not an address", []string{"me@example.com"}, Message{Subject: "x"}); err == nil {
		t.Error("expected error for invalid from address")
	}
}

func TestChangeMessage(t *testing.T) {
	m := &models.Monitor{ID: 9, URL: "https://x.example"}
	msg := ChangeMessage(m, ChangeDetails{RunID: "r", NewValue: strp("€12"), AISummary: "Price went up"})
	if msg.Kind != KindChange || msg.RunID != "r" || msg.MonitorID != 9 {
		t.Errorf("message = %+v", msg)
	}
	if !strings.Contains(msg.Subject, "https://x.example") {
		t.Errorf("subject should fall back to url: %q", msg.Subject)
	}
	if !strings.Contains(msg.Text, "Price went up") || !strings.Contains(msg.Text, "€12") {
		t.Errorf("text = %q", msg.Text)
	}
}
