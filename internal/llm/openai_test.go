package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lance13c/deltawatch/internal/config"
)

// chatServer answers every chat request with content and records the last request
func chatServer(t *testing.T, status int, content string, last *ChatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if last != nil {
			json.NewDecoder(r.Body).Decode(last)
		}

		w.WriteHeader(status)
		if status >= 400 {
			w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
			return
		}
		resp := map[string]interface{}{
			"id":    "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 1000, "completion_tokens": 100, "total_tokens": 1100},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(url string) *OpenAIClient {
	return NewOpenAIClient(Options{
		Provider: "openai",
		APIKey:   "sk-test",
		BaseURL:  url + "/",
		Model:    "gpt-4o-mini",
		Timeout:  5 * time.Second,
	})
}

func TestSummarizeTextChange(t *testing.T) {
	var req ChatRequest
	srv := chatServer(t, http.StatusOK, "  Price rose from €10 to €12. ", &req)
	client := testClient(srv.URL)

	got := client.SummarizeTextChange(context.Background(), "€10", "€12", "price")
	if got != "Price rose from €10 to €12." {
		t.Errorf("summary = %q", got)
	}
	if req.Model != "gpt-4o-mini" || len(req.Messages) != 2 {
		t.Errorf("unexpected request: %+v", req)
	}
	if user, _ := req.Messages[1].Content.(string); !strings.Contains(user, "The user cares about: price") {
		t.Errorf("hint missing from prompt: %q", user)
	}

	total := client.Costs().Total()
	if total.Requests != 1 || total.TotalTokens != 1100 {
		t.Errorf("usage = %+v", total)
	}
}

func TestProviderErrorMeansNoSignal(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, "", nil)
	client := testClient(srv.URL)
	ctx := context.Background()

	if got := client.SummarizeTextChange(ctx, "a", "b", ""); got != "" {
		t.Errorf("summary = %q, want empty", got)
	}
	if got := client.FindReplacementSelector(ctx, "<div/>", ".old", "x", ""); got != "" {
		t.Errorf("selector = %q, want empty", got)
	}
	if got := client.AnalyzePage(ctx, "<div/>", "https://example.com", ""); got != nil {
		t.Errorf("suggestion = %+v, want nil", got)
	}
}

func TestFindReplacementSelector(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"confident", `{"selector": ".price-now", "confidence": 0.9}`, ".price-now"},
		{"fenced", "```json\n{\"selector\": \"#total\", \"confidence\": 0.7}\n```", "#total"},
		{"unsure", `{"selector": ".maybe", "confidence": 0.2}`, ""},
		{"not json", `I think it is .price`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, http.StatusOK, tt.content, nil)
			got := testClient(srv.URL).FindReplacementSelector(context.Background(), "<div/>", ".price", "€10", "")
			if got != tt.want {
				t.Errorf("selector = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummarizeVisualChange_SendsImages(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.png")
	newPath := filepath.Join(dir, "new.png")
	os.WriteFile(oldPath, []byte("old"), 0644)
	os.WriteFile(newPath, []byte("new"), 0644)

	var req ChatRequest
	srv := chatServer(t, http.StatusOK, "The banner changed.", &req)

	got := testClient(srv.URL).SummarizeVisualChange(context.Background(), oldPath, newPath, "")
	if got != "The banner changed." {
		t.Errorf("summary = %q", got)
	}

	parts, ok := req.Messages[1].Content.([]interface{})
	if !ok || len(parts) != 3 {
		t.Fatalf("expected 3 content parts, got %#v", req.Messages[1].Content)
	}
	image := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
	if url := image["url"].(string); !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("image url = %q", url)
	}
}

func TestSummarizeVisualChange_MissingFile(t *testing.T) {
	client := NewOpenAIClient(Options{BaseURL: "http://127.0.0.1:1", Model: "m"})
	if got := client.SummarizeVisualChange(context.Background(), "/nope/a.png", "/nope/b.png", ""); got != "" {
		t.Errorf("summary = %q, want empty", got)
	}
}

func TestAnalyzePage(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"name":"Widget price","selector":".price","type":"banana"}`, nil)
	got := testClient(srv.URL).AnalyzePage(context.Background(), "<span class=price>1</span>", "https://shop", "")
	if got == nil {
		t.Fatal("suggestion is nil")
	}
	if got.Name != "Widget price" || got.Selector != ".price" || got.Type != "text" {
		t.Errorf("suggestion = %+v", got)
	}
}

func TestNewFromConfig(t *testing.T) {
	if NewFromConfig(config.AIConfig{Enabled: false}).Enabled() {
		t.Error("disabled config should give a disabled client")
	}
	if NewFromConfig(config.AIConfig{Enabled: true, Provider: "mystery"}).Enabled() {
		t.Error("unresolvable provider should give a disabled client")
	}
	if !NewFromConfig(config.AIConfig{Enabled: true, Provider: "local"}).Enabled() {
		t.Error("local provider should be enabled without a key")
	}
}

func TestIsNoChangeVerdict(t *testing.T) {
	for _, s := range []string{"No significant change.", "The page is unchanged", "NO MEANINGFUL differences", "no notable updates", "There was no change"} {
		if !IsNoChangeVerdict(s) {
			t.Errorf("%q should be a no-change verdict", s)
		}
	}
	for _, s := range []string{"", "Price dropped to €9", "A significant change in stock"} {
		if IsNoChangeVerdict(s) {
			t.Errorf("%q should not be a no-change verdict", s)
		}
	}
}

func TestPricingFor(t *testing.T) {
	if p := PricingFor("local", "llava"); p.InputCost != 0 || p.OutputCost != 0 {
		t.Errorf("local models are free, got %+v", p)
	}
	if p := PricingFor("openrouter", "openai/gpt-4o-mini"); p.InputCost != 0.15 {
		t.Errorf("openrouter gpt-4o-mini = %+v", p)
	}
}
