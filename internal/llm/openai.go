package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lance13c/deltawatch/internal/logging"
)

// Options configures an OpenAI-compatible client
type Options struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// ChatRequest is the chat completions request body
type ChatRequest struct {
	Model               string        `json:"model"`
	Messages            []ChatMessage `json:"messages"`
	MaxCompletionTokens *int          `json:"max_completion_tokens,omitempty"`
}

// ChatMessage is a message; Content is a string or a list of ContentPart
type ChatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ContentPart is one part of a multimodal message
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image as a URL or data URL
type ImageURL struct {
	URL string `json:"url"`
}

// ChatResponse is the chat completions response body
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
	Error   *APIError    `json:"error,omitempty"`
}

// ChatChoice is a completion choice
type ChatChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// ChatUsage is token usage information
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError is an error body returned by the provider
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, Ollama)
type OpenAIClient struct {
	opts       Options
	httpClient *http.Client
	costs      *CostTracker
}

// NewOpenAIClient creates a client
func NewOpenAIClient(opts Options) *OpenAIClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 500
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &OpenAIClient{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		costs:      NewCostTracker(),
	}
}

// Enabled is always true for a configured client
func (c *OpenAIClient) Enabled() bool {
	return true
}

// Costs returns the session cost tracker
func (c *OpenAIClient) Costs() *CostTracker {
	return c.costs
}

// complete sends one chat request and returns the first choice's content
func (c *OpenAIClient) complete(ctx context.Context, operation string, messages []ChatMessage) (string, error) {
	request := ChatRequest{
		Model:               c.opts.Model,
		Messages:            messages,
		MaxCompletionTokens: &c.opts.MaxTokens,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(data, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("%s API error: %s", c.opts.Provider, chatResp.Error.Message)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%s API returned status %d", c.opts.Provider, resp.StatusCode)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from %s - empty choices array", c.opts.Provider)
	}

	if chatResp.Usage.TotalTokens > 0 {
		usage := c.costs.Record(c.opts.Provider, c.opts.Model,
			int64(chatResp.Usage.PromptTokens), int64(chatResp.Usage.CompletionTokens))
		logging.Debug("AI %s: %s tokens, %s, %v", operation,
			FormatTokens(usage.TotalTokens), FormatCost(usage.TotalCost), time.Since(start).Round(time.Millisecond))
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// SummarizeTextChange asks for a short description of a text change
func (c *OpenAIClient) SummarizeTextChange(ctx context.Context, oldValue, newValue, hint string) string {
	prompt := fmt.Sprintf(textChangePrompt, clip(oldValue, 4000), clip(newValue, 4000), focusLine(hint))

	summary, err := c.complete(ctx, "text summary", []ChatMessage{
		{Role: "system", Content: textChangeSystem},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		logging.Warn("AI text summary failed: %v", err)
		return ""
	}
	return summary
}

// SummarizeVisualChange sends both screenshots as images
func (c *OpenAIClient) SummarizeVisualChange(ctx context.Context, oldImagePath, newImagePath, hint string) string {
	oldImage, err := imageDataURL(oldImagePath)
	if err != nil {
		logging.Warn("AI visual summary skipped: %v", err)
		return ""
	}
	newImage, err := imageDataURL(newImagePath)
	if err != nil {
		logging.Warn("AI visual summary skipped: %v", err)
		return ""
	}

	text := "The first image is the previous screenshot, the second is the current one."
	if focus := focusLine(hint); focus != "" {
		text += "\n" + focus
	}

	summary, err := c.complete(ctx, "visual summary", []ChatMessage{
		{Role: "system", Content: visualChangeSystem},
		{Role: "user", Content: []ContentPart{
			{Type: "text", Text: text},
			{Type: "image_url", ImageURL: &ImageURL{URL: oldImage}},
			{Type: "image_url", ImageURL: &ImageURL{URL: newImage}},
		}},
	})
	if err != nil {
		logging.Warn("AI visual summary failed: %v", err)
		return ""
	}
	return summary
}

// selectorAnswer is the JSON reply to a selector repair request
type selectorAnswer struct {
	Selector   string  `json:"selector"`
	Confidence float64 `json:"confidence"`
}

// minSelectorConfidence is the lowest confidence accepted for a repair
const minSelectorConfidence = 0.5

// FindReplacementSelector asks for a selector matching the value the old one found
func (c *OpenAIClient) FindReplacementSelector(ctx context.Context, htmlSnapshot, oldSelector, oldValue, hint string) string {
	prompt := fmt.Sprintf(selectorRepairPrompt, oldSelector, clip(oldValue, 500), focusLine(hint), htmlSnapshot)

	content, err := c.complete(ctx, "selector repair", []ChatMessage{
		{Role: "system", Content: selectorRepairSystem},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		logging.Warn("AI selector repair failed: %v", err)
		return ""
	}

	var answer selectorAnswer
	if err := json.Unmarshal([]byte(stripFences(content)), &answer); err != nil {
		logging.Warn("AI selector repair returned invalid JSON: %v", err)
		return ""
	}
	if answer.Confidence < minSelectorConfidence {
		logging.Debug("AI selector repair not confident (%.2f)", answer.Confidence)
		return ""
	}
	return strings.TrimSpace(answer.Selector)
}

// AnalyzePage asks what is worth monitoring on a page
func (c *OpenAIClient) AnalyzePage(ctx context.Context, html, url, hint string) *PageSuggestion {
	prompt := fmt.Sprintf(analyzePagePrompt, url, focusLine(hint), html)

	content, err := c.complete(ctx, "page analysis", []ChatMessage{
		{Role: "system", Content: analyzePageSystem},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		logging.Warn("AI page analysis failed: %v", err)
		return nil
	}

	var suggestion PageSuggestion
	if err := json.Unmarshal([]byte(stripFences(content)), &suggestion); err != nil {
		logging.Warn("AI page analysis returned invalid JSON: %v", err)
		return nil
	}
	if suggestion.Type != "visual" {
		suggestion.Type = "text"
	}
	return &suggestion
}

// imageDataURL reads a PNG from disk as a data URL
func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

func focusLine(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return ""
	}
	return "The user cares about: " + hint + "\n"
}

// stripFences removes a markdown code fence around a JSON answer
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
