package llm

import (
	"context"
	"strings"

	"github.com/lance13c/deltawatch/internal/config"
	"github.com/lance13c/deltawatch/internal/logging"
)

// Client is the AI collaborator used by the check pipeline.
// An empty string or nil result means "no AI signal": the AI is disabled,
// misconfigured, unsure, or the provider failed. Callers never see errors.
type Client interface {
	// SummarizeTextChange describes what changed between two extracted values
	SummarizeTextChange(ctx context.Context, oldValue, newValue, hint string) string
	// SummarizeVisualChange compares two screenshots on disk
	SummarizeVisualChange(ctx context.Context, oldImagePath, newImagePath, hint string) string
	// FindReplacementSelector proposes a CSS selector for the value the old selector used to match
	FindReplacementSelector(ctx context.Context, htmlSnapshot, oldSelector, oldValue, hint string) string
	// AnalyzePage suggests what to monitor on a page
	AnalyzePage(ctx context.Context, html, url, hint string) *PageSuggestion

	Enabled() bool
}

// PageSuggestion is a suggested monitor for a page
type PageSuggestion struct {
	Name     string `json:"name"`
	Selector string `json:"selector"`
	Type     string `json:"type"` // text or visual
}

// NewFromConfig builds the client for the current AI settings. A disabled or
// invalid configuration yields a client that never answers.
func NewFromConfig(ai config.AIConfig) Client {
	if !ai.Enabled {
		return Disabled{}
	}

	endpoint, model, err := config.ResolveAI(ai)
	if err != nil {
		logging.Warn("AI disabled: %v", err)
		return Disabled{}
	}

	return NewOpenAIClient(Options{
		Provider: strings.ToLower(ai.Provider),
		APIKey:   ai.APIKey,
		BaseURL:  endpoint,
		Model:    model,
		Timeout:  ai.Timeout,
	})
}

// Disabled is the client used when AI is turned off
type Disabled struct{}

func (Disabled) SummarizeTextChange(context.Context, string, string, string) string   { return "" }
func (Disabled) SummarizeVisualChange(context.Context, string, string, string) string { return "" }
func (Disabled) FindReplacementSelector(context.Context, string, string, string, string) string {
	return ""
}
func (Disabled) AnalyzePage(context.Context, string, string, string) *PageSuggestion { return nil }
func (Disabled) Enabled() bool                                                       { return false }

// noChangePhrases are verdicts meaning the model saw nothing worth reporting
var noChangePhrases = []string{
	"no significant",
	"no meaningful",
	"no notable",
	"unchanged",
	"no change",
}

// IsNoChangeVerdict reports whether an AI summary says nothing meaningful changed
func IsNoChangeVerdict(summary string) bool {
	s := strings.ToLower(summary)
	for _, phrase := range noChangePhrases {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}
