package llm

import (
	"context"
	"sync"
)

// Switch is a Client whose backing client can be replaced at runtime,
// so a config reload takes effect without rewiring the pipeline
type Switch struct {
	mu     sync.RWMutex
	client Client
}

// NewSwitch creates a switch; a nil client means disabled
func NewSwitch(client Client) *Switch {
	if client == nil {
		client = Disabled{}
	}
	return &Switch{client: client}
}

// Set replaces the backing client
func (s *Switch) Set(client Client) {
	if client == nil {
		client = Disabled{}
	}
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
}

func (s *Switch) current() Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *Switch) SummarizeTextChange(ctx context.Context, oldValue, newValue, hint string) string {
	return s.current().SummarizeTextChange(ctx, oldValue, newValue, hint)
}

func (s *Switch) SummarizeVisualChange(ctx context.Context, oldImagePath, newImagePath, hint string) string {
	return s.current().SummarizeVisualChange(ctx, oldImagePath, newImagePath, hint)
}

func (s *Switch) FindReplacementSelector(ctx context.Context, htmlSnapshot, oldSelector, oldValue, hint string) string {
	return s.current().FindReplacementSelector(ctx, htmlSnapshot, oldSelector, oldValue, hint)
}

func (s *Switch) AnalyzePage(ctx context.Context, html, url, hint string) *PageSuggestion {
	return s.current().AnalyzePage(ctx, html, url, hint)
}

func (s *Switch) Enabled() bool {
	return s.current().Enabled()
}
