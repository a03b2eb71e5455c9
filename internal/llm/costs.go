package llm

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ModelPricing is the USD price per 1M tokens for a model
type ModelPricing struct {
	InputCost  float64
	OutputCost float64
}

// UsageStats is the token usage and estimated cost of one or more requests
type UsageStats struct {
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Requests     int       `json:"requests"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	TotalTokens  int64     `json:"total_tokens"`
	TotalCost    float64   `json:"total_cost"`
	RequestTime  time.Time `json:"request_time"`
}

// pricing is keyed by provider/model. Vision-capable models only.
var pricing = map[string]ModelPricing{
	"openai/gpt-4o":                 {InputCost: 2.50, OutputCost: 10.00},
	"openai/gpt-4o-mini":            {InputCost: 0.15, OutputCost: 0.60},
	"openai/gpt-4.1":                {InputCost: 2.00, OutputCost: 8.00},
	"openai/gpt-4.1-mini":           {InputCost: 0.40, OutputCost: 1.60},
	"openrouter/openai/gpt-4o-mini": {InputCost: 0.15, OutputCost: 0.60},
	"openrouter/openai/gpt-4o":      {InputCost: 2.50, OutputCost: 10.00},
}

// PricingFor returns the pricing for a model, falling back to a conservative estimate
func PricingFor(provider, model string) ModelPricing {
	if p, ok := pricing[provider+"/"+model]; ok {
		return p
	}

	switch provider {
	case "local":
		return ModelPricing{}
	case "openrouter":
		key := strings.ToLower(model)
		if strings.Contains(key, "gpt-4o-mini") {
			return pricing["openai/gpt-4o-mini"]
		}
		if strings.Contains(key, "gpt-4o") {
			return pricing["openai/gpt-4o"]
		}
	case "openai":
		return pricing["openai/gpt-4o"]
	}

	return ModelPricing{InputCost: 5.00, OutputCost: 15.00}
}

// CostTracker accumulates usage over the life of the process
type CostTracker struct {
	mu    sync.Mutex
	total UsageStats
}

// NewCostTracker creates an empty tracker
func NewCostTracker() *CostTracker {
	return &CostTracker{}
}

// Record adds one request and returns its own usage
func (t *CostTracker) Record(provider, model string, inputTokens, outputTokens int64) UsageStats {
	p := PricingFor(provider, model)
	usage := UsageStats{
		Provider:     provider,
		Model:        model,
		Requests:     1,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		TotalCost:    float64(inputTokens)/1e6*p.InputCost + float64(outputTokens)/1e6*p.OutputCost,
		RequestTime:  time.Now(),
	}

	t.mu.Lock()
	t.total.Provider = provider
	t.total.Model = model
	t.total.Requests++
	t.total.InputTokens += usage.InputTokens
	t.total.OutputTokens += usage.OutputTokens
	t.total.TotalTokens += usage.TotalTokens
	t.total.TotalCost += usage.TotalCost
	t.total.RequestTime = usage.RequestTime
	t.mu.Unlock()

	return usage
}

// Total returns the accumulated usage
func (t *CostTracker) Total() UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// FormatCost formats a cost in USD for display
func FormatCost(cost float64) string {
	if cost < 0.001 {
		return fmt.Sprintf("$%.4f", cost)
	} else if cost < 0.01 {
		return fmt.Sprintf("$%.3f", cost)
	}
	return fmt.Sprintf("$%.2f", cost)
}

// FormatTokens formats token counts for display
func FormatTokens(tokens int64) string {
	if tokens < 1000 {
		return fmt.Sprintf("%d", tokens)
	} else if tokens < 1000000 {
		return fmt.Sprintf("%.1fK", float64(tokens)/1000.0)
	}
	return fmt.Sprintf("%.1fM", float64(tokens)/1000000.0)
}
