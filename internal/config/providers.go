package config

import (
	"fmt"
	"strings"
)

// ProviderInfo describes an OpenAI-compatible AI provider
type ProviderInfo struct {
	ID           string // provider identifier used in config (openai, openrouter, local)
	DisplayName  string
	BaseURL      string // chat completions base, without the /chat/completions suffix
	DefaultModel string // used when ai.model is empty; must accept image input
	RequiresKey  bool
}

// ProviderRegistry holds the providers DeltaWatch knows how to talk to
var ProviderRegistry = []ProviderInfo{
	{
		ID:           "openai",
		DisplayName:  "OpenAI",
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: "gpt-4o-mini",
		RequiresKey:  true,
	},
	{
		ID:           "openrouter",
		DisplayName:  "OpenRouter",
		BaseURL:      "https://openrouter.ai/api/v1",
		DefaultModel: "openai/gpt-4o-mini",
		RequiresKey:  true,
	},
	{
		ID:           "local",
		DisplayName:  "Local (Ollama)",
		BaseURL:      "http://localhost:11434/v1",
		DefaultModel: "llava",
		RequiresKey:  false,
	},
}

// LookupProvider returns a provider by its ID
func LookupProvider(id string) (ProviderInfo, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, p := range ProviderRegistry {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderInfo{}, false
}

// ResolveAI fills the endpoint and model from the provider registry.
// An explicit endpoint wins, which is how custom OpenAI-compatible servers are configured.
func ResolveAI(ai AIConfig) (endpoint, model string, err error) {
	endpoint = strings.TrimRight(ai.Endpoint, "/")
	model = ai.Model

	provider, known := LookupProvider(ai.Provider)
	if endpoint == "" {
		if !known {
			return "", "", fmt.Errorf("unknown AI provider %q and no endpoint configured", ai.Provider)
		}
		endpoint = provider.BaseURL
	}
	if model == "" {
		if !known {
			return "", "", fmt.Errorf("ai.model is required for custom provider %q", ai.Provider)
		}
		model = provider.DefaultModel
	}
	return endpoint, model, nil
}

// ProviderIDs returns all provider IDs, for CLI help text
func ProviderIDs() []string {
	ids := make([]string, len(ProviderRegistry))
	for i, p := range ProviderRegistry {
		ids[i] = p.ID
	}
	return ids
}
