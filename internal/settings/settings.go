// Package settings merges the config file with setting overrides stored in the
// database. Overrides are read on every use, so edits apply to the next check.
package settings

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/lance13c/deltawatch/internal/browser"
	"github.com/lance13c/deltawatch/internal/config"
	"github.com/lance13c/deltawatch/internal/llm"
	"github.com/lance13c/deltawatch/internal/logging"
	"github.com/lance13c/deltawatch/internal/notify"
)

// Store reads stored overrides
type Store interface {
	GetSettings(ctx context.Context) (map[string]string, error)
}

// setter applies one override to a config copy
type setter func(cfg *config.Config, value string) error

func stringSetter(field func(*config.Config) *string) setter {
	return func(cfg *config.Config, value string) error {
		*field(cfg) = value
		return nil
	}
}

func boolSetter(field func(*config.Config) *bool) setter {
	return func(cfg *config.Config, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", value)
		}
		*field(cfg) = b
		return nil
	}
}

var setters = map[string]setter{
	"proxy":      stringSetter(func(c *config.Config) *string { return &c.Browser.Proxy }),
	"user_agent": stringSetter(func(c *config.Config) *string { return &c.Browser.UserAgent }),

	"ai.enabled":  boolSetter(func(c *config.Config) *bool { return &c.AI.Enabled }),
	"ai.provider": stringSetter(func(c *config.Config) *string { return &c.AI.Provider }),
	"ai.api_key":  stringSetter(func(c *config.Config) *string { return &c.AI.APIKey }),
	"ai.model":    stringSetter(func(c *config.Config) *string { return &c.AI.Model }),
	"ai.endpoint": stringSetter(func(c *config.Config) *string { return &c.AI.Endpoint }),

	"email.enabled":   boolSetter(func(c *config.Config) *bool { return &c.Notifications.Email.Enabled }),
	"email.smtp_host": stringSetter(func(c *config.Config) *string { return &c.Notifications.Email.Host }),
	"email.smtp_port": func(c *config.Config, value string) error {
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port %q", value)
		}
		c.Notifications.Email.Port = port
		return nil
	},
	"email.smtp_user": stringSetter(func(c *config.Config) *string { return &c.Notifications.Email.Username }),
	"email.smtp_pass": stringSetter(func(c *config.Config) *string { return &c.Notifications.Email.Password }),
	"email.from":      stringSetter(func(c *config.Config) *string { return &c.Notifications.Email.From }),
	"email.to": func(c *config.Config, value string) error {
		var to []string
		for _, addr := range strings.Split(value, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				to = append(to, addr)
			}
		}
		c.Notifications.Email.To = to
		return nil
	},

	"webhook.enabled": boolSetter(func(c *config.Config) *bool { return &c.Notifications.Webhook.Enabled }),
	"webhook.url":     stringSetter(func(c *config.Config) *string { return &c.Notifications.Webhook.URL }),

	"push.enabled": boolSetter(func(c *config.Config) *bool { return &c.Notifications.Push.Enabled }),
	"push.server":  stringSetter(func(c *config.Config) *string { return &c.Notifications.Push.Server }),
	"push.topic":   stringSetter(func(c *config.Config) *string { return &c.Notifications.Push.Topic }),
	"push.token":   stringSetter(func(c *config.Config) *string { return &c.Notifications.Push.Token }),
}

// secretKeys are masked when settings are printed
var secretKeys = map[string]bool{
	"ai.api_key":      true,
	"email.smtp_pass": true,
	"push.token":      true,
}

// Keys returns the supported override keys, sorted
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsSecret reports whether a key holds a credential
func IsSecret(key string) bool {
	return secretKeys[key]
}

// Validate checks that key is known and value parses for it
func Validate(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	return set(config.DefaultConfig(), value)
}

// Apply returns a copy of base with the overrides applied. Unknown keys and
// unparsable values are logged and skipped.
func Apply(base *config.Config, overrides map[string]string) *config.Config {
	cfg := *base
	for key, value := range overrides {
		set, ok := setters[key]
		if !ok {
			logging.Warn("Ignoring unknown stored setting %q", key)
			continue
		}
		if err := set(&cfg, value); err != nil {
			logging.Warn("Ignoring stored setting %s: %v", key, err)
		}
	}
	return &cfg
}

// Resolver yields the effective configuration at check time
type Resolver struct {
	holder *config.Holder
	store  Store

	mu     sync.Mutex
	lastAI *config.AIConfig
}

// NewResolver creates a resolver over the live config and the settings store
func NewResolver(holder *config.Holder, store Store) *Resolver {
	return &Resolver{holder: holder, store: store}
}

// Effective returns the config file merged with stored overrides. A store
// failure falls back to the config file alone.
func (r *Resolver) Effective(ctx context.Context) *config.Config {
	base := r.holder.Get()
	overrides, err := r.store.GetSettings(ctx)
	if err != nil {
		logging.Warn("Failed to read stored settings, using config file: %v", err)
		return base
	}
	if len(overrides) == 0 {
		return base
	}
	return Apply(base, overrides)
}

// LaunchOptions implements browser.OptionsSource
func (r *Resolver) LaunchOptions(ctx context.Context) browser.LaunchOptions {
	b := r.Effective(ctx).Browser
	return browser.LaunchOptions{
		ExecPath:     b.ExecPath,
		Headless:     b.Headless,
		UserAgent:    b.UserAgent,
		WindowWidth:  b.WindowWidth,
		WindowHeight: b.WindowHeight,
		Proxy:        b.Proxy,
	}
}

// Transports implements notify.TransportSource
func (r *Resolver) Transports(ctx context.Context) []notify.Transport {
	return notify.BuildTransports(r.Effective(ctx).Notifications)
}

// SyncAI swaps the AI client when the effective AI settings changed since
// the last call
func (r *Resolver) SyncAI(ctx context.Context, sw *llm.Switch) {
	ai := r.Effective(ctx).AI

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastAI != nil && *r.lastAI == ai {
		return
	}
	if r.lastAI != nil {
		logging.Info("AI settings changed (enabled=%v provider=%s model=%s)", ai.Enabled, ai.Provider, ai.Model)
	}
	sw.Set(llm.NewFromConfig(ai))
	r.lastAI = &ai
}
