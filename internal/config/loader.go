package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName  = "config.yaml"
	ConfigDirName   = ".deltawatch"
	GlobalConfigDir = ".config/deltawatch"
)

// Loader handles configuration loading and discovery
type Loader struct {
	startDir   string
	explicit   string
	lookupEnv  func(string) string
	configPath string
}

// NewLoader creates a new config loader starting from the given directory.
// A non-empty explicitPath skips discovery.
func NewLoader(startDir, explicitPath string) *Loader {
	if startDir == "" {
		var err error
		startDir, err = os.Getwd()
		if err != nil {
			startDir = "."
		}
	}

	return &Loader{
		startDir:  startDir,
		explicit:  explicitPath,
		lookupEnv: os.Getenv,
	}
}

// Load loads the configuration with environment variable overrides. When no
// config file exists the defaults are used, rooted at the start directory.
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()
	root := l.startDir

	configPath, err := l.findConfigFile()
	switch {
	case err == nil:
		if err := l.loadFromFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		l.configPath = configPath
		root = filepath.Dir(filepath.Dir(configPath))
	case l.explicit != "":
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	if err := l.applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	// Relative data paths are anchored at the project root, not the cwd
	if !filepath.IsAbs(config.DataDir) {
		config.DataDir = filepath.Join(root, config.DataDir)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ConfigPath returns the file the last Load read, or "" when defaults were used
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// findConfigFile searches upward from the start directory for a config file
func (l *Loader) findConfigFile() (string, error) {
	if l.explicit != "" {
		if _, err := os.Stat(l.explicit); err != nil {
			return "", err
		}
		return l.explicit, nil
	}

	dir := l.startDir
	for {
		configPath := filepath.Join(dir, ConfigDirName, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		globalConfig := filepath.Join(homeDir, GlobalConfigDir, ConfigFileName)
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched upward from %s)", l.startDir)
}

// loadFromFile decodes a YAML file on top of the given defaults
func (l *Loader) loadFromFile(configPath string, config *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func (l *Loader) applyEnvOverrides(config *Config) error {
	env := l.lookupEnv

	if dir := env("DELTAWATCH_DATA_DIR"); dir != "" {
		config.DataDir = dir
	}
	if level := env("DELTAWATCH_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if proxy := env("DELTAWATCH_PROXY"); proxy != "" {
		config.Browser.Proxy = proxy
	}
	if path := env("DELTAWATCH_CHROME_PATH"); path != "" {
		config.Browser.ExecPath = path
	}
	if max := env("DELTAWATCH_MAX_BROWSERS"); max != "" {
		n, err := strconv.Atoi(max)
		if err != nil {
			return fmt.Errorf("DELTAWATCH_MAX_BROWSERS: %w", err)
		}
		config.Pool.MaxBrowsers = n
	}
	if tick := env("DELTAWATCH_TICK"); tick != "" {
		d, err := time.ParseDuration(tick)
		if err != nil {
			return fmt.Errorf("DELTAWATCH_TICK: %w", err)
		}
		config.Scheduler.Tick = d
	}

	// AI configuration overrides
	// Support both DELTAWATCH_AI_API_KEY and OPENAI_API_KEY for convenience
	if apiKey := env("DELTAWATCH_AI_API_KEY"); apiKey != "" {
		config.AI.APIKey = apiKey
	} else if config.AI.Provider == "openai" && config.AI.APIKey == "" {
		if apiKey := env("OPENAI_API_KEY"); apiKey != "" {
			config.AI.APIKey = apiKey
		}
	}
	if provider := env("DELTAWATCH_AI_PROVIDER"); provider != "" {
		config.AI.Provider = provider
	}
	if model := env("DELTAWATCH_AI_MODEL"); model != "" {
		config.AI.Model = model
	}
	if endpoint := env("DELTAWATCH_AI_ENDPOINT"); endpoint != "" {
		config.AI.Endpoint = endpoint
	}
	if enabled := env("DELTAWATCH_AI_ENABLED"); enabled != "" {
		config.AI.Enabled = parseBool(enabled)
	}

	// SMTP credentials are commonly kept out of the file
	if host := env("SMTP_HOST"); host != "" {
		config.Notifications.Email.Host = host
	}
	if port := env("SMTP_PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("SMTP_PORT: %w", err)
		}
		config.Notifications.Email.Port = n
	}
	if user := env("SMTP_USER"); user != "" {
		config.Notifications.Email.Username = user
	}
	if pass := env("SMTP_PASS"); pass != "" {
		config.Notifications.Email.Password = pass
	}
	if url := env("DELTAWATCH_WEBHOOK_URL"); url != "" {
		config.Notifications.Webhook.URL = url
		config.Notifications.Webhook.Enabled = true
	}

	return nil
}

// Save saves the configuration to the specified path
func (l *Loader) Save(config *Config, configPath string) error {
	config.Meta.UpdatedAt = time.Now()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the path where a config file should be created
func (l *Loader) GetConfigPath() string {
	return filepath.Join(l.startDir, ConfigDirName, ConfigFileName)
}

// IsInitialized checks if a config file exists in the project hierarchy
func (l *Loader) IsInitialized() bool {
	_, err := l.findConfigFile()
	return err == nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
