// Package config loads and persists the Cedar configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Cedar configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// DataDir is the root directory for databases, logs, and registry
	// files. Relative paths in the other sections resolve against it.
	DataDir string `yaml:"data_dir"`

	// Reasoning service configuration
	LLM LLMConfig `yaml:"llm"`

	// Chat store and session settings
	Chat ChatConfig `yaml:"chat"`

	// Agent registry settings
	Agents AgentsConfig `yaml:"agents"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the reasoning service client.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// ChatConfig configures chat persistence and session behavior.
type ChatConfig struct {
	DatabasePath    string `yaml:"database_path"`
	Retention       string `yaml:"retention"`
	ActiveScanLimit int    `yaml:"active_scan_limit"`
	ListLimit       int    `yaml:"list_limit"`
}

// AgentsConfig configures the agent registry.
type AgentsConfig struct {
	RegistryPath string `yaml:"registry_path"`
}

// LoggingConfig configures category-based file logging. The logging
// package reads this same section directly from the config file.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "cedar",
		Version: "1.0.0",

		DataDir: defaultDataDir(),

		LLM: LLMConfig{
			Model:   "gpt-4o-mini",
			BaseURL: "https://api.openai.com/v1",
			Timeout: "120s",
		},

		Chat: ChatConfig{
			DatabasePath:    "chats.db",
			Retention:       "720h",
			ActiveScanLimit: 10,
			ListLimit:       50,
		},

		Agents: AgentsConfig{
			RegistryPath: "agents.yaml",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, "CedarData")
}

// Path returns the config file path inside the data directory.
func Path(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment variables override both.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("CEDAR_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if url := os.Getenv("CEDAR_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if model := os.Getenv("CEDAR_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if dir := os.Getenv("CEDAR_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if path := os.Getenv("CEDAR_DB"); path != "" {
		c.Chat.DatabasePath = path
	}
}

// DatabasePath resolves the chat database path against the data dir.
func (c *Config) DatabasePath() string {
	if c.Chat.DatabasePath == ":memory:" || filepath.IsAbs(c.Chat.DatabasePath) {
		return c.Chat.DatabasePath
	}
	return filepath.Join(c.DataDir, c.Chat.DatabasePath)
}

// RegistryPath resolves the agent registry path against the data dir.
func (c *Config) RegistryPath() string {
	if filepath.IsAbs(c.Agents.RegistryPath) {
		return c.Agents.RegistryPath
	}
	return filepath.Join(c.DataDir, c.Agents.RegistryPath)
}

// GetLLMTimeout returns the reasoning-service timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetRetention returns the chat retention window as a duration.
func (c *Config) GetRetention() time.Duration {
	d, err := time.ParseDuration(c.Chat.Retention)
	if err != nil {
		return 30 * 24 * time.Hour
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("reasoning API key not configured (set OPENAI_API_KEY or CEDAR_API_KEY)")
	}
	if c.Chat.DatabasePath == "" {
		return fmt.Errorf("chat database path not configured")
	}
	return nil
}
