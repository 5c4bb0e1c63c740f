// Package config handles AgentDash configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/agentdash/config.yaml, /etc/agentdash/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentdash", "config.yaml"))
	}

	paths = append(paths, "/etc/agentdash/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all AgentDash configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Store      StoreConfig      `yaml:"store"`
	Models     ModelsConfig     `yaml:"models"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Search     SearchConfig     `yaml:"search"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	ImageScore ImageScoreConfig `yaml:"image_score"`
	ClaimLink  ClaimLinkConfig  `yaml:"claim_link"`
	Agent      AgentConfig      `yaml:"agent"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
	// PublicURL is the externally reachable base URL, used for links to
	// stored blobs such as claim link QR codes.
	PublicURL string `yaml:"public_url"`
	// APIKey, when set, is required as a Bearer token on the chat and
	// tool test endpoints.
	APIKey string `yaml:"api_key"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`
	// DSN is the postgres connection string. Ignored for sqlite, which
	// lives at <data_dir>/agentdash.db.
	DSN string `yaml:"dsn"`
	// EmbeddingDimensions sizes the pgvector column for member profiles.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// ModelsConfig defines model routing settings.
type ModelsConfig struct {
	Default   string                  `yaml:"default"`
	OllamaURL string                  `yaml:"ollama_url"`
	Available []ModelConfig           `yaml:"available"`
	Pricing   map[string]PricingEntry `yaml:"pricing"`
}

// PricingEntry is the USD cost per million tokens for one model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// ModelConfig maps a model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // openai, ollama
}

// OpenAIConfig defines settings for any OpenAI-compatible completion
// endpoint (OpenAI itself, an AI gateway, OpenRouter, ...).
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// TimeoutSec bounds a single completion call (default 60).
	TimeoutSec int `yaml:"timeout_sec"`
}

// Configured reports whether an OpenAI API key is set.
func (c OpenAIConfig) Configured() bool {
	return c.APIKey != ""
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider"` // openai (default when an API key is set) or ollama
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// SearchConfig configures web search providers. Providers are tried in
// the order primary, then fallback.
type SearchConfig struct {
	Primary  string        `yaml:"primary"`
	Fallback string        `yaml:"fallback"`
	Brave    BraveConfig   `yaml:"brave"`
	SearXNG  SearXNGConfig `yaml:"searxng"`
}

// BraveConfig holds Brave Search credentials.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// SearXNGConfig points at a SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// TelegramConfig defines the Bot API used for progress notifications
// and replies.
type TelegramConfig struct {
	APIURL string `yaml:"api_url"` // default https://api.telegram.org
	// MessagesPerSecond throttles outbound messages per bot (default 1).
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	// WebhookSecret, when set, must match the
	// X-Telegram-Bot-Api-Secret-Token header on webhook calls.
	WebhookSecret string `yaml:"webhook_secret"`
}

// ImageScoreConfig points at the external image scoring service.
type ImageScoreConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// Configured reports whether the image scoring service is set.
func (c ImageScoreConfig) Configured() bool {
	return c.URL != ""
}

// ClaimLinkConfig controls profile claim link issuance.
type ClaimLinkConfig struct {
	BaseURL string        `yaml:"base_url"`
	TTL     time.Duration `yaml:"ttl"`
}

// AgentConfig tunes the orchestrator.
type AgentConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	SystemPrompt  string `yaml:"system_prompt"`
	HistoryLimit  int    `yaml:"history_limit"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"` // reported as deployment.environment
	InstanceID  string `yaml:"instance_id"` // default: random per process
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Listen.PublicURL == "" {
		c.Listen.PublicURL = fmt.Sprintf("http://localhost:%d", c.Listen.Port)
	}
	if c.Models.Pricing == nil {
		c.Models.Pricing = map[string]PricingEntry{
			"gpt-4o":      {InputPerMillion: 2.5, OutputPerMillion: 10},
			"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.6},
		}
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.EmbeddingDimensions == 0 {
		c.Store.EmbeddingDimensions = 1536
	}
	if c.Models.Default == "" {
		c.Models.Default = "gpt-4o-mini"
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	for i := range c.Models.Available {
		if c.Models.Available[i].Provider == "" {
			c.Models.Available[i].Provider = "openai"
		}
	}
	if c.OpenAI.TimeoutSec == 0 {
		c.OpenAI.TimeoutSec = 60
	}
	if c.Embeddings.Provider == "" {
		if c.OpenAI.Configured() {
			c.Embeddings.Provider = "openai"
		} else {
			c.Embeddings.Provider = "ollama"
		}
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Models.OllamaURL
	}
	if c.Search.Primary == "" {
		c.Search.Primary = "brave"
	}
	if c.Search.Fallback == "" {
		c.Search.Fallback = "duckduckgo"
	}
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = "https://api.telegram.org"
	}
	if c.Telegram.MessagesPerSecond == 0 {
		c.Telegram.MessagesPerSecond = 1
	}
	if c.ClaimLink.TTL == 0 {
		c.ClaimLink.TTL = 24 * time.Hour
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 5
	}
	if c.Agent.HistoryLimit == 0 {
		c.Agent.HistoryLimit = 20
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "agentdash"
	}
}

// Validate checks the configuration for values that would fail at
// runtime. It does not check connectivity.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q (valid: sqlite, postgres)", c.Store.Driver)
	}
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "openai", "ollama":
		default:
			return fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider)
		}
	}
	switch c.Embeddings.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown embeddings.provider %q", c.Embeddings.Provider)
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1")
	}
	return nil
}
