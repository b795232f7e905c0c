package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the textrag API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Inference InferenceConfig `yaml:"inference"`
	Cache     CacheConfig     `yaml:"cache"`
	RAG       RAGConfig       `yaml:"rag"`
	Runner    RunnerConfig    `yaml:"runner"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// StoreConfig holds vector document store (qdrant) settings.
type StoreConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// InferenceConfig holds the task executor model settings.
type InferenceConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// CacheConfig holds Redis cache and task state settings.
type CacheConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	TTLSec           int      `yaml:"ttl_sec"`
	TaskRetentionSec int      `yaml:"task_retention_sec"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// RAGConfig holds retrieval fan-out and context size settings.
type RAGConfig struct {
	RetrieveLimit int `yaml:"retrieve_limit"` // N: documents fetched per query
	ContextSize   int `yaml:"context_size"`   // K: reranked documents used as context
}

// RunnerConfig holds async worker pool settings.
type RunnerConfig struct {
	Workers        int `yaml:"workers"`
	TaskTimeoutSec int `yaml:"task_timeout_sec"`
}

// WebhookConfig holds webhook delivery settings.
// MaxRetries = 0 delivers exactly once and drops failures (legacy behavior);
// MaxRetries > 0 retries with exponential backoff before dead-lettering.
type WebhookConfig struct {
	Enabled    bool `yaml:"enabled"`
	TimeoutSec int  `yaml:"timeout_sec"`
	MaxRetries int  `yaml:"max_retries"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Store.Port <= 0 {
		c.Store.Port = 6334
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "textrag_documents"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 3600
	}
	if c.Cache.TaskRetentionSec <= 0 {
		c.Cache.TaskRetentionSec = 24 * 3600
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}
	if c.RAG.RetrieveLimit <= 0 {
		c.RAG.RetrieveLimit = 5
	}
	if c.RAG.ContextSize <= 0 {
		c.RAG.ContextSize = 2
	}
	if c.Runner.Workers <= 0 {
		c.Runner.Workers = 4
	}
	if c.Runner.TaskTimeoutSec <= 0 {
		c.Runner.TaskTimeoutSec = 120
	}
	if c.Webhook.TimeoutSec <= 0 {
		c.Webhook.TimeoutSec = 5
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Store.Host == "" {
		return fmt.Errorf("store.host is required")
	}
	if len(c.Cache.Addrs) == 0 {
		return fmt.Errorf("cache.addrs is required")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Inference.Model == "" {
		return fmt.Errorf("inference.model is required")
	}
	if c.RAG.ContextSize > c.RAG.RetrieveLimit {
		return fmt.Errorf(
			"rag.context_size (%d) cannot exceed rag.retrieve_limit (%d)",
			c.RAG.ContextSize, c.RAG.RetrieveLimit,
		)
	}
	if c.Webhook.MaxRetries < 0 {
		return fmt.Errorf("webhook.max_retries cannot be negative, got %d", c.Webhook.MaxRetries)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
