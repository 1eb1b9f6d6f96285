// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Ollama         OllamaConfig         `yaml:"ollama"`
	Memory         MemoryConfig         `yaml:"memory"`
	EmbeddingCache EmbeddingCacheConfig `yaml:"embedding_cache"`
	ResponseCache  ResponseCacheConfig  `yaml:"response_cache"`
	Auth           AuthConfig           `yaml:"auth"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Sessions       SessionConfig        `yaml:"sessions"`
	Prompt         PromptConfig         `yaml:"prompt"`
	Encryption     EncryptionConfig     `yaml:"encryption"`
	Logging        LoggingConfig        `yaml:"logging"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Tracing        TracingConfig        `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig contains Postgres settings. When Enabled is false the
// service runs entirely on the in-memory store.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// OllamaConfig contains settings for the local Ollama server used for
// keyless agents and embeddings.
type OllamaConfig struct {
	Host           string `yaml:"host"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// MemoryConfig contains conversational memory settings.
type MemoryConfig struct {
	Enabled                    bool             `yaml:"enabled"`
	RecallLimit                int              `yaml:"recall_limit"`
	MinSimilarity              float64          `yaml:"min_similarity"`
	HighImportanceThreshold    float64          `yaml:"high_importance_threshold"`
	AlwaysInjectHighImportance bool             `yaml:"always_inject_high_importance"`
	Extraction                 ExtractionConfig `yaml:"extraction"`
}

// ExtractionConfig controls the structured memory extraction pipeline.
type ExtractionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Inline    bool   `yaml:"inline"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

// EmbeddingCacheConfig bounds the embedding cache.
type EmbeddingCacheConfig struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// ResponseCacheConfig controls optional caching of completed responses.
type ResponseCacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Backend   string        `yaml:"backend"` // memory, redis
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	AdminAPIKey string `yaml:"admin_api_key"`
}

// RateLimitConfig defines per-token rate limiting parameters.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// SessionConfig controls the in-memory session manager. MaxSessions 0
// keeps sessions unbounded.
type SessionConfig struct {
	MaxSessions int `yaml:"max_sessions"`
}

// PromptConfig contains prompt composition settings.
type PromptConfig struct {
	DefaultStyle string            `yaml:"default_style"`
	Personas     map[string]string `yaml:"personas"`
}

// EncryptionConfig holds the key material for agent API key encryption.
// Key is either base64-encoded 32 bytes or a secret reference
// ("env://AGENTCORE_ENCRYPTION_KEY", "vault://secret/data/agentcore").
type EncryptionConfig struct {
	Key string `yaml:"key"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 180 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    5432,
			User:    "agentcore",
			DBName:  "agentcore",
			SSLMode: "disable",
		},
		Ollama: OllamaConfig{
			Host:           "http://localhost:11434",
			Model:          "llama3.2",
			EmbeddingModel: "nomic-embed-text",
		},
		Memory: MemoryConfig{
			Enabled:                    true,
			RecallLimit:                5,
			MinSimilarity:              0.7,
			HighImportanceThreshold:    0.8,
			AlwaysInjectHighImportance: true,
			Extraction: ExtractionConfig{
				Enabled:   true,
				Inline:    false,
				Model:     "llama3.2",
				BatchSize: 10,
			},
		},
		EmbeddingCache: EmbeddingCacheConfig{
			MaxSize: 1024,
			TTL:     time.Hour,
		},
		ResponseCache: ResponseCacheConfig{
			Enabled: false,
			Backend: "memory",
			TTL:     5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Prompt: PromptConfig{
			DefaultStyle: "default",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "agentcore",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Ollama.Host == "" {
		return fmt.Errorf("ollama.host is required")
	}

	if c.Memory.RecallLimit <= 0 {
		return fmt.Errorf("memory.recall_limit must be positive")
	}
	if c.Memory.MinSimilarity < 0 || c.Memory.MinSimilarity > 1 {
		return fmt.Errorf("memory.min_similarity must be in [0, 1]")
	}
	if c.Memory.HighImportanceThreshold < 0 || c.Memory.HighImportanceThreshold > 1 {
		return fmt.Errorf("memory.high_importance_threshold must be in [0, 1]")
	}

	if c.EmbeddingCache.MaxSize <= 0 {
		return fmt.Errorf("embedding_cache.max_size must be positive")
	}
	if c.EmbeddingCache.TTL <= 0 {
		return fmt.Errorf("embedding_cache.ttl must be positive")
	}

	switch c.ResponseCache.Backend {
	case "", "memory":
	case "redis":
		if c.ResponseCache.Enabled && c.ResponseCache.RedisAddr == "" {
			return fmt.Errorf("response_cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown response_cache.backend: %s", c.ResponseCache.Backend)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate_limit.requests_per_minute must be positive")
		}
		if c.RateLimit.BurstSize <= 0 {
			return fmt.Errorf("rate_limit.burst_size must be positive")
		}
	}

	if c.Sessions.MaxSessions < 0 {
		return fmt.Errorf("sessions.max_sessions cannot be negative")
	}

	if c.Database.Enabled {
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("database.host and database.dbname are required when the database is enabled")
		}
	}

	return nil
}
