package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the memory system configuration
type Config struct {
	// Store holds primary store settings
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Embedding holds embedding provider settings
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	// Index holds remote vector index settings
	Index IndexConfig `json:"index" mapstructure:"index"`

	// Logging holds logging settings
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing holds tracing settings
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// StoreConfig holds primary store configuration
type StoreConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Model     string `json:"model" mapstructure:"model"`
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`

	// CacheMaxDistance bounds the fuzzy cached-embedding lookup; 0 disables it
	CacheMaxDistance int `json:"cache_max_distance" mapstructure:"cache_max_distance"`
}

// IndexConfig holds remote vector index configuration
type IndexConfig struct {
	Enabled         bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
	APIKey          string `json:"api_key" mapstructure:"api_key"`
	Namespace       string `json:"namespace" mapstructure:"namespace"`
	BatchSize       int    `json:"batch_size" mapstructure:"batch_size"`
	MaxPayloadBytes int    `json:"max_payload_bytes" mapstructure:"max_payload_bytes"`
	Workers         int    `json:"workers" mapstructure:"workers"`
	PollIntervalMS  int    `json:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	MaxPollAttempts int    `json:"max_poll_attempts" mapstructure:"max_poll_attempts"`

	// ReconcileSchedule is a cron expression for periodic index rebuilds;
	// empty disables the reconciler
	ReconcileSchedule string `json:"reconcile_schedule" mapstructure:"reconcile_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	ServiceName string `json:"service_name" mapstructure:"service_name"`

	// SampleRatio is the fraction of root traces sampled, in (0, 1]
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "engram.db",
		},
		Embedding: EmbeddingConfig{
			Model:            "text-embedding-3-small",
			Dimension:        1536,
			CacheMaxDistance: 5,
		},
		Index: IndexConfig{
			Enabled:         false,
			Namespace:       "memories",
			BatchSize:       100,
			MaxPayloadBytes: 2 << 20,
			Workers:         4,
			PollIntervalMS:  1000,
			MaxPollAttempts: 30,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Tracing: TracingConfig{
			ServiceName: "engram",
			SampleRatio: 1,
		},
	}
}

// String returns the config rendered as JSON with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Embedding.APIKey != "" {
		masked.Embedding.APIKey = "***"
	}
	if masked.Index.APIKey != "" {
		masked.Index.APIKey = "***"
	}

	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("config marshal error: %v", err)
	}
	return string(data)
}
