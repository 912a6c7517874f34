package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema constrains the raw config document before unmarshaling.
// Types only; value-level rules live in Validate.
const configSchema = `{
	"type": "object",
	"properties": {
		"store": {
			"type": "object",
			"properties": {
				"path": {"type": "string"}
			}
		},
		"embedding": {
			"type": "object",
			"properties": {
				"api_key": {"type": "string"},
				"model": {"type": "string"},
				"base_url": {"type": "string"},
				"dimension": {"type": "integer"},
				"cache_max_distance": {"type": "integer"}
			}
		},
		"index": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"endpoint": {"type": "string"},
				"api_key": {"type": "string"},
				"namespace": {"type": "string"},
				"batch_size": {"type": "integer"},
				"max_payload_bytes": {"type": "integer"},
				"workers": {"type": "integer"},
				"poll_interval_ms": {"type": "integer"},
				"max_poll_attempts": {"type": "integer"},
				"reconcile_schedule": {"type": "string"}
			}
		},
		"logging": {
			"type": "object",
			"properties": {
				"level": {"type": "string"},
				"file": {"type": "string"},
				"console": {"type": "boolean"},
				"pretty": {"type": "boolean"}
			}
		},
		"tracing": {
			"type": "object",
			"properties": {
				"service_name": {"type": "string"},
				"sample_ratio": {"type": "number"}
			}
		}
	}
}`

var endpointPattern = regexp.MustCompile(`^https?://`)

// Validator validates configuration values
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(configSchema))
	if err != nil {
		// The schema is a compile-time constant; failing to parse it is a bug.
		panic(fmt.Sprintf("config schema: %v", err))
	}
	return &Validator{schema: schema}
}

// ValidateDocument checks a raw JSON config document against the schema
func (v *Validator) ValidateDocument(raw []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to validate config document: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("config document invalid: %s", strings.Join(problems, "; "))
	}

	return nil
}

// Validate checks value-level configuration rules
func (v *Validator) Validate(cfg *Config) error {
	if cfg.Store.Path == "" {
		return fmt.Errorf("store path cannot be empty")
	}

	if cfg.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Embedding.Model == "" {
		return fmt.Errorf("embedding model cannot be empty")
	}
	if cfg.Embedding.CacheMaxDistance < 0 {
		return fmt.Errorf("embedding cache_max_distance cannot be negative")
	}

	if cfg.Index.Enabled {
		if cfg.Index.Endpoint == "" {
			return fmt.Errorf("index endpoint required when index is enabled")
		}
		if !endpointPattern.MatchString(cfg.Index.Endpoint) {
			return fmt.Errorf("index endpoint must be an http(s) URL")
		}
		if cfg.Index.Namespace == "" {
			return fmt.Errorf("index namespace cannot be empty")
		}
	}
	if cfg.Index.BatchSize <= 0 {
		return fmt.Errorf("index batch_size must be positive")
	}
	if cfg.Index.MaxPayloadBytes <= 0 {
		return fmt.Errorf("index max_payload_bytes must be positive")
	}
	if cfg.Index.Workers <= 0 || cfg.Index.Workers > 64 {
		return fmt.Errorf("index workers must be in 1..64, got %d", cfg.Index.Workers)
	}
	if cfg.Index.MaxPollAttempts <= 0 {
		return fmt.Errorf("index max_poll_attempts must be positive")
	}
	if cfg.Index.PollIntervalMS <= 0 {
		return fmt.Errorf("index poll_interval_ms must be positive")
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample_ratio must be in [0, 1], got %v", cfg.Tracing.SampleRatio)
	}

	return nil
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	if provider == "openai" && !strings.HasPrefix(key, "sk-") {
		return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
	}

	return nil
}
