package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty store path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantErr: "store path",
		},
		{
			name:    "zero dimension",
			mutate:  func(c *Config) { c.Embedding.Dimension = 0 },
			wantErr: "dimension",
		},
		{
			name:    "empty model",
			mutate:  func(c *Config) { c.Embedding.Model = "" },
			wantErr: "model",
		},
		{
			name: "enabled index without endpoint",
			mutate: func(c *Config) {
				c.Index.Enabled = true
				c.Index.Endpoint = ""
			},
			wantErr: "endpoint",
		},
		{
			name: "non-http endpoint",
			mutate: func(c *Config) {
				c.Index.Enabled = true
				c.Index.Endpoint = "ftp://index.example.com"
			},
			wantErr: "http",
		},
		{
			name:    "too many workers",
			mutate:  func(c *Config) { c.Index.Workers = 200 },
			wantErr: "workers",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Index.BatchSize = 0 },
			wantErr: "batch_size",
		},
		{
			name:    "sample ratio above one",
			mutate:  func(c *Config) { c.Tracing.SampleRatio = 1.5 },
			wantErr: "sample_ratio",
		},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := v.Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateDocument(t *testing.T) {
	v := NewValidator()

	err := v.ValidateDocument([]byte(`{"embedding": {"dimension": 1536}}`))
	assert.NoError(t, err)

	err = v.ValidateDocument([]byte(`{"embedding": {"dimension": "big"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")
}

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	assert.Error(t, v.ValidateAPIKey("", "openai"))
	assert.Error(t, v.ValidateAPIKey("bad-key", "openai"))
	assert.NoError(t, v.ValidateAPIKey("sk-abc123", "openai"))
}
