package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/engramdev/engram/internal/observability"
)

// EmbeddingProvider generates vector embeddings from text
type EmbeddingProvider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// CachedLookup is an optional fuzzy-cache strategy consulted before the
// provider. A miss is (nil, nil); correctness never depends on hits.
type CachedLookup interface {
	LookupCached(ctx context.Context, text string) ([]float32, error)
}

// OpenAIProvider implements EmbeddingProvider against the OpenAI embeddings API
type OpenAIProvider struct {
	client    openai.Client
	model     string
	dimension int
}

// OpenAIConfig holds OpenAI provider configuration
type OpenAIConfig struct {
	APIKey    string
	Model     string
	BaseURL   string // optional, for compatible endpoints
	Dimension int
}

// NewOpenAIProvider creates a new OpenAI embedding provider
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 1536
	}

	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: dimension,
	}
}

// Dimension returns the configured embedding dimension
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

// GenerateEmbedding embeds a single text
func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// GenerateEmbeddings embeds a batch of texts in one provider call
func (p *OpenAIProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		var apierr *openai.Error
		if errors.As(err, &apierr) {
			return nil, &ProviderError{Provider: "openai", StatusCode: apierr.StatusCode, Err: err}
		}
		return nil, &ProviderError{Provider: "openai", Err: err}
	}

	if len(resp.Data) != len(texts) {
		return nil, &ProviderError{
			Provider: "openai",
			Err:      fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
		}
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vec := make([]float32, len(data.Embedding))
		for j, x := range data.Embedding {
			vec[j] = float32(x)
		}
		embeddings[i] = vec
	}

	return embeddings, nil
}

// Embedder turns text into validated embeddings, consulting an optional
// fuzzy cache before calling the provider. It applies no retry policy;
// callers decide whether to retry.
type Embedder struct {
	provider EmbeddingProvider
	cache    CachedLookup
	logger   zerolog.Logger
}

// NewEmbedder creates an Embedder. cache may be nil.
func NewEmbedder(provider EmbeddingProvider, cache CachedLookup, logger zerolog.Logger) *Embedder {
	return &Embedder{
		provider: provider,
		cache:    cache,
		logger:   logger.With().Str("component", "embedder").Logger(),
	}
}

// Dimension returns the provider's embedding dimension
func (e *Embedder) Dimension() int {
	return e.provider.Dimension()
}

// Embed returns a validated embedding for text. A provider result with the
// wrong dimension or all-zero components is a ProviderError: the sentinel is
// a caller-supplied placeholder, never a provider outcome.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		cached, err := e.cache.LookupCached(ctx, text)
		if err != nil {
			// Cache trouble is not an embed failure; fall through to the provider
			e.logger.Warn().Err(err).Msg("Cached embedding lookup failed")
		}
		observability.RecordEmbeddingCacheLookup(cached != nil)
		if cached != nil {
			return cached, nil
		}
	}

	start := time.Now()
	vec, err := e.provider.GenerateEmbedding(ctx, text)
	observability.RecordEmbedding(time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}

	if err := e.validate(vec); err != nil {
		return nil, err
	}

	return vec, nil
}

func (e *Embedder) validate(vec []float32) error {
	if len(vec) != e.provider.Dimension() {
		return &ProviderError{
			Provider: "embedder",
			Err:      fmt.Errorf("embedding dimension %d, want %d", len(vec), e.provider.Dimension()),
		}
	}
	if IsZeroVector(vec) {
		return &ProviderError{
			Provider: "embedder",
			Err:      errors.New("provider returned an all-zero vector"),
		}
	}
	return nil
}
