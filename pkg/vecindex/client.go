package vecindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/engramdev/engram/internal/observability"
	"github.com/engramdev/engram/pkg/memory"
)

// Record is one (id, vector, metadata) tuple written to the index
type Record struct {
	ID       string                `json:"id"`
	Values   []float32             `json:"values"`
	Metadata *memory.IndexMetadata `json:"metadata,omitempty"`
}

// Client is a thin REST client for the remote vector index service.
// Safe for concurrent use; intended to be shared process-wide.
type Client struct {
	endpoint        string
	apiKey          string
	namespace       string
	dimension       int
	pollInterval    time.Duration
	maxPollAttempts int
	httpClient      *http.Client
	logger          zerolog.Logger
	state           atomic.Int32
}

// ClientConfig holds vector index client configuration
type ClientConfig struct {
	Endpoint  string
	APIKey    string
	Namespace string
	Dimension int

	// PollInterval and MaxPollAttempts bound the readiness poll during
	// Initialize; defaults 1s / 30 attempts
	PollInterval    time.Duration
	MaxPollAttempts int

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewClient creates a vector index client in the Uninitialized state
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("index endpoint is required")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("index namespace is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("index dimension must be positive")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	maxPollAttempts := cfg.MaxPollAttempts
	if maxPollAttempts <= 0 {
		maxPollAttempts = 30
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		endpoint:        cfg.Endpoint,
		apiKey:          cfg.APIKey,
		namespace:       cfg.Namespace,
		dimension:       cfg.Dimension,
		pollInterval:    pollInterval,
		maxPollAttempts: maxPollAttempts,
		httpClient:      httpClient,
		logger:          cfg.Logger.With().Str("component", "vecindex").Str("namespace", cfg.Namespace).Logger(),
	}, nil
}

// State returns the current lifecycle state
func (c *Client) State() memory.IndexState {
	return memory.IndexState(c.state.Load())
}

func (c *Client) setState(s memory.IndexState) {
	c.state.Store(int32(s))
	observability.SetIndexState(int(s))
}

// Initialize creates the remote index namespace if absent and polls until
// it is ready. On timeout or unrecoverable error it does not fail: the
// client degrades permanently and every later call becomes a no-op, so the
// memory system keeps serving primary-store-only search. Idempotent.
func (c *Client) Initialize(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(memory.StateUninitialized), int32(memory.StateInitializing)) {
		// Already initializing, ready, or degraded
		return nil
	}
	observability.SetIndexState(int(memory.StateInitializing))

	if err := c.createIfAbsent(ctx); err != nil {
		c.degrade(err)
		return nil
	}

	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		ready, err := c.describeReady(ctx)
		if err != nil {
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("Index status poll failed")
		} else if ready {
			c.setState(memory.StateReady)
			c.logger.Info().Msg("Vector index ready")
			return nil
		}

		if attempt == c.maxPollAttempts {
			break
		}

		select {
		case <-ctx.Done():
			c.degrade(ctx.Err())
			return nil
		case <-time.After(c.pollInterval):
		}
	}

	c.degrade(fmt.Errorf("index not ready after %d attempts", c.maxPollAttempts))
	return nil
}

// degrade is permanent for the process; a supervisor recovers by building a
// fresh client. Logged once, here.
func (c *Client) degrade(cause error) {
	c.setState(memory.StateDegraded)
	c.logger.Error().Err(cause).Msg("Vector index unavailable, degrading to primary-store-only search")
}

// Upsert writes one batch of records. Returns an error only while Ready;
// in any other state it is a silent no-op.
func (c *Client) Upsert(ctx context.Context, records []Record) error {
	if c.State() != memory.StateReady || len(records) == 0 {
		return nil
	}

	req := upsertRequest{Namespace: c.namespace, Vectors: records}
	var resp upsertResponse
	if err := c.do(ctx, http.MethodPost, "/vectors/upsert", req, &resp); err != nil {
		return fmt.Errorf("%w: %w", memory.ErrIndexWrite, err)
	}
	return nil
}

// Query returns ranked matches. Remote failures are logged and produce an
// empty result, never an error.
func (c *Client) Query(ctx context.Context, embedding []float32, topK int, filter memory.IndexFilter) ([]memory.IndexMatch, error) {
	if c.State() != memory.StateReady {
		return nil, nil
	}

	start := time.Now()
	defer func() { observability.RecordIndexQuery(time.Since(start)) }()

	req := queryRequest{
		Namespace:       c.namespace,
		Vector:          embedding,
		TopK:            topK,
		Filter:          filter,
		IncludeMetadata: true,
	}
	var resp queryResponse
	if err := c.do(ctx, http.MethodPost, "/query", req, &resp); err != nil {
		c.logger.Warn().Err(fmt.Errorf("%w: %w", memory.ErrIndexQuery, err)).Msg("Index query failed")
		return nil, nil
	}

	return resp.Matches, nil
}

// Delete removes one record, best-effort
func (c *Client) Delete(ctx context.Context, id string) error {
	if c.State() != memory.StateReady {
		return nil
	}

	req := deleteRequest{Namespace: c.namespace, IDs: []string{id}}
	if err := c.do(ctx, http.MethodPost, "/vectors/delete", req, nil); err != nil {
		observability.RecordIndexDelete(false)
		c.logger.Warn().Err(err).Str("id", id).Msg("Index delete failed")
		return fmt.Errorf("%w: %w", memory.ErrIndexDelete, err)
	}
	observability.RecordIndexDelete(true)
	return nil
}

// DeleteByFilter removes every record matching the filter, best-effort
func (c *Client) DeleteByFilter(ctx context.Context, filter memory.IndexFilter) error {
	if c.State() != memory.StateReady {
		return nil
	}

	req := deleteRequest{Namespace: c.namespace, Filter: &filter}
	if err := c.do(ctx, http.MethodPost, "/vectors/delete", req, nil); err != nil {
		observability.RecordIndexDelete(false)
		c.logger.Warn().Err(err).Msg("Index delete by filter failed")
		return fmt.Errorf("%w: %w", memory.ErrIndexDelete, err)
	}
	observability.RecordIndexDelete(true)
	return nil
}

func (c *Client) createIfAbsent(ctx context.Context) error {
	req := createDatabaseRequest{
		Name:      c.namespace,
		Dimension: c.dimension,
		Metric:    "cosine",
	}

	err := c.do(ctx, http.MethodPost, "/databases", req, nil)
	var httpErr *statusError
	if errors.As(err, &httpErr) && httpErr.code == http.StatusConflict {
		// Already exists
		return nil
	}
	return err
}

func (c *Client) describeReady(ctx context.Context) (bool, error) {
	var resp describeResponse
	if err := c.do(ctx, http.MethodGet, "/databases/"+c.namespace, nil, &resp); err != nil {
		return false, err
	}
	return resp.Status.Ready, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("index service error (status %d): %s", e.code, e.body)
}

// do performs one JSON request against the index service
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call index service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: string(data)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

type createDatabaseRequest struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
}

type describeResponse struct {
	Status struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

type upsertRequest struct {
	Namespace string   `json:"namespace"`
	Vectors   []Record `json:"vectors"`
}

type upsertResponse struct {
	UpsertedCount int `json:"upsertedCount"`
}

type queryRequest struct {
	Namespace       string             `json:"namespace"`
	Vector          []float32          `json:"vector"`
	TopK            int                `json:"topK"`
	Filter          memory.IndexFilter `json:"filter"`
	IncludeMetadata bool               `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []memory.IndexMatch `json:"matches"`
}

type deleteRequest struct {
	Namespace string              `json:"namespace"`
	IDs       []string            `json:"ids,omitempty"`
	Filter    *memory.IndexFilter `json:"filter,omitempty"`
}
