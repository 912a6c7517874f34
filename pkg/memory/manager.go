package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/engramdev/engram/internal/observability"
	"github.com/engramdev/engram/internal/tracing"
)

const tracerName = "engram.memory"

// Manager orchestrates memory creation, merged similarity search and
// deletion across the primary store and the vector index mirror.
type Manager struct {
	store    PrimaryStore
	embedder *Embedder
	index    VectorIndex
	upserter Upserter
	merge    MergeStrategy
	table    string
	workers  int
	logger   zerolog.Logger
}

// Config holds memory manager configuration
type Config struct {
	Store    PrimaryStore
	Embedder *Embedder
	Table    string
	Logger   zerolog.Logger

	// Index and Upserter are optional; without them the manager runs
	// primary-store-only
	Index    VectorIndex
	Upserter Upserter

	// Merge defaults to ScoreMerge
	Merge MergeStrategy

	// Workers caps parallelism of batch creates, default 8
	Workers int
}

// NewManager creates a new memory manager
func NewManager(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, errors.New("primary store is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.Table == "" {
		return nil, errors.New("table is required")
	}

	merge := cfg.Merge
	if merge == nil {
		merge = ScoreMerge{}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}

	return &Manager{
		store:    cfg.Store,
		embedder: cfg.Embedder,
		index:    cfg.Index,
		upserter: cfg.Upserter,
		merge:    merge,
		table:    cfg.Table,
		workers:  workers,
		logger:   cfg.Logger.With().Str("component", "memory").Str("table", cfg.Table).Logger(),
	}, nil
}

// Table returns the table this manager is scoped to
func (m *Manager) Table() string {
	return m.table
}

// CreateMemory persists one memory. The primary store write is the
// durability point; the index mirror write is awaited but its failure is
// logged, never returned. Duplicate ids are a no-op success.
func (m *Manager) CreateMemory(ctx context.Context, mem *Memory, unique bool) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.create",
		attribute.String("table", m.table),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, m.logger)
	start := time.Now()

	err := m.createMemory(ctx, logger, mem, unique)
	observability.RecordMemoryCreate(m.table, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (m *Manager) createMemory(ctx context.Context, logger zerolog.Logger, mem *Memory, unique bool) error {
	if err := m.prepare(mem); err != nil {
		return err
	}

	// Pre-check is an optimization; the store's idempotent create is the
	// correctness mechanism under concurrent same-id callers.
	existing, err := m.store.GetByID(ctx, m.table, mem.ID)
	if err != nil {
		return fmt.Errorf("existence check: %w", err)
	}
	if existing != nil {
		logger.Debug().Str("id", mem.ID).Msg("Memory already exists, skipping")
		return nil
	}

	if err := m.ensureEmbedding(ctx, mem); err != nil {
		return err
	}

	if err := m.store.Create(ctx, m.table, mem, unique); err != nil {
		return fmt.Errorf("primary store create: %w", err)
	}

	m.mirror(ctx, logger, []*Memory{mem})
	return nil
}

// FailedCreate attributes a batch-create failure to a single record
type FailedCreate struct {
	Memory *Memory
	Err    error
}

// BatchResult reports the outcome of CreateMemories
type BatchResult struct {
	Created []*Memory
	Failed  []FailedCreate
}

// CreateMemories persists a batch. Existence checks and store writes run
// with bounded parallelism; an embedding or store failure is attributed to
// its record and does not fail siblings. The novel embedded subset is
// mirrored in one submission.
func (m *Manager) CreateMemories(ctx context.Context, mems []*Memory, unique bool) (*BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.create_batch",
		attribute.String("table", m.table),
		attribute.Int("count", len(mems)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, m.logger)
	result := &BatchResult{}

	if len(mems) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	fail := func(mem *Memory, err error) {
		mu.Lock()
		result.Failed = append(result.Failed, FailedCreate{Memory: mem, Err: err})
		mu.Unlock()
	}

	// Phase 1: bounded-parallel existence checks compute the novel subset
	novel := make([]*Memory, len(mems))
	sem := make(chan struct{}, m.workers)
	var wg sync.WaitGroup
	for i, mem := range mems {
		if err := m.prepare(mem); err != nil {
			fail(mem, err)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, mem *Memory) {
			defer wg.Done()
			defer func() { <-sem }()

			existing, err := m.store.GetByID(ctx, m.table, mem.ID)
			if err != nil {
				fail(mem, fmt.Errorf("existence check: %w", err))
				return
			}
			if existing == nil {
				novel[i] = mem
			}
		}(i, mem)
	}
	wg.Wait()

	// Phase 2: embed then persist each novel record, isolating failures
	created := make([]*Memory, len(mems))
	for i, mem := range novel {
		if mem == nil {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, mem *Memory) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := m.ensureEmbedding(ctx, mem); err != nil {
				logger.Warn().Err(err).Str("id", mem.ID).Msg("Skipping memory, embedding failed")
				fail(mem, err)
				return
			}
			if err := m.store.Create(ctx, m.table, mem, unique); err != nil {
				fail(mem, fmt.Errorf("primary store create: %w", err))
				return
			}
			created[i] = mem
		}(i, mem)
	}
	wg.Wait()

	for _, mem := range created {
		if mem != nil {
			result.Created = append(result.Created, mem)
		}
	}

	m.mirror(ctx, logger, result.Created)

	logger.Debug().
		Int("requested", len(mems)).
		Int("created", len(result.Created)).
		Int("failed", len(result.Failed)).
		Msg("Batch create completed")

	return result, nil
}

// SearchByEmbedding queries the primary store and the vector index
// concurrently and merges the ranked results. A primary store failure
// surfaces; an index failure yields primary-only results. Index-only
// matches are confirmed against the primary store, so a stale mirror
// never resurrects a deleted memory.
func (m *Manager) SearchByEmbedding(ctx context.Context, embedding []float32, opts SearchOptions) ([]*Memory, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.search",
		attribute.String("table", m.table),
		attribute.String("room_id", opts.RoomID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, m.logger)
	start := time.Now()
	defer func() { observability.RecordMemorySearch(m.table, time.Since(start)) }()

	if len(embedding) == 0 || IsZeroVector(embedding) {
		// The sentinel carries no semantic content and is never ranked
		return []*Memory{}, nil
	}

	if opts.Count <= 0 {
		opts.Count = 10
	}

	var (
		primary  []*Memory
		matches  []IndexMatch
		storeErr error
		wg       sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		primary, storeErr = m.store.SearchBySimilarity(ctx, m.table, embedding, SimilarityQuery{
			RoomID:    opts.RoomID,
			AgentID:   opts.AgentID,
			Threshold: opts.Threshold,
			Count:     opts.Count,
			Unique:    opts.Unique,
		})
	}()

	if m.index != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			matches, err = m.index.Query(ctx, embedding, opts.Count, IndexFilter{
				RoomID: opts.RoomID,
				Table:  m.table,
			})
			if err != nil {
				// Defensive: the client already swallows remote failures
				logger.Warn().Err(err).Msg("Index query failed, using primary only")
				matches = nil
			}
		}()
	}

	wg.Wait()

	if storeErr != nil {
		span.RecordError(storeErr)
		span.SetStatus(codes.Error, storeErr.Error())
		return nil, fmt.Errorf("primary store search: %w", storeErr)
	}

	if opts.Threshold > 0 {
		kept := matches[:0]
		for _, match := range matches {
			if match.Score >= opts.Threshold {
				kept = append(kept, match)
			}
		}
		matches = kept
	}

	results := m.merge.Merge(primary, matches, opts.Count)
	results = m.confirmIndexMatches(ctx, logger, primary, results)

	logger.Debug().
		Int("primary", len(primary)).
		Int("index", len(matches)).
		Int("merged", len(results)).
		Msg("Search completed")

	return results, nil
}

// confirmIndexMatches drops merged results that no longer exist in the
// primary store. The mirror can lag deletes; the store is authoritative.
func (m *Manager) confirmIndexMatches(ctx context.Context, logger zerolog.Logger, primary, merged []*Memory) []*Memory {
	authoritative := make(map[string]struct{}, len(primary))
	for _, mem := range primary {
		authoritative[mem.ID] = struct{}{}
	}

	confirmed := merged[:0]
	for _, mem := range merged {
		if _, ok := authoritative[mem.ID]; ok {
			confirmed = append(confirmed, mem)
			continue
		}

		existing, err := m.store.GetByID(ctx, m.table, mem.ID)
		if err != nil {
			logger.Warn().Err(err).Str("id", mem.ID).Msg("Index match confirmation failed, dropping")
			continue
		}
		if existing == nil {
			logger.Debug().Str("id", mem.ID).Msg("Index match no longer in primary store, dropping")
			continue
		}
		confirmed = append(confirmed, mem)
	}

	return confirmed
}

// GetMemoryByID returns the memory with the given id, or nil when absent
func (m *Manager) GetMemoryByID(ctx context.Context, id string) (*Memory, error) {
	return m.store.GetByID(ctx, m.table, id)
}

// GetMemories returns memories of one room, most recent first
func (m *Manager) GetMemories(ctx context.Context, q RoomQuery) ([]*Memory, error) {
	return m.store.GetByRoom(ctx, m.table, q)
}

// GetMemoriesByRoomIDs returns memories across several rooms
func (m *Manager) GetMemoriesByRoomIDs(ctx context.Context, roomIDs []string, agentID string) ([]*Memory, error) {
	return m.store.GetByRooms(ctx, m.table, roomIDs, agentID)
}

// CountMemories counts memories of one room
func (m *Manager) CountMemories(ctx context.Context, roomID string, unique bool) (int, error) {
	return m.store.Count(ctx, m.table, roomID, unique)
}

// AddEmbedding fills a missing embedding in place. Explicit sentinel
// embeddings are left untouched.
func (m *Manager) AddEmbedding(ctx context.Context, mem *Memory) error {
	return m.ensureEmbedding(ctx, mem)
}

// RemoveMemory deletes one memory. The primary store delete must succeed;
// the index delete is best-effort.
func (m *Manager) RemoveMemory(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.remove",
		attribute.String("table", m.table),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, m.logger)

	if err := m.store.Remove(ctx, m.table, id); err != nil {
		observability.RecordMemoryRemove(m.table, false)
		span.RecordError(err)
		return fmt.Errorf("primary store remove: %w", err)
	}
	observability.RecordMemoryRemove(m.table, true)

	if m.index != nil {
		if err := m.index.Delete(ctx, id); err != nil {
			logger.Warn().Err(err).Str("id", id).Msg("Index delete failed")
		}
	}

	return nil
}

// RemoveAllMemories deletes every memory of a room. The primary store
// delete must succeed; the index delete is best-effort.
func (m *Manager) RemoveAllMemories(ctx context.Context, roomID string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.remove_all",
		attribute.String("table", m.table),
		attribute.String("room_id", roomID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, m.logger)

	if err := m.store.RemoveAllForRoom(ctx, m.table, roomID); err != nil {
		observability.RecordMemoryRemove(m.table, false)
		span.RecordError(err)
		return fmt.Errorf("primary store remove all: %w", err)
	}
	observability.RecordMemoryRemove(m.table, true)

	if m.index != nil {
		if err := m.index.DeleteByFilter(ctx, IndexFilter{RoomID: roomID, Table: m.table}); err != nil {
			logger.Warn().Err(err).Str("room_id", roomID).Msg("Index delete by filter failed")
		}
	}

	return nil
}

// prepare normalizes a memory before any backend sees it
func (m *Manager) prepare(mem *Memory) error {
	if mem == nil {
		return errors.New("memory is nil")
	}
	if mem.RoomID == "" {
		return errors.New("room id is required")
	}
	if mem.ID == "" {
		if mem.Content.Text == "" {
			return errors.New("memory id or content text is required")
		}
		mem.ID = ContentID(mem.Content.Text)
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	if len(mem.Embedding) > 0 && len(mem.Embedding) != m.embedder.Dimension() {
		return fmt.Errorf("embedding dimension %d, want %d", len(mem.Embedding), m.embedder.Dimension())
	}
	return nil
}

// ensureEmbedding attaches an embedding when none is present. An explicit
// all-zero vector is the caller-requested sentinel and is kept as-is.
func (m *Manager) ensureEmbedding(ctx context.Context, mem *Memory) error {
	if len(mem.Embedding) > 0 {
		return nil
	}

	vec, err := m.embedder.Embed(ctx, mem.Content.Text)
	if err != nil {
		return err
	}
	mem.Embedding = vec
	return nil
}

// mirror submits memories to the index mirror, awaited; failures are
// reflected in stats and logged, never returned.
func (m *Manager) mirror(ctx context.Context, logger zerolog.Logger, mems []*Memory) {
	if m.upserter == nil || len(mems) == 0 {
		return
	}

	stats := m.upserter.Submit(ctx, mems)
	if stats.FailedBatches > 0 {
		logger.Warn().
			Int("failed_batches", stats.FailedBatches).
			Int("batches", stats.Batches).
			Msg("Index mirror write partially failed")
	}
}
