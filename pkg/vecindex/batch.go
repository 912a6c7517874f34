package vecindex

import (
	"context"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/engramdev/engram/internal/observability"
	"github.com/engramdev/engram/pkg/memory"
)

// BulkIndex is the slice of the index client the BatchUpserter needs
type BulkIndex interface {
	Upsert(ctx context.Context, records []Record) error
	State() memory.IndexState
}

// BatchUpserter splits memories into size-bounded batches and writes them
// to the index through a bounded worker pool. A failing batch is logged and
// skipped; it never cancels sibling batches or fails the submission.
type BatchUpserter struct {
	index      BulkIndex
	table      string
	maxItems   int
	maxPayload int
	workers    int
	logger     zerolog.Logger
}

// BatchConfig holds batch upserter configuration
type BatchConfig struct {
	Table string

	// MaxItems bounds records per batch, default 100
	MaxItems int

	// MaxPayloadBytes bounds the approximate serialized batch size,
	// default 2 MiB
	MaxPayloadBytes int

	// Workers caps concurrent batch writes, default 4
	Workers int

	Logger zerolog.Logger
}

// NewBatchUpserter creates a batch upserter for one table
func NewBatchUpserter(index BulkIndex, cfg BatchConfig) *BatchUpserter {
	maxItems := cfg.MaxItems
	if maxItems <= 0 {
		maxItems = 100
	}
	maxPayload := cfg.MaxPayloadBytes
	if maxPayload <= 0 {
		maxPayload = 2 << 20
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	return &BatchUpserter{
		index:      index,
		table:      cfg.Table,
		maxItems:   maxItems,
		maxPayload: maxPayload,
		workers:    workers,
		logger:     cfg.Logger.With().Str("component", "batch_upserter").Str("table", cfg.Table).Logger(),
	}
}

// Submit mirrors memories into the index. Sentinel and absent embeddings
// are filtered out before dispatch; they carry no search value.
func (b *BatchUpserter) Submit(ctx context.Context, memories []*memory.Memory) memory.UpsertStats {
	stats := memory.UpsertStats{}

	records := make([]Record, 0, len(memories))
	for _, mem := range memories {
		if mem == nil || !mem.HasEmbedding() {
			stats.Skipped++
			continue
		}
		records = append(records, Record{
			ID:       mem.ID,
			Values:   mem.Embedding,
			Metadata: memory.DeriveMetadata(mem, b.table),
		})
	}
	stats.Submitted = len(records)

	if len(records) == 0 || b.index.State() != memory.StateReady {
		return stats
	}

	batches := b.split(records)
	stats.Batches = len(batches)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, b.workers)
	)
	for _, batch := range batches {
		wg.Add(1)
		sem <- struct{}{}
		go func(batch []Record) {
			defer wg.Done()
			defer func() { <-sem }()

			batchID, _ := gonanoid.New()
			err := b.index.Upsert(ctx, batch)
			observability.RecordIndexBatch(err == nil, len(batch))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.FailedBatches++
				b.logger.Warn().Err(err).
					Str("batch_id", batchID).
					Int("records", len(batch)).
					Msg("Index batch upsert failed, skipping")
				return
			}
			stats.Upserted += len(batch)
		}(batch)
	}
	wg.Wait()

	return stats
}

// split groups records into batches bounded by item count and approximate
// payload size
func (b *BatchUpserter) split(records []Record) [][]Record {
	var batches [][]Record
	var current []Record
	currentBytes := 0

	for _, rec := range records {
		size := estimateSize(rec)
		if len(current) > 0 && (len(current) >= b.maxItems || currentBytes+size > b.maxPayload) {
			batches = append(batches, current)
			current = nil
			currentBytes = 0
		}
		current = append(current, rec)
		currentBytes += size
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

// estimateSize approximates the serialized record size: four bytes per
// vector component plus the metadata text and a fixed envelope. A stable
// bound below the remote limit is enough; exact wire size is not needed.
func estimateSize(rec Record) int {
	size := 4*len(rec.Values) + len(rec.ID) + 200
	if rec.Metadata != nil {
		size += len(rec.Metadata.Text)
	}
	return size
}
