package vecindex

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/pkg/memory"
)

// fakeBulkIndex records upserts and fails batches containing marked ids
type fakeBulkIndex struct {
	mu       sync.Mutex
	state    memory.IndexState
	batches  [][]Record
	failIDs  map[string]bool
	upserted int
}

func newFakeBulkIndex() *fakeBulkIndex {
	return &fakeBulkIndex{state: memory.StateReady, failIDs: make(map[string]bool)}
}

func (f *fakeBulkIndex) Upsert(ctx context.Context, records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range records {
		if f.failIDs[rec.ID] {
			return fmt.Errorf("%w: simulated remote rejection", memory.ErrIndexWrite)
		}
	}
	f.batches = append(f.batches, records)
	f.upserted += len(records)
	return nil
}

func (f *fakeBulkIndex) State() memory.IndexState { return f.state }

func (f *fakeBulkIndex) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, batch := range f.batches {
		for _, rec := range batch {
			if rec.ID == id {
				return true
			}
		}
	}
	return false
}

func embeddedMemories(n int) []*memory.Memory {
	mems := make([]*memory.Memory, n)
	for i := range mems {
		mems[i] = &memory.Memory{
			ID:        fmt.Sprintf("m%d", i),
			RoomID:    "r1",
			Content:   memory.Content{Text: fmt.Sprintf("message %d", i)},
			Embedding: []float32{float32(i) + 1, 2, 3},
		}
	}
	return mems
}

func TestSubmit_SplitsByItemCount(t *testing.T) {
	index := newFakeBulkIndex()
	up := NewBatchUpserter(index, BatchConfig{Table: "messages", MaxItems: 10, Logger: testLogger()})

	stats := up.Submit(context.Background(), embeddedMemories(50))

	assert.Equal(t, 50, stats.Submitted)
	assert.Equal(t, 5, stats.Batches)
	assert.Equal(t, 0, stats.FailedBatches)
	assert.Equal(t, 50, stats.Upserted)
	assert.Len(t, index.batches, 5)
}

func TestSubmit_FailedBatchDoesNotCancelSiblings(t *testing.T) {
	index := newFakeBulkIndex()
	// With 50 records and batches of 10, m20 lands in the third batch
	index.failIDs["m20"] = true
	up := NewBatchUpserter(index, BatchConfig{Table: "messages", MaxItems: 10, Logger: testLogger()})

	stats := up.Submit(context.Background(), embeddedMemories(50))

	assert.Equal(t, 5, stats.Batches)
	assert.Equal(t, 1, stats.FailedBatches)
	assert.Equal(t, 40, stats.Upserted)

	assert.True(t, index.has("m0"))
	assert.True(t, index.has("m10"))
	assert.True(t, index.has("m30"))
	assert.True(t, index.has("m49"))
	assert.False(t, index.has("m20"))
	assert.False(t, index.has("m29"))
}

func TestSubmit_FiltersSentinelAndMissingEmbeddings(t *testing.T) {
	index := newFakeBulkIndex()
	up := NewBatchUpserter(index, BatchConfig{Table: "messages", Logger: testLogger()})

	mems := []*memory.Memory{
		{ID: "a", RoomID: "r1", Content: memory.Content{Text: "embedded"}, Embedding: []float32{1, 2, 3}},
		{ID: "b", RoomID: "r1", Content: memory.Content{Text: "sentinel"}, Embedding: memory.ZeroVector(3)},
		{ID: "c", RoomID: "r1", Content: memory.Content{Text: "bare"}},
		nil,
	}

	stats := up.Submit(context.Background(), mems)

	assert.Equal(t, 1, stats.Submitted)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 1, stats.Upserted)
	assert.True(t, index.has("a"))
	assert.False(t, index.has("b"))
}

func TestSubmit_NoOpWhenIndexNotReady(t *testing.T) {
	index := newFakeBulkIndex()
	index.state = memory.StateDegraded
	up := NewBatchUpserter(index, BatchConfig{Table: "messages", Logger: testLogger()})

	stats := up.Submit(context.Background(), embeddedMemories(5))

	assert.Equal(t, 5, stats.Submitted)
	assert.Equal(t, 0, stats.Batches)
	assert.Equal(t, 0, stats.Upserted)
	assert.Empty(t, index.batches)
}

func TestSubmit_AttachesDerivedMetadata(t *testing.T) {
	index := newFakeBulkIndex()
	up := NewBatchUpserter(index, BatchConfig{Table: "messages", Logger: testLogger()})

	mems := []*memory.Memory{{
		ID:        "a",
		RoomID:    "r1",
		UserID:    "u1",
		Content:   memory.Content{Text: "ping @alice see https://example.com/doc"},
		Embedding: []float32{1, 2, 3},
	}}

	stats := up.Submit(context.Background(), mems)
	require.Equal(t, 1, stats.Upserted)

	require.Len(t, index.batches, 1)
	md := index.batches[0][0].Metadata
	require.NotNil(t, md)
	assert.Equal(t, "r1", md.RoomID)
	assert.Equal(t, "messages", md.Table)
	assert.Contains(t, md.Mentions, "alice")
	assert.True(t, md.HasURLs)
}

func TestSplit_BoundedByPayload(t *testing.T) {
	index := newFakeBulkIndex()
	// Each record estimates to a bit over 200 bytes; a 500 byte cap allows
	// two per batch
	up := NewBatchUpserter(index, BatchConfig{
		Table:           "messages",
		MaxItems:        100,
		MaxPayloadBytes: 500,
		Logger:          testLogger(),
	})

	stats := up.Submit(context.Background(), embeddedMemories(6))

	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, 6, stats.Upserted)
}

func TestSplit_OversizedRecordGetsOwnBatch(t *testing.T) {
	index := newFakeBulkIndex()
	up := NewBatchUpserter(index, BatchConfig{
		Table:           "messages",
		MaxPayloadBytes: 300,
		Logger:          testLogger(),
	})

	big := &memory.Memory{
		ID:        "big",
		RoomID:    "r1",
		Content:   memory.Content{Text: strings.Repeat("x", 1000)},
		Embedding: []float32{1, 2, 3},
	}
	small := embeddedMemories(2)

	stats := up.Submit(context.Background(), []*memory.Memory{small[0], big, small[1]})

	assert.Equal(t, 3, stats.Submitted)
	assert.Equal(t, 3, stats.Upserted)
	assert.GreaterOrEqual(t, stats.Batches, 2)
	assert.True(t, index.has("big"))
}
