package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Attachment references external media carried by a memory
type Attachment struct {
	ID          string `json:"id,omitempty"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Content is the structured payload of a memory
type Content struct {
	Text        string       `json:"text"`
	Action      string       `json:"action,omitempty"`
	Source      string       `json:"source,omitempty"`
	InReplyTo   string       `json:"in_reply_to,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Memory is an immutable conversational record plus optional embedding.
// Records are created and deleted, never updated in place.
type Memory struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	Content   Content   `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Unique    bool      `json:"unique,omitempty"`

	// Similarity is populated on search results only
	Similarity float64 `json:"similarity,omitempty"`
}

// HasEmbedding reports whether the memory carries a non-sentinel embedding
func (m *Memory) HasEmbedding() bool {
	return len(m.Embedding) > 0 && !IsZeroVector(m.Embedding)
}

// ZeroVector returns the sentinel "no embedding" vector of the given dimension
func ZeroVector(dimension int) []float32 {
	return make([]float32, dimension)
}

// IsZeroVector reports whether every component of v is zero
func IsZeroVector(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// contentIDNamespace scopes deterministic content-derived ids
var contentIDNamespace = uuid.MustParse("5f8e9b64-20c3-4a0f-9d2e-7b1846f0c3aa")

// NewID returns a random memory id
func NewID() string {
	return uuid.New().String()
}

// ContentID derives a stable id from text, so replayed external history maps
// to the same memory id on every run
func ContentID(text string) string {
	return uuid.NewSHA1(contentIDNamespace, []byte(text)).String()
}

// RoomQuery selects memories of one room
type RoomQuery struct {
	RoomID string
	Count  int
	Unique bool
	Start  time.Time
	End    time.Time
}

// SimilarityQuery selects memories of one room ranked by cosine similarity
type SimilarityQuery struct {
	RoomID    string
	AgentID   string
	Threshold float64
	Count     int
	Unique    bool
}

// SearchOptions configures a merged two-backend similarity search
type SearchOptions struct {
	RoomID    string
	AgentID   string
	Count     int
	Threshold float64
	Unique    bool
}

// PrimaryStore is the authoritative durable backend for memories. All calls
// block until durable. Create with an existing id is a no-op success.
// Lookups with no match return (nil, nil).
type PrimaryStore interface {
	GetByID(ctx context.Context, table, id string) (*Memory, error)
	GetByRoom(ctx context.Context, table string, q RoomQuery) ([]*Memory, error)
	GetByRooms(ctx context.Context, table string, roomIDs []string, agentID string) ([]*Memory, error)
	Create(ctx context.Context, table string, mem *Memory, unique bool) error
	Remove(ctx context.Context, table, id string) error
	RemoveAllForRoom(ctx context.Context, table, roomID string) error
	Count(ctx context.Context, table, roomID string, unique bool) (int, error)
	SearchBySimilarity(ctx context.Context, table string, embedding []float32, q SimilarityQuery) ([]*Memory, error)
	CachedEmbeddingLookup(ctx context.Context, table, text string) ([]float32, error)
}

// Lister pages through every memory of a table. Optional store extension
// consumed by the Reconciler; not part of the core PrimaryStore contract.
type Lister interface {
	ListByTable(ctx context.Context, table string, limit, offset int) ([]*Memory, error)
}

// IndexState is the lifecycle state of the remote vector index client
type IndexState int32

const (
	StateUninitialized IndexState = iota
	StateInitializing
	StateReady
	StateDegraded
)

func (s IndexState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// IndexFilter restricts index queries and deletes to one room and table
type IndexFilter struct {
	RoomID string `json:"room_id,omitempty"`
	Table  string `json:"table,omitempty"`
}

// IndexMatch is one ranked result from the remote vector index
type IndexMatch struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata *IndexMetadata `json:"metadata,omitempty"`
}

// VectorIndex is the best-effort remote ANN mirror. Implementations short-
// circuit to empty results when not Ready and never propagate remote
// failures out of Query.
type VectorIndex interface {
	Query(ctx context.Context, embedding []float32, topK int, filter IndexFilter) ([]IndexMatch, error)
	Delete(ctx context.Context, id string) error
	DeleteByFilter(ctx context.Context, filter IndexFilter) error
	State() IndexState
}

// UpsertStats summarizes one batch submission to the vector index
type UpsertStats struct {
	Submitted     int
	Skipped       int
	Batches       int
	FailedBatches int
	Upserted      int
}

// Upserter mirrors memories into the vector index in bounded batches.
// Submit never fails the caller; failed batches are reflected in the stats.
type Upserter interface {
	Submit(ctx context.Context, memories []*Memory) UpsertStats
}
