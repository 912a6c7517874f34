package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/engramdev/engram/pkg/memory"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// SQLiteStore implements memory.PrimaryStore on a local SQLite database
type SQLiteStore struct {
	db             *sql.DB
	dimension      int
	dedupThreshold float64
	cacheDistance  int
	cacheWindow    int
	logger         zerolog.Logger
}

// Config holds store configuration
type Config struct {
	Path      string
	Dimension int
	Logger    zerolog.Logger

	// DedupThreshold is the cosine similarity above which an insert with
	// the unique hint is considered a duplicate, default 0.95
	DedupThreshold float64

	// CacheMaxDistance bounds the fuzzy cached-embedding lookup
	// (Levenshtein distance); 0 disables the cache, default 5
	CacheMaxDistance int

	// CacheWindow is how many recent rows the fuzzy lookup scans, default 100
	CacheWindow int
}

// NewSQLiteStore opens the database and initializes the schema
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("embedding dimension must be positive")
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for concurrent readers alongside writers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	dedup := cfg.DedupThreshold
	if dedup == 0 {
		dedup = 0.95
	}
	cacheWindow := cfg.CacheWindow
	if cacheWindow <= 0 {
		cacheWindow = 100
	}

	s := &SQLiteStore{
		db:             db,
		dimension:      cfg.Dimension,
		dedupThreshold: dedup,
		cacheDistance:  cfg.CacheMaxDistance,
		cacheWindow:    cacheWindow,
		logger:         cfg.Logger.With().Str("component", "store").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT NOT NULL,
			type TEXT NOT NULL,
			room_id TEXT NOT NULL,
			user_id TEXT,
			agent_id TEXT,
			content TEXT NOT NULL,
			embedding TEXT,
			is_unique INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (type, id)
		);
		CREATE INDEX IF NOT EXISTS idx_memories_room ON memories(type, room_id);
		CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(type, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	vectorSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_vectors USING vec0(
			mem_key TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, s.dimension)
	if _, err := s.db.Exec(vectorSchema); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	return nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func memKey(table, id string) string {
	return table + ":" + id
}

const memoryColumns = "id, room_id, user_id, agent_id, content, embedding, is_unique, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*memory.Memory, error) {
	var (
		mem       memory.Memory
		userID    sql.NullString
		agentID   sql.NullString
		content   string
		embedding sql.NullString
		isUnique  int
		createdAt int64
	)

	err := row.Scan(&mem.ID, &mem.RoomID, &userID, &agentID, &content, &embedding, &isUnique, &createdAt)
	if err != nil {
		return nil, err
	}

	mem.UserID = userID.String
	mem.AgentID = agentID.String
	mem.Unique = isUnique != 0
	mem.CreatedAt = time.UnixMilli(createdAt).UTC()

	if err := json.Unmarshal([]byte(content), &mem.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal content: %w", err)
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &mem.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
		}
	}

	return &mem, nil
}

// GetByID returns the memory with the given id, or nil when absent
func (s *SQLiteStore) GetByID(ctx context.Context, table, id string) (*memory.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+memoryColumns+" FROM memories WHERE type = ? AND id = ?",
		table, id,
	)

	mem, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return mem, err
}

// GetByRoom returns memories of one room, most recent first
func (s *SQLiteStore) GetByRoom(ctx context.Context, table string, q memory.RoomQuery) ([]*memory.Memory, error) {
	query := "SELECT " + memoryColumns + " FROM memories WHERE type = ? AND room_id = ?"
	args := []any{table, q.RoomID}

	if q.Unique {
		query += " AND is_unique = 1"
	}
	if !q.Start.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, q.Start.UnixMilli())
	}
	if !q.End.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, q.End.UnixMilli())
	}

	query += " ORDER BY created_at DESC"
	if q.Count > 0 {
		query += " LIMIT ?"
		args = append(args, q.Count)
	}

	return s.queryMemories(ctx, query, args...)
}

// GetByRooms returns memories across several rooms, most recent first.
// agentID, when non-empty, restricts results to that agent's memories.
func (s *SQLiteStore) GetByRooms(ctx context.Context, table string, roomIDs []string, agentID string) ([]*memory.Memory, error) {
	if len(roomIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(roomIDs))
	placeholders = placeholders[:len(placeholders)-1]

	query := "SELECT " + memoryColumns + " FROM memories WHERE type = ? AND room_id IN (" + placeholders + ")"
	args := make([]any, 0, len(roomIDs)+2)
	args = append(args, table)
	for _, roomID := range roomIDs {
		args = append(args, roomID)
	}

	if agentID != "" {
		query += " AND agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY created_at DESC"

	return s.queryMemories(ctx, query, args...)
}

// Create persists a memory. An existing id is a no-op success; with the
// unique hint, a near-duplicate by cosine similarity is also a no-op.
func (s *SQLiteStore) Create(ctx context.Context, table string, mem *memory.Memory, unique bool) error {
	if mem.ID == "" {
		return errors.New("memory id is required")
	}

	if unique && mem.HasEmbedding() {
		similar, err := s.SearchBySimilarity(ctx, table, mem.Embedding, memory.SimilarityQuery{
			RoomID:    mem.RoomID,
			Threshold: s.dedupThreshold,
			Count:     1,
		})
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		if len(similar) > 0 {
			s.logger.Debug().Str("id", mem.ID).Str("similar_to", similar[0].ID).Msg("Similar memory exists, skipping insert")
			return nil
		}
	}

	contentJSON, err := json.Marshal(mem.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}

	var embeddingJSON any
	if len(mem.Embedding) > 0 {
		data, err := json.Marshal(mem.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		embeddingJSON = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	isUnique := 0
	if mem.Unique || unique {
		isUnique = 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO memories (id, type, room_id, user_id, agent_id, content, embedding, is_unique, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mem.ID, table, mem.RoomID, mem.UserID, mem.AgentID,
		string(contentJSON), embeddingJSON, isUnique, mem.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		// Row already exists; concurrent same-id creates land here
		return nil
	}

	// Sentinel embeddings are stored but never enter the vector table
	if mem.HasEmbedding() {
		data, err := json.Marshal(mem.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO memory_vectors (mem_key, embedding) VALUES (?, ?)",
			memKey(table, mem.ID), string(data),
		)
		if err != nil {
			return fmt.Errorf("failed to store embedding vector: %w", err)
		}
	}

	return tx.Commit()
}

// Remove deletes one memory and its vector row
func (s *SQLiteStore) Remove(ctx context.Context, table, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM memory_vectors WHERE mem_key = ?", memKey(table, id)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE type = ? AND id = ?", table, id); err != nil {
		return err
	}

	return tx.Commit()
}

// RemoveAllForRoom deletes every memory of a room and their vector rows
func (s *SQLiteStore) RemoveAllForRoom(ctx context.Context, table, roomID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT id FROM memories WHERE type = ? AND room_id = ?", table, roomID)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM memory_vectors WHERE mem_key = ?", memKey(table, id)); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE type = ? AND room_id = ?", table, roomID); err != nil {
		return err
	}

	return tx.Commit()
}

// Count counts memories of one room
func (s *SQLiteStore) Count(ctx context.Context, table, roomID string, unique bool) (int, error) {
	query := "SELECT COUNT(*) FROM memories WHERE type = ? AND room_id = ?"
	args := []any{table, roomID}
	if unique {
		query += " AND is_unique = 1"
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SearchBySimilarity returns room memories ranked by cosine similarity to
// the given embedding, filtered by the threshold
func (s *SQLiteStore) SearchBySimilarity(ctx context.Context, table string, embedding []float32, q memory.SimilarityQuery) ([]*memory.Memory, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("embedding dimension %d, want %d", len(embedding), s.dimension)
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	query := `
		SELECT m.id, m.room_id, m.user_id, m.agent_id, m.content, m.embedding, m.is_unique, m.created_at,
			vec_distance_cosine(v.embedding, ?) AS distance
		FROM memory_vectors v
		JOIN memories m ON v.mem_key = m.type || ':' || m.id
		WHERE m.type = ? AND m.room_id = ?`
	args := []any{string(embeddingJSON), table, q.RoomID}

	if q.Unique {
		query += " AND m.is_unique = 1"
	}
	if q.AgentID != "" {
		query += " AND m.agent_id = ?"
		args = append(args, q.AgentID)
	}

	query += " ORDER BY distance ASC"
	if q.Count > 0 {
		query += " LIMIT ?"
		args = append(args, q.Count)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*memory.Memory
	for rows.Next() {
		var (
			mem       memory.Memory
			userID    sql.NullString
			agentID   sql.NullString
			content   string
			emb       sql.NullString
			isUnique  int
			createdAt int64
			distance  float64
		)
		if err := rows.Scan(&mem.ID, &mem.RoomID, &userID, &agentID, &content, &emb, &isUnique, &createdAt, &distance); err != nil {
			return nil, err
		}

		// Cosine distance is [0, 2]; similarity is 1 - distance
		similarity := 1.0 - distance
		if q.Threshold > 0 && similarity < q.Threshold {
			continue
		}

		mem.UserID = userID.String
		mem.AgentID = agentID.String
		mem.Unique = isUnique != 0
		mem.CreatedAt = time.UnixMilli(createdAt).UTC()
		mem.Similarity = similarity
		if err := json.Unmarshal([]byte(content), &mem.Content); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content: %w", err)
		}
		if emb.Valid && emb.String != "" {
			if err := json.Unmarshal([]byte(emb.String), &mem.Embedding); err != nil {
				return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
			}
		}

		results = append(results, &mem)
	}

	return results, rows.Err()
}

// CachedEmbeddingLookup reuses the embedding of previously-seen text within
// a small edit distance. A miss is (nil, nil); it is never an error.
func (s *SQLiteStore) CachedEmbeddingLookup(ctx context.Context, table, text string) ([]float32, error) {
	if s.cacheDistance <= 0 || text == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT content, embedding FROM memories
		WHERE type = ? AND embedding IS NOT NULL
		ORDER BY created_at DESC LIMIT ?`,
		table, s.cacheWindow,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bestDistance := s.cacheDistance + 1
	var bestEmbedding []float32

	for rows.Next() {
		var contentJSON, embeddingJSON string
		if err := rows.Scan(&contentJSON, &embeddingJSON); err != nil {
			return nil, err
		}

		var content memory.Content
		if err := json.Unmarshal([]byte(contentJSON), &content); err != nil {
			continue
		}

		d := levenshtein(text, content.Text, bestDistance)
		if d >= bestDistance {
			continue
		}

		var embedding []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &embedding); err != nil {
			continue
		}
		if memory.IsZeroVector(embedding) {
			continue
		}

		bestDistance = d
		bestEmbedding = embedding
		if d == 0 {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return bestEmbedding, nil
}

// CachedLookupFor adapts the store to the table-scoped memory.CachedLookup
// strategy interface
func (s *SQLiteStore) CachedLookupFor(table string) memory.CachedLookup {
	return &tableCache{store: s, table: table}
}

type tableCache struct {
	store *SQLiteStore
	table string
}

func (c *tableCache) LookupCached(ctx context.Context, text string) ([]float32, error) {
	return c.store.CachedEmbeddingLookup(ctx, c.table, text)
}

// ListByTable pages through every memory of a table in stable order.
// Feeds the index reconciler.
func (s *SQLiteStore) ListByTable(ctx context.Context, table string, limit, offset int) ([]*memory.Memory, error) {
	return s.queryMemories(ctx,
		"SELECT "+memoryColumns+" FROM memories WHERE type = ? ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?",
		table, limit, offset,
	)
}

func (s *SQLiteStore) queryMemories(ctx context.Context, query string, args ...any) ([]*memory.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*memory.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, mem)
	}

	return results, rows.Err()
}
