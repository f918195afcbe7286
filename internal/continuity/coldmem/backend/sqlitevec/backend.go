// Package sqlitevec implements the cold memory backend over plain
// SQLite (via the pure-Go modernc.org/sqlite driver). Vector search is
// done by decoding each candidate's embedding and scoring it in
// process; a CGO build could swap in the vec0 extension for an
// index-accelerated ANN scan without changing this package's contract.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/cortexd/runtime/internal/continuity/coldmem/backend"
	"github.com/cortexd/runtime/pkg/models"
)

// Backend implements backend.Backend over a single SQLite file.
type Backend struct {
	db        *sql.DB
	dimension int
}

// Config configures the embedded backend.
type Config struct {
	Path      string
	Dimension int
}

// New opens (creating if absent) the SQLite memory-node store.
func New(cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 1536
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: open: %w", err)
	}
	b := &Backend{db: db, dimension: cfg.Dimension}
	if err := b.init(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) init() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_nodes (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB,
			node_json TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("sqlitevec: create table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_memory_nodes_entity_user ON memory_nodes(entity_id, user_id)",
		"CREATE INDEX IF NOT EXISTS idx_memory_nodes_type ON memory_nodes(type)",
	}
	for _, idx := range indexes {
		if _, err := b.db.Exec(idx); err != nil {
			return fmt.Errorf("sqlitevec: create index: %w", err)
		}
	}
	return nil
}

// Upsert stores nodes, replacing any existing row by ID.
func (b *Backend) Upsert(ctx context.Context, nodes []*models.MemoryNode) error {
	if len(nodes) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitevec: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory_nodes (id, entity_id, user_id, type, content, embedding, node_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entity_id=excluded.entity_id, user_id=excluded.user_id, type=excluded.type,
			content=excluded.content, embedding=excluded.embedding, node_json=excluded.node_json
	`)
	if err != nil {
		return fmt.Errorf("sqlitevec: prepare: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		nodeJSON, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("sqlitevec: marshal node %s: %w", n.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, n.ID, n.EntityID, n.UserID, string(n.Type), n.Content, encodeEmbedding(n.ContentVector), string(nodeJSON)); err != nil {
			return fmt.Errorf("sqlitevec: upsert %s: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

// Query scans every node in scope and scores it by cosine similarity.
// This is O(n) in the scoped node count, acceptable for the
// per-entity-per-user partitions continuity memory expects; a real
// vec0 build would replace this scan with an ANN index lookup.
func (b *Backend) Query(ctx context.Context, embedding []float32, opts backend.QueryOptions) ([]*models.MemoryNode, error) {
	query := "SELECT node_json, embedding FROM memory_nodes WHERE entity_id = ?"
	args := []any{opts.EntityID}
	if opts.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, opts.UserID)
	}
	if len(opts.Types) > 0 {
		placeholders := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += " AND type IN (" + strings.Join(placeholders, ",") + ")"
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: query: %w", err)
	}
	defer rows.Close()

	type scored struct {
		node  *models.MemoryNode
		score float64
	}
	var candidates []scored
	for rows.Next() {
		var nodeJSON string
		var embeddingBlob []byte
		if err := rows.Scan(&nodeJSON, &embeddingBlob); err != nil {
			return nil, fmt.Errorf("sqlitevec: scan: %w", err)
		}
		var n models.MemoryNode
		if err := json.Unmarshal([]byte(nodeJSON), &n); err != nil {
			return nil, fmt.Errorf("sqlitevec: unmarshal node: %w", err)
		}
		n.ContentVector = decodeEmbedding(embeddingBlob)
		n.VectorScore = cosineSimilarity(embedding, n.ContentVector)
		candidates = append(candidates, scored{node: &n, score: n.VectorScore})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	limit := opts.Limit
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]*models.MemoryNode, 0, limit)
	for _, c := range candidates[:limit] {
		out = append(out, c.node)
	}
	return out, nil
}

// Get fetches nodes by ID.
func (b *Backend) Get(ctx context.Context, ids []string) ([]*models.MemoryNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := b.db.QueryContext(ctx, "SELECT node_json FROM memory_nodes WHERE id IN ("+strings.Join(placeholders, ",")+")", args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: get: %w", err)
	}
	defer rows.Close()

	var out []*models.MemoryNode
	for rows.Next() {
		var nodeJSON string
		if err := rows.Scan(&nodeJSON); err != nil {
			return nil, fmt.Errorf("sqlitevec: scan: %w", err)
		}
		var n models.MemoryNode
		if err := json.Unmarshal([]byte(nodeJSON), &n); err != nil {
			return nil, fmt.Errorf("sqlitevec: unmarshal: %w", err)
		}
		out = append(out, &n)
	}
	return out, nil
}

// Delete removes nodes by ID.
func (b *Backend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := b.db.ExecContext(ctx, "DELETE FROM memory_nodes WHERE id IN ("+strings.Join(placeholders, ",")+")", args...)
	if err != nil {
		return fmt.Errorf("sqlitevec: delete: %w", err)
	}
	return nil
}

// Count returns the number of nodes for (entityID, userID).
func (b *Backend) Count(ctx context.Context, entityID, userID string) (int64, error) {
	query := "SELECT COUNT(*) FROM memory_nodes WHERE entity_id = ?"
	args := []any{entityID}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	var count int64
	err := b.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// Compact vacuums the database file.
func (b *Backend) Compact(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, "VACUUM")
	return err
}

func (b *Backend) Close() error { return b.db.Close() }

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	data := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
