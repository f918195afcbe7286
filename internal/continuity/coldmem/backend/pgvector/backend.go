// Package pgvector implements the cold memory backend over PostgreSQL
// with the pgvector extension, using pgx for the driver and
// pgvector-go for the vector column type.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cortexd/runtime/internal/continuity/coldmem/backend"
	"github.com/cortexd/runtime/pkg/models"
)

// Backend implements backend.Backend over a pgvector-enabled table.
type Backend struct {
	pool      *pgxpool.Pool
	dimension int
}

// Config configures the pgvector backend.
type Config struct {
	DSN           string
	Dimension     int
	RunMigrations bool
}

// New connects to Postgres and ensures the memory_nodes table exists.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Dimension == 0 {
		cfg.Dimension = 1536
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}
	b := &Backend{pool: pool, dimension: cfg.Dimension}
	if cfg.RunMigrations {
		if err := b.migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *Backend) migrate(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("pgvector: create extension: %w", err)
	}
	_, err = b.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS memory_nodes (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			node_json JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now()
		)
	`, b.dimension))
	if err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}
	_, err = b.pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_memory_nodes_entity_user ON memory_nodes(entity_id, user_id)")
	if err != nil {
		return fmt.Errorf("pgvector: create index: %w", err)
	}
	return nil
}

// Upsert stores nodes.
func (b *Backend) Upsert(ctx context.Context, nodes []*models.MemoryNode) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgvector: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, n := range nodes {
		nodeJSON, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("pgvector: marshal node %s: %w", n.ID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO memory_nodes (id, entity_id, user_id, type, content, embedding, node_json)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				entity_id = excluded.entity_id, user_id = excluded.user_id, type = excluded.type,
				content = excluded.content, embedding = excluded.embedding, node_json = excluded.node_json
		`, n.ID, n.EntityID, n.UserID, string(n.Type), n.Content, pgvector.NewVector(n.ContentVector), nodeJSON)
		if err != nil {
			return fmt.Errorf("pgvector: upsert %s: %w", n.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// Query runs a pgvector cosine-distance nearest-neighbor scan,
// ordering by <=> so the extension's own index does the ranking
// instead of an in-process scan.
func (b *Backend) Query(ctx context.Context, embedding []float32, opts backend.QueryOptions) ([]*models.MemoryNode, error) {
	query := "SELECT node_json, 1 - (embedding <=> $1) AS score FROM memory_nodes WHERE entity_id = $2"
	args := []any{pgvector.NewVector(embedding), opts.EntityID}
	argn := 3
	if opts.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argn)
		args = append(args, opts.UserID)
		argn++
	}
	if len(opts.Types) > 0 {
		placeholders := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			placeholders[i] = fmt.Sprintf("$%d", argn)
			args = append(args, string(t))
			argn++
		}
		query += " AND type IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY embedding <=> $1"
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: query: %w", err)
	}
	defer rows.Close()

	var out []*models.MemoryNode
	for rows.Next() {
		var nodeJSON []byte
		var score float64
		if err := rows.Scan(&nodeJSON, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		var n models.MemoryNode
		if err := json.Unmarshal(nodeJSON, &n); err != nil {
			return nil, fmt.Errorf("pgvector: unmarshal: %w", err)
		}
		n.VectorScore = score
		out = append(out, &n)
	}
	return out, rows.Err()
}

// Get fetches nodes by ID.
func (b *Backend) Get(ctx context.Context, ids []string) ([]*models.MemoryNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := b.pool.Query(ctx, "SELECT node_json FROM memory_nodes WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("pgvector: get: %w", err)
	}
	defer rows.Close()

	var out []*models.MemoryNode
	for rows.Next() {
		var nodeJSON []byte
		if err := rows.Scan(&nodeJSON); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		var n models.MemoryNode
		if err := json.Unmarshal(nodeJSON, &n); err != nil {
			return nil, fmt.Errorf("pgvector: unmarshal: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// Delete removes nodes by ID.
func (b *Backend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := b.pool.Exec(ctx, "DELETE FROM memory_nodes WHERE id = ANY($1)", ids)
	if err != nil {
		return fmt.Errorf("pgvector: delete: %w", err)
	}
	return nil
}

// Count returns the number of nodes for (entityID, userID).
func (b *Backend) Count(ctx context.Context, entityID, userID string) (int64, error) {
	query := "SELECT COUNT(*) FROM memory_nodes WHERE entity_id = $1"
	args := []any{entityID}
	if userID != "" {
		query += " AND user_id = $2"
		args = append(args, userID)
	}
	var count int64
	err := b.pool.QueryRow(ctx, query, args...).Scan(&count)
	return count, err
}

// Compact reclaims space from the row-level updates upserts perform.
func (b *Backend) Compact(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, "VACUUM ANALYZE memory_nodes")
	return err
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}
