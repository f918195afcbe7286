// Package backend defines the storage contract the cold memory index
// runs its rerank, graph-expansion, and cascading-forget logic on top
// of. A backend only needs to store nodes and answer vector-similarity
// queries; everything scoring-related lives above it.
package backend

import (
	"context"

	"github.com/cortexd/runtime/pkg/models"
)

// Backend persists memory nodes and answers nearest-neighbor queries
// by embedding.
type Backend interface {
	// Upsert stores or replaces nodes, embedding any with a zero
	// ContentVector is the caller's responsibility, not the backend's.
	Upsert(ctx context.Context, nodes []*models.MemoryNode) error

	// Query returns the backend's raw nearest-neighbor candidates,
	// unranked beyond vector distance; the caller applies the
	// importance/recency rerank.
	Query(ctx context.Context, embedding []float32, opts QueryOptions) ([]*models.MemoryNode, error)

	// Get fetches nodes by ID, used for graph expansion via
	// RelatedMemoryIDs.
	Get(ctx context.Context, ids []string) ([]*models.MemoryNode, error)

	// Delete removes nodes outright, used by the forget-me cascade for
	// nodes with no synthesis descendants.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of nodes for an (entityID, userID) pair.
	// An empty userID counts every node for the entity.
	Count(ctx context.Context, entityID, userID string) (int64, error)

	// Compact reclaims storage after bulk deletes.
	Compact(ctx context.Context) error

	Close() error
}

// QueryOptions scopes and filters a nearest-neighbor query.
type QueryOptions struct {
	EntityID string
	UserID   string
	Limit    int
	Types    []models.NodeType
}

// Config is the dimension every backend in a given index must agree
// on; mismatches are a Configuration error raised at startup.
type Config struct {
	Dimension int
}
