// Package coldmem implements the vector-searchable long-term memory
// index: embed, store, rerank by a blended recall score, expand
// through the node relation graph, and run the forget-me cascade.
package coldmem

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/internal/config"
	"github.com/cortexd/runtime/internal/continuity/coldmem/backend"
	"github.com/cortexd/runtime/internal/continuity/coldmem/embeddings"
	"github.com/cortexd/runtime/pkg/models"
)

// Index coordinates a backend and an embedding provider behind the
// recall-score rerank every search applies on top of raw vector
// distance.
type Index struct {
	backend  backend.Backend
	embedder embeddings.Provider
	weights  config.RecallWeightsConfig
	now      func() time.Time
}

// Option configures an Index at construction.
type Option func(*Index)

// WithNow overrides the clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(i *Index) { i.now = now }
}

// New builds a cold memory index over the given backend and embedder.
func New(b backend.Backend, embedder embeddings.Provider, weights config.RecallWeightsConfig, opts ...Option) *Index {
	idx := &Index{backend: b, embedder: embedder, weights: weights, now: time.Now}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Upsert embeds any node missing its content vector, then stores all
// of them.
func (idx *Index) Upsert(ctx context.Context, nodes []*models.MemoryNode) error {
	if len(nodes) == 0 {
		return nil
	}
	var toEmbed []*models.MemoryNode
	for _, n := range nodes {
		if len(n.ContentVector) == 0 {
			toEmbed = append(toEmbed, n)
		}
	}
	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for i, n := range toEmbed {
			texts[i] = n.Content
		}
		vectors, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return apperrors.Wrap(apperrors.Remote, "coldmem.Upsert", fmt.Errorf("embed: %w", err))
		}
		for i, n := range toEmbed {
			n.ContentVector = vectors[i]
		}
	}
	if err := idx.backend.Upsert(ctx, nodes); err != nil {
		return apperrors.Wrap(apperrors.Internal, "coldmem.Upsert", err)
	}
	return nil
}

// Search embeds the query, pulls nearest-neighbor candidates from the
// backend, and reranks them by the blended recall score:
//
//	recallScore = w_v*vectorScore + w_i*(importance/10) + w_r*recency(lastAccessed)
//
// where recency decays exponentially by DecayRate per day since last
// access. Results below req.Threshold on vector score alone are
// dropped before reranking, matching the backend's own ANN cutoff.
func (idx *Index) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	start := idx.now()

	queryVec, err := idx.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Remote, "coldmem.Search", fmt.Errorf("embed query: %w", err))
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	candidates, err := idx.backend.Query(ctx, queryVec, backend.QueryOptions{
		EntityID: req.EntityID,
		UserID:   req.UserID,
		Limit:    2 * limit, // overfetch so the rerank has room to reorder
		Types:    req.Types,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "coldmem.Search", err)
	}

	results := make([]*models.SearchResult, 0, len(candidates))
	for _, n := range candidates {
		if req.Threshold > 0 && float32(n.VectorScore) < req.Threshold {
			continue
		}
		score := idx.recallScore(n, start)
		results = append(results, &models.SearchResult{Node: n, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Node.Timestamp.After(results[j].Node.Timestamp)
	})
	if len(results) > limit {
		results = results[:limit]
	}

	// Only the top N_top=5 results are worth a best-effort recall-count
	// bump, and only if they haven't been touched in the last 5
	// minutes; this keeps a hot query from hammering the backend with
	// writes on every call.
	topN := results
	const nTop = 5
	if len(topN) > nTop {
		topN = topN[:nTop]
	}
	var touched []*models.MemoryNode
	for _, r := range topN {
		if start.Sub(r.Node.LastAccessed) < 5*time.Minute {
			continue
		}
		r.Node.RecallCount++
		r.Node.LastAccessed = start
		touched = append(touched, r.Node)
	}
	if err := idx.touchAccessed(ctx, touched); err != nil {
		return nil, err
	}

	return &models.SearchResponse{Results: results, TotalCount: len(results), QueryTime: idx.now().Sub(start)}, nil
}

func (idx *Index) touchAccessed(ctx context.Context, nodes []*models.MemoryNode) error {
	if len(nodes) == 0 {
		return nil
	}
	if err := idx.backend.Upsert(ctx, nodes); err != nil {
		return apperrors.Wrap(apperrors.Internal, "coldmem.touchAccessed", err)
	}
	return nil
}

func (idx *Index) recallScore(n *models.MemoryNode, at time.Time) float64 {
	w := idx.weights
	recency := idx.recencyScore(n, at)
	return w.Vector*n.VectorScore + w.Importance*(float64(n.Importance)/10) + w.Recency*recency
}

// recencyScore decays exponentially with the days since last access,
// using the node's own DecayRate if set, else the index default.
func (idx *Index) recencyScore(n *models.MemoryNode, at time.Time) float64 {
	if n.LastAccessed.IsZero() {
		return 0
	}
	rate := n.DecayRate
	if rate == 0 {
		rate = idx.weights.DecayRate
	}
	days := at.Sub(n.LastAccessed).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-rate * days)
}

// ExpandGraph follows RelatedMemoryIDs and ParentMemoryID one hop out
// from seeds, returning the union of seeds and their neighbors with
// duplicates removed. Depth recurses: expandGraph(S, d) is always a
// superset of expandGraph(S, d-1) because each recursion only adds to
// the running seen-set.
func (idx *Index) ExpandGraph(ctx context.Context, seeds []*models.MemoryNode, depth int) ([]*models.MemoryNode, error) {
	seen := make(map[string]*models.MemoryNode, len(seeds))
	out := make([]*models.MemoryNode, 0, len(seeds))
	for _, n := range seeds {
		seen[n.ID] = n
		out = append(out, n)
	}

	frontier := seeds
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var nextIDs []string
		for _, n := range frontier {
			for id := range n.RelatedMemoryIDs {
				if _, ok := seen[id]; !ok {
					nextIDs = append(nextIDs, id)
				}
			}
			if n.ParentMemoryID != "" {
				if _, ok := seen[n.ParentMemoryID]; !ok {
					nextIDs = append(nextIDs, n.ParentMemoryID)
				}
			}
		}
		if len(nextIDs) == 0 {
			break
		}
		related, err := idx.backend.Get(ctx, nextIDs)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "coldmem.ExpandGraph", err)
		}
		frontier = frontier[:0]
		for _, n := range related {
			if _, ok := seen[n.ID]; ok {
				continue
			}
			seen[n.ID] = n
			out = append(out, n)
			frontier = append(frontier, n)
		}
	}
	return out, nil
}

// Count reports the node count for an (entityID, userID) scope.
func (idx *Index) Count(ctx context.Context, entityID, userID string) (int64, error) {
	return idx.backend.Count(ctx, entityID, userID)
}

// Compact asks the backend to reclaim space after a bulk delete.
func (idx *Index) Compact(ctx context.Context) error {
	return idx.backend.Compact(ctx)
}

// Close releases the underlying backend's resources.
func (idx *Index) Close() error {
	return idx.backend.Close()
}
