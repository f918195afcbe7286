package coldmem

import (
	"context"
	"sort"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/internal/continuity/coldmem/backend"
	"github.com/cortexd/runtime/pkg/models"
)

// HasMemories reports whether (entityID, userID) has any node at all,
// used by the forget-completeness property test.
func (idx *Index) HasMemories(ctx context.Context, entityID, userID string) (bool, error) {
	n, err := idx.backend.Count(ctx, entityID, userID)
	if err != nil {
		return false, apperrors.Wrap(apperrors.Internal, "coldmem.HasMemories", err)
	}
	return n > 0, nil
}

// GetByIDs fetches nodes by ID, in no particular order beyond what the
// backend returns.
func (idx *Index) GetByIDs(ctx context.Context, ids []string) ([]*models.MemoryNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	nodes, err := idx.backend.Get(ctx, ids)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "coldmem.GetByIDs", err)
	}
	return nodes, nil
}

// GetByType returns every node of the given types for (entityID,
// userID), unranked beyond the backend's own ordering.
func (idx *Index) GetByType(ctx context.Context, entityID, userID string, types []models.NodeType) ([]*models.MemoryNode, error) {
	nodes, err := idx.backend.Query(ctx, nil, backend.QueryOptions{EntityID: entityID, UserID: userID, Types: types})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "coldmem.GetByType", err)
	}
	return nodes, nil
}

// GetTopByImportance sorts by importance, then recency, descending —
// the ordering the context builder uses to bootstrap context for an
// entity with no episodic history yet.
func (idx *Index) GetTopByImportance(ctx context.Context, entityID, userID string, types []models.NodeType, limit int, minImportance int) ([]*models.MemoryNode, error) {
	nodes, err := idx.backend.Query(ctx, nil, backend.QueryOptions{EntityID: entityID, UserID: userID, Types: types})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "coldmem.GetTopByImportance", err)
	}
	filtered := nodes[:0]
	for _, n := range nodes {
		if n.Importance >= minImportance {
			filtered = append(filtered, n)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Importance != filtered[j].Importance {
			return filtered[i].Importance > filtered[j].Importance
		}
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// SearchFullText performs a filtered, non-vector listing over
// (entityID, userID), used when a caller wants a type/importance/time
// filtered page rather than semantic ranking.
func (idx *Index) SearchFullText(ctx context.Context, entityID, userID string, opts backend.QueryOptions, minImportance int, skip, limit int) ([]*models.MemoryNode, error) {
	opts.EntityID = entityID
	opts.UserID = userID
	nodes, err := idx.backend.Query(ctx, nil, opts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "coldmem.SearchFullText", err)
	}
	filtered := nodes[:0]
	for _, n := range nodes {
		if n.Importance >= minImportance {
			filtered = append(filtered, n)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Timestamp.After(filtered[j].Timestamp) })
	if skip > 0 {
		if skip >= len(filtered) {
			return nil, nil
		}
		filtered = filtered[skip:]
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// DeleteMemory removes a single node outright.
func (idx *Index) DeleteMemory(ctx context.Context, id string) error {
	if err := idx.backend.Delete(ctx, []string{id}); err != nil {
		return apperrors.Wrap(apperrors.Internal, "coldmem.DeleteMemory", err)
	}
	return nil
}

// DeleteMemories removes a batch of nodes outright.
func (idx *Index) DeleteMemories(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := idx.backend.Delete(ctx, ids); err != nil {
		return apperrors.Wrap(apperrors.Internal, "coldmem.DeleteMemories", err)
	}
	return nil
}

// LinkMemories makes a and b mutually related, idempotently: calling
// it twice leaves exactly one occurrence of each ID in the other's
// RelatedMemoryIDs set, since the set itself has no notion of
// multiplicity.
func (idx *Index) LinkMemories(ctx context.Context, aID, bID string) error {
	nodes, err := idx.backend.Get(ctx, []string{aID, bID})
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "coldmem.LinkMemories", err)
	}
	var a, b *models.MemoryNode
	for _, n := range nodes {
		switch n.ID {
		case aID:
			a = n
		case bID:
			b = n
		}
	}
	if a == nil || b == nil {
		return apperrors.New(apperrors.NotFound, "coldmem.LinkMemories", "one or both memory IDs not found")
	}
	if a.RelatedMemoryIDs == nil {
		a.RelatedMemoryIDs = make(map[string]struct{})
	}
	if b.RelatedMemoryIDs == nil {
		b.RelatedMemoryIDs = make(map[string]struct{})
	}
	a.RelatedMemoryIDs[bID] = struct{}{}
	b.RelatedMemoryIDs[aID] = struct{}{}
	if err := idx.backend.Upsert(ctx, []*models.MemoryNode{a, b}); err != nil {
		return apperrors.Wrap(apperrors.Internal, "coldmem.LinkMemories", err)
	}
	return nil
}
