package coldmem

import (
	"context"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/internal/continuity/coldmem/backend"
	"github.com/cortexd/runtime/pkg/models"
)

// ForgetUser runs the forget-me cascade for one (entityID, userID)
// pair: nodes with no synthesis descendants are deleted outright;
// nodes that other synthesized artifacts were built from are instead
// anonymized and re-keyed under the anonymized user, so the narrative
// structure those artifacts depend on survives without the
// identifying user.
func (idx *Index) ForgetUser(ctx context.Context, entityID, userID string) (deleted, anonymized int, err error) {
	nodes, err := idx.backend.Query(ctx, nil, backend.QueryOptions{EntityID: entityID, UserID: userID, Limit: 0})
	if err != nil {
		return 0, 0, apperrors.Wrap(apperrors.Internal, "coldmem.ForgetUser", err)
	}

	var toDelete []string
	var toAnonymize []*models.MemoryNode
	for _, n := range nodes {
		// ANCHOR nodes are always deleted outright, even if they also
		// carry synthesis sources: the cascade's anchor rule is
		// unconditional, it does not defer to the synthesized-from rule.
		if n.Type != models.NodeAnchor && n.HasSynthesisSources() {
			toAnonymize = append(toAnonymize, n.Anonymized())
		} else {
			toDelete = append(toDelete, n.ID)
		}
	}

	if len(toAnonymize) > 0 {
		if err := idx.backend.Upsert(ctx, toAnonymize); err != nil {
			return 0, 0, apperrors.Wrap(apperrors.Internal, "coldmem.ForgetUser", err)
		}
	}
	if len(toDelete) > 0 {
		if err := idx.backend.Delete(ctx, toDelete); err != nil {
			return 0, 0, apperrors.Wrap(apperrors.Internal, "coldmem.ForgetUser", err)
		}
	}

	return len(toDelete), len(toAnonymize), nil
}
