package synthesis

import (
	"context"
	"fmt"
	"time"

	"github.com/cortexd/runtime/internal/observability"
	"github.com/cortexd/runtime/pkg/models"
)

// RunSessionSynthesis runs the end-of-session batch pass: it is shown
// the session's existing anchors so the model can choose to refine one
// instead of creating a near-duplicate. Any failure is logged and
// swallowed.
func (s *Synthesizer) RunSessionSynthesis(ctx context.Context, entityID, userID string, turns []models.EpisodicTurn) {
	started := s.now()
	err := s.runSessionSynthesis(ctx, entityID, userID, turns)
	outcome := "success"
	var errStr string
	if err != nil {
		outcome = "error"
		errStr = err.Error()
		s.logger.Error("session synthesis failed", "entity_id", entityID, "user_id", userID, "error", err)
	}
	observability.EmitSynthesisRun(&observability.SynthesisRunEvent{
		EntityID:   entityID,
		Kind:       "session",
		DurationMs: time.Since(started).Milliseconds(),
		Outcome:    outcome,
		Error:      errStr,
	})
}

func (s *Synthesizer) runSessionSynthesis(ctx context.Context, entityID, userID string, turns []models.EpisodicTurn) error {
	existingAnchors, err := s.cold.GetByType(ctx, entityID, userID, []models.NodeType{models.NodeAnchor})
	if err != nil {
		return fmt.Errorf("synthesis: read existing anchors: %w", err)
	}

	var result SessionResult
	vars := map[string]any{
		"turns":             turns,
		"existing_anchors":  summarizeAnchors(existingAnchors),
	}
	if err := s.callPathway(ctx, s.cfg.SessionPathway, vars, &result); err != nil {
		return err
	}

	nodes := s.mapTurnResult(entityID, userID, result.TurnResult)
	nodes = append(nodes, s.mapSessionExtensions(entityID, userID, result)...)

	updates := s.applyAnchorUpdates(existingAnchors, result.AnchorUpdates)

	wroteMemory := len(nodes) > 0 || len(updates) > 0
	if len(nodes) > 0 {
		if err := s.cold.Upsert(ctx, nodes); err != nil {
			return fmt.Errorf("synthesis: upsert session nodes: %w", err)
		}
	}
	if len(updates) > 0 {
		if err := s.cold.Upsert(ctx, updates); err != nil {
			return fmt.Errorf("synthesis: upsert anchor updates: %w", err)
		}
	}

	adjustment := result.ExpressionRefinement
	if adjustment == nil {
		adjustment = result.ExpressionAdjustment
	}
	if adjustment != nil {
		if err := s.applyExpressionAdjustment(ctx, entityID, userID, *adjustment); err != nil {
			return err
		}
	}

	if err := s.updateResonance(ctx, entityID, userID, append(nodes, updates...)); err != nil {
		return err
	}

	if wroteMemory {
		if err := s.hot.InvalidateActiveContext(ctx, entityID, userID); err != nil {
			return fmt.Errorf("synthesis: invalidate active context: %w", err)
		}
	}
	return nil
}

func summarizeAnchors(anchors []*models.MemoryNode) []map[string]any {
	out := make([]map[string]any, len(anchors))
	for i, a := range anchors {
		out[i] = map[string]any{"id": a.ID, "content": a.Content}
	}
	return out
}

// applyAnchorUpdates resolves each anchor update against the existing
// anchor set by ID; updates naming an anchor that no longer exists are
// dropped rather than creating an orphaned node.
func (s *Synthesizer) applyAnchorUpdates(existing []*models.MemoryNode, updates []AnchorUpdate) []*models.MemoryNode {
	if len(updates) == 0 {
		return nil
	}
	byID := make(map[string]*models.MemoryNode, len(existing))
	for _, a := range existing {
		byID[a.ID] = a
	}
	var out []*models.MemoryNode
	for _, u := range updates {
		anchor, ok := byID[u.ID]
		if !ok {
			continue
		}
		clone := *anchor
		clone.Content = u.Content
		clone.Timestamp = s.now()
		out = append(out, &clone)
	}
	return out
}

// mapSessionExtensions maps the session-only schema fields
// (resonanceArtifacts, identityEvolution) the same way turn synthesis
// maps its per-turn equivalents.
func (s *Synthesizer) mapSessionExtensions(entityID, userID string, result SessionResult) []*models.MemoryNode {
	now := s.now()
	var nodes []*models.MemoryNode

	for _, artifact := range result.ResonanceArtifacts {
		if artifact.Importance < turnPostFilterMinImportance {
			continue
		}
		nodes = append(nodes, &models.MemoryNode{
			EntityID:   entityID,
			UserID:     userID,
			Type:       models.NodeArtifact,
			Content:    artifact.Content,
			Importance: artifact.Importance,
			Timestamp:  now,
			EmotionalState: &models.EmotionalState{
				Valence:   artifact.Valence,
				Intensity: float64(artifact.Importance) / 10,
			},
			Tags: map[string]struct{}{"auto-synthesized": {}, "session-synthesis": {}},
		})
	}

	for _, evo := range result.IdentityEvolution {
		nodes = append(nodes, &models.MemoryNode{
			EntityID:   entityID,
			UserID:     userID,
			Type:       models.NodeIdentity,
			Content:    evo.Content,
			Importance: turnPostFilterMinImportance,
			Timestamp:  now,
			Tags:       map[string]struct{}{"auto-synthesized": {}, "session-synthesis": {}, "identity-kind-" + string(evo.Kind): {}},
		})
	}

	return nodes
}
