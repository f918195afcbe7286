package synthesis

import (
	"context"
	"fmt"
	"time"

	"github.com/cortexd/runtime/internal/observability"
	"github.com/cortexd/runtime/pkg/models"
)

// RunTurnSynthesis runs the per-turn synthesis pass over the episodic
// buffer's last few turns and writes any resulting memory. Any failure
// is logged and swallowed.
func (s *Synthesizer) RunTurnSynthesis(ctx context.Context, entityID, userID string, turns []models.EpisodicTurn) {
	started := s.now()
	err := s.runTurnSynthesis(ctx, entityID, userID, turns)
	outcome := "success"
	var errStr string
	if err != nil {
		outcome = "error"
		errStr = err.Error()
		s.logger.Error("turn synthesis failed", "entity_id", entityID, "user_id", userID, "error", err)
	}
	observability.EmitSynthesisRun(&observability.SynthesisRunEvent{
		EntityID:   entityID,
		Kind:       "turn",
		DurationMs: time.Since(started).Milliseconds(),
		Outcome:    outcome,
		Error:      errStr,
	})
}

func (s *Synthesizer) runTurnSynthesis(ctx context.Context, entityID, userID string, turns []models.EpisodicTurn) error {
	var result TurnResult
	if err := s.callPathway(ctx, s.cfg.TurnPathway, map[string]any{"turns": turns}, &result); err != nil {
		return err
	}

	nodes := s.mapTurnResult(entityID, userID, result)
	wroteMemory := len(nodes) > 0
	if wroteMemory {
		if err := s.cold.Upsert(ctx, nodes); err != nil {
			return fmt.Errorf("synthesis: upsert turn nodes: %w", err)
		}
	}

	if result.ExpressionAdjustment != nil {
		if err := s.applyExpressionAdjustment(ctx, entityID, userID, *result.ExpressionAdjustment); err != nil {
			return err
		}
	}

	if err := s.updateResonance(ctx, entityID, userID, nodes); err != nil {
		return err
	}

	if wroteMemory {
		if err := s.hot.InvalidateActiveContext(ctx, entityID, userID); err != nil {
			return fmt.Errorf("synthesis: invalidate active context: %w", err)
		}
	}
	return nil
}

// mapTurnResult applies the turn-synthesis post-filter (importance
// floor on insights, conclusion requirement on topics) and maps what
// survives to memory nodes.
func (s *Synthesizer) mapTurnResult(entityID, userID string, result TurnResult) []*models.MemoryNode {
	now := s.now()
	var nodes []*models.MemoryNode

	for _, insight := range result.RelationalInsights {
		if insight.Importance < turnPostFilterMinImportance {
			continue
		}
		nodes = append(nodes, &models.MemoryNode{
			EntityID:   entityID,
			UserID:     userID,
			Type:       models.NodeAnchor,
			Content:    insight.Content,
			Importance: insight.Importance,
			Timestamp:  now,
			EmotionalState: &models.EmotionalState{
				Valence:   insight.Valence,
				Intensity: float64(insight.Importance) / 10,
			},
			Tags: map[string]struct{}{"auto-synthesized": {}, "turn-synthesis": {}},
		})
	}

	for _, topic := range result.TopicResonance {
		if topic.Conclusion == "" {
			continue
		}
		nodes = append(nodes, &models.MemoryNode{
			EntityID:   entityID,
			UserID:     userID,
			Type:       models.NodeArtifact,
			Content:    fmt.Sprintf("%s: %s (%s)", topic.Topic, topic.Conclusion, topic.Feeling),
			Importance: 5,
			Timestamp:  now,
			Tags:       map[string]struct{}{"auto-synthesized": {}, "turn-synthesis": {}},
		})
	}

	for _, note := range result.IdentityNotes {
		nodes = append(nodes, &models.MemoryNode{
			EntityID:   entityID,
			UserID:     userID,
			Type:       models.NodeIdentity,
			Content:    note.Content,
			Importance: turnPostFilterMinImportance,
			Timestamp:  now,
			Tags:       map[string]struct{}{"auto-synthesized": {}, "turn-synthesis": {}, "identity-kind-" + string(note.Kind): {}},
		})
	}

	return nodes
}

// applyExpressionAdjustment folds a suggested tone into the entity's
// expression state as a partial update.
func (s *Synthesizer) applyExpressionAdjustment(ctx context.Context, entityID, userID string, adj ExpressionAdjustment) error {
	state, err := s.hot.GetExpressionState(ctx, entityID, userID)
	if err != nil {
		return fmt.Errorf("synthesis: read expression state: %w", err)
	}
	if state == nil {
		state = &models.ExpressionState{SessionStartTimestamp: s.now()}
	}
	state.LastInteractionTone = adj.SuggestedTone
	state.LastInteractionTime = s.now()
	if adj.Reason != "" {
		state.SituationalAdjustments = appendBounded(state.SituationalAdjustments, adj.Reason, 10)
	}
	if err := s.hot.SetExpressionState(ctx, entityID, userID, state); err != nil {
		return fmt.Errorf("synthesis: write expression state: %w", err)
	}
	return nil
}

func appendBounded(list []string, item string, max int) []string {
	list = append(list, item)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}
