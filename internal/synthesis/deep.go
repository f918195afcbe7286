package synthesis

import (
	"context"
	"fmt"
	"time"

	"github.com/cortexd/runtime/internal/observability"
	"github.com/cortexd/runtime/pkg/models"
)

// DeepPattern is one cross-session pattern the deep-synthesis LLM call
// identified, destined to become a consolidated node synthesized from
// the anchors that support it.
type DeepPattern struct {
	Content       string               `json:"content"`
	Importance    int                  `json:"importance"`
	SynthesisType models.SynthesisType `json:"synthesis_type"`
	SourceIDs     []string             `json:"source_ids"`
}

// DeepResult is the structured-output schema a deep-synthesis LLM call
// is asked to fill in.
type DeepResult struct {
	Patterns []DeepPattern `json:"patterns"`
}

// RunDeepSynthesis runs the periodic consolidation pass: it merges
// near-duplicate anchors by true cosine similarity, then asks an LLM
// to find cross-session patterns over what's left. Any failure is
// logged and swallowed.
func (s *Synthesizer) RunDeepSynthesis(ctx context.Context, entityID, userID string) {
	started := s.now()
	err := s.runDeepSynthesis(ctx, entityID, userID)
	outcome := "success"
	var errStr string
	if err != nil {
		outcome = "error"
		errStr = err.Error()
		s.logger.Error("deep synthesis failed", "entity_id", entityID, "user_id", userID, "error", err)
	}
	observability.EmitSynthesisRun(&observability.SynthesisRunEvent{
		EntityID:   entityID,
		Kind:       "deep",
		DurationMs: time.Since(started).Milliseconds(),
		Outcome:    outcome,
		Error:      errStr,
	})
}

func (s *Synthesizer) runDeepSynthesis(ctx context.Context, entityID, userID string) error {
	anchors, err := s.cold.GetTopByImportance(ctx, entityID, userID, []models.NodeType{models.NodeAnchor}, s.cfg.DeepMaxMemories, 0)
	if err != nil {
		return fmt.Errorf("synthesis: read anchors for deep pass: %w", err)
	}

	cutoff := s.now().AddDate(0, 0, -s.cfg.DeepLookbackDays)
	var inWindow []*models.MemoryNode
	for _, a := range anchors {
		if a.Timestamp.After(cutoff) {
			inWindow = append(inWindow, a)
		}
	}

	surviving, merged, err := s.mergeNearDuplicates(ctx, inWindow)
	if err != nil {
		return err
	}

	var result DeepResult
	vars := map[string]any{"anchors": summarizeAnchors(surviving), "days_to_look_back": s.cfg.DeepLookbackDays}
	if err := s.callPathway(ctx, s.cfg.DeepPathway, vars, &result); err != nil {
		if len(merged) > 0 {
			// Duplicate merging already happened and is worth keeping
			// even if the pattern-finding call failed.
			s.logger.Warn("deep synthesis pattern pass failed, duplicate merge still applied", "entity_id", entityID, "error", err)
			return nil
		}
		return err
	}

	nodes := s.mapDeepPatterns(entityID, userID, result.Patterns)
	if len(nodes) > 0 {
		if err := s.cold.Upsert(ctx, nodes); err != nil {
			return fmt.Errorf("synthesis: upsert deep patterns: %w", err)
		}
	}
	if len(nodes) > 0 || len(merged) > 0 {
		if err := s.hot.InvalidateActiveContext(ctx, entityID, userID); err != nil {
			return fmt.Errorf("synthesis: invalidate active context: %w", err)
		}
	}
	return nil
}

// mergeNearDuplicates collapses any pair of anchors whose content
// vectors are cosine-similar past the configured threshold, keeping
// the higher-importance (ties: earlier) node and deleting the other.
// Returns the surviving set and the IDs that were deleted.
func (s *Synthesizer) mergeNearDuplicates(ctx context.Context, anchors []*models.MemoryNode) ([]*models.MemoryNode, []string, error) {
	dropped := make(map[string]bool)
	var toDelete []string

	for i := 0; i < len(anchors); i++ {
		if dropped[anchors[i].ID] {
			continue
		}
		for j := i + 1; j < len(anchors); j++ {
			if dropped[anchors[j].ID] {
				continue
			}
			if cosineSimilarity(anchors[i].ContentVector, anchors[j].ContentVector) < s.cfg.DuplicateCosine {
				continue
			}
			loser := anchors[j]
			if betterAnchor(anchors[j], anchors[i]) {
				loser = anchors[i]
				anchors[i] = anchors[j]
			}
			dropped[loser.ID] = true
			toDelete = append(toDelete, loser.ID)
		}
	}

	if len(toDelete) > 0 {
		if err := s.cold.DeleteMemories(ctx, toDelete); err != nil {
			return nil, nil, fmt.Errorf("synthesis: delete duplicate anchors: %w", err)
		}
	}

	var surviving []*models.MemoryNode
	for _, a := range anchors {
		if !dropped[a.ID] {
			surviving = append(surviving, a)
		}
	}
	return surviving, toDelete, nil
}

// betterAnchor reports whether candidate should be preferred over
// incumbent when merging a near-duplicate pair: higher importance
// wins, ties go to the earlier (more established) memory.
func betterAnchor(candidate, incumbent *models.MemoryNode) bool {
	if candidate.Importance != incumbent.Importance {
		return candidate.Importance > incumbent.Importance
	}
	return candidate.Timestamp.Before(incumbent.Timestamp)
}

func (s *Synthesizer) mapDeepPatterns(entityID, userID string, patterns []DeepPattern) []*models.MemoryNode {
	now := s.now()
	nodes := make([]*models.MemoryNode, 0, len(patterns))
	for _, p := range patterns {
		nodes = append(nodes, &models.MemoryNode{
			EntityID:        entityID,
			UserID:          userID,
			Type:            models.NodeArtifact,
			Content:         p.Content,
			Importance:      p.Importance,
			Timestamp:       now,
			SynthesizedFrom: p.SourceIDs,
			SynthesisType:   p.SynthesisType,
			Tags:            map[string]struct{}{"auto-synthesized": {}, "deep-synthesis": {}},
		})
	}
	return nodes
}
