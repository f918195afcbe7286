package main

import (
	"sort"

	"github.com/cortexd/runtime/pkg/models"
)

// memoryNodeDTO is the export/import wire shape for a memory node: the
// same fields models.MemoryNode carries, with its two ID sets
// flattened to sorted string slices so the file round-trips as plain
// JSON instead of Go's map-as-object encoding of map[string]struct{}.
type memoryNodeDTO struct {
	ID       string `json:"id"`
	EntityID string `json:"entity_id"`
	UserID   string `json:"user_id"`

	Type    models.NodeType `json:"type"`
	Content string          `json:"content"`

	RelatedMemoryIDs []string `json:"related_memory_ids,omitempty"`
	ParentMemoryID   string   `json:"parent_memory_id,omitempty"`
	Tags             []string `json:"tags,omitempty"`

	Timestamp    string `json:"timestamp"`
	LastAccessed string `json:"last_accessed"`
	RecallCount  int    `json:"recall_count"`

	Importance int     `json:"importance"`
	Confidence float64 `json:"confidence"`
	DecayRate  float64 `json:"decay_rate"`

	EmotionalState    *models.EmotionalState    `json:"emotional_state,omitempty"`
	RelationalContext *models.RelationalContext `json:"relational_context,omitempty"`

	SynthesizedFrom []string             `json:"synthesized_from,omitempty"`
	SynthesisType   models.SynthesisType `json:"synthesis_type,omitempty"`
}

func setToSorted(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sliceToSet(s []string) map[string]struct{} {
	if len(s) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(s))
	for _, v := range s {
		out[v] = struct{}{}
	}
	return out
}

func nodeToDTO(n *models.MemoryNode) memoryNodeDTO {
	return memoryNodeDTO{
		ID:                n.ID,
		EntityID:          n.EntityID,
		UserID:            n.UserID,
		Type:              n.Type,
		Content:           n.Content,
		RelatedMemoryIDs:  setToSorted(n.RelatedMemoryIDs),
		ParentMemoryID:    n.ParentMemoryID,
		Tags:              setToSorted(n.Tags),
		Timestamp:         n.Timestamp.Format(timeLayout),
		LastAccessed:      n.LastAccessed.Format(timeLayout),
		RecallCount:       n.RecallCount,
		Importance:        n.Importance,
		Confidence:        n.Confidence,
		DecayRate:         n.DecayRate,
		EmotionalState:    n.EmotionalState,
		RelationalContext: n.RelationalContext,
		SynthesizedFrom:   n.SynthesizedFrom,
		SynthesisType:     n.SynthesisType,
	}
}

func dtoToNode(d memoryNodeDTO) (*models.MemoryNode, error) {
	ts, err := parseTimeOrZero(d.Timestamp)
	if err != nil {
		return nil, err
	}
	lastAccessed, err := parseTimeOrZero(d.LastAccessed)
	if err != nil {
		return nil, err
	}
	return &models.MemoryNode{
		ID:                d.ID,
		EntityID:          d.EntityID,
		UserID:            d.UserID,
		Type:              d.Type,
		Content:           d.Content,
		RelatedMemoryIDs:  sliceToSet(d.RelatedMemoryIDs),
		ParentMemoryID:    d.ParentMemoryID,
		Tags:              sliceToSet(d.Tags),
		Timestamp:         ts,
		LastAccessed:      lastAccessed,
		RecallCount:       d.RecallCount,
		Importance:        d.Importance,
		Confidence:        d.Confidence,
		DecayRate:         d.DecayRate,
		EmotionalState:    d.EmotionalState,
		RelationalContext: d.RelationalContext,
		SynthesizedFrom:   d.SynthesizedFrom,
		SynthesisType:     d.SynthesisType,
	}, nil
}
