package models

import "time"

// NodeType classifies a continuity memory node. SHORTHAND is this
// runtime's resolution of an open question in the distilled design:
// shorthand memories get their own type rather than a tag, because
// cascading-forget's per-type rules (anchors deleted outright,
// synthesized artifacts anonymized) need a type to dispatch on.
type NodeType string

const (
	NodeCore       NodeType = "CORE"
	NodeCapability NodeType = "CAPABILITY"
	NodeAnchor     NodeType = "ANCHOR"
	NodeArtifact   NodeType = "ARTIFACT"
	NodeIdentity   NodeType = "IDENTITY"
	NodeExpression NodeType = "EXPRESSION"
	NodeValue      NodeType = "VALUE"
	NodeEpisode    NodeType = "EPISODE"
	NodeShorthand  NodeType = "SHORTHAND"
)

// SynthesisType classifies how a node was derived from other nodes
// during deep consolidation.
type SynthesisType string

const (
	SynthesisConsolidation SynthesisType = "consolidation"
	SynthesisInsight       SynthesisType = "insight"
	SynthesisPattern       SynthesisType = "pattern"
	SynthesisLearning      SynthesisType = "learning"
)

// EmotionalState captures the affective reading attached to a node.
type EmotionalState struct {
	Valence    float64 `json:"valence"`
	Intensity  float64 `json:"intensity"`
	UserImpact string  `json:"user_impact,omitempty"`
}

// RelationalContext captures the relational reading attached to a
// node: how the entity and user relate, not just what was said.
type RelationalContext struct {
	BondStrength       float64  `json:"bond_strength"`
	CommunicationStyle []string `json:"communication_style,omitempty"`
	SharedReferences   []string `json:"shared_references,omitempty"`
	UserValues         []string `json:"user_values,omitempty"`
	UserStruggles      []string `json:"user_struggles,omitempty"`
}

// MemoryNode is the atom of long-term (cold) memory.
type MemoryNode struct {
	ID       string `json:"id"`
	EntityID string `json:"entity_id"`
	UserID   string `json:"user_id"`

	Type    NodeType `json:"type"`
	Content string   `json:"content"`

	// ContentVector is the fixed-dimension embedding; its dimension is
	// fixed per index, not per node.
	ContentVector []float32 `json:"-"`

	RelatedMemoryIDs map[string]struct{} `json:"related_memory_ids,omitempty"`
	ParentMemoryID   string              `json:"parent_memory_id,omitempty"`
	Tags             map[string]struct{} `json:"tags,omitempty"`

	Timestamp    time.Time `json:"timestamp"`
	LastAccessed time.Time `json:"last_accessed"`
	RecallCount  int       `json:"recall_count"`

	// Importance is in [1,10]; Confidence in [0,1]; DecayRate in [0,1].
	Importance int     `json:"importance"`
	Confidence float64 `json:"confidence"`
	DecayRate  float64 `json:"decay_rate"`

	EmotionalState    *EmotionalState    `json:"emotional_state,omitempty"`
	RelationalContext *RelationalContext `json:"relational_context,omitempty"`

	SynthesizedFrom []string      `json:"synthesized_from,omitempty"`
	SynthesisType   SynthesisType `json:"synthesis_type,omitempty"`

	// VectorScore is the raw cosine similarity preserved from the last
	// rerank that touched this node; deep synthesis uses it to find
	// near-duplicate anchors (cosine >= 0.9) without re-embedding.
	VectorScore float64 `json:"-"`
}

// AnonymizedUserID is the sentinel user ID a forget-me cascade
// re-inserts synthesized artifacts under.
const AnonymizedUserID = "anonymized"

// HasSynthesisSources reports whether this node was derived from other
// nodes, which determines whether a forget-me cascade anonymizes it
// instead of deleting it outright.
func (n *MemoryNode) HasSynthesisSources() bool {
	return len(n.SynthesizedFrom) > 0
}

// Anonymized returns a copy of n re-keyed under the anonymized user,
// with personal context stripped, per the forget-me cascade contract.
func (n *MemoryNode) Anonymized() *MemoryNode {
	clone := *n
	clone.UserID = AnonymizedUserID
	clone.SynthesizedFrom = nil
	clone.RelationalContext = nil
	clone.EmotionalState = nil
	return &clone
}

// EpisodicTurn is one message in the hot-store episodic stream.
type EpisodicTurn struct {
	Role          string    `json:"role"` // user, assistant
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	EmotionalTone string    `json:"emotional_tone,omitempty"`
	ToolsUsed     []string  `json:"tools_used,omitempty"`
}

// ActiveContextCache is the short-TTL precomputed blend of recent
// retrievals the context builder reuses when the topic has not
// drifted.
type ActiveContextCache struct {
	CurrentRelationalAnchors []string  `json:"current_relational_anchors,omitempty"`
	ActiveResonanceArtifacts []string  `json:"active_resonance_artifacts,omitempty"`
	NarrativeContext         string    `json:"narrative_context"`
	CurrentExpressionStyle   string    `json:"current_expression_style,omitempty"`
	ActiveValues             []string  `json:"active_values,omitempty"`
	LastUpdated              time.Time `json:"last_updated"`
	ExpiresAt                time.Time `json:"expires_at"`
}

// Expired reports whether the cache has passed its TTL as of now.
func (c *ActiveContextCache) Expired(now time.Time) bool {
	return c == nil || now.After(c.ExpiresAt)
}

// EmotionalResonance is the entity's current affective baseline.
type EmotionalResonance struct {
	Valence   float64 `json:"valence"`
	Intensity float64 `json:"intensity"`
}

// ExpressionState is the tunable, short-lived stylistic tone the
// entity is projecting right now. It has no TTL; it is reset only by
// an explicit session boundary.
type ExpressionState struct {
	BasePersonality        string              `json:"base_personality"`
	SituationalAdjustments []string            `json:"situational_adjustments,omitempty"`
	EmotionalResonance     EmotionalResonance  `json:"emotional_resonance"`
	LastInteractionTime    time.Time           `json:"last_interaction_timestamp"`
	LastInteractionTone    string              `json:"last_interaction_tone,omitempty"`
	SessionStartTimestamp  time.Time           `json:"session_start_timestamp"`
}

// Trend describes the direction resonance metrics are moving.
type Trend string

const (
	TrendWarming Trend = "warming"
	TrendCooling Trend = "cooling"
	TrendStable  Trend = "stable"
	TrendUnknown Trend = "unknown"
)

// ResonanceMetrics are blended by exponential moving average across
// synthesis events.
type ResonanceMetrics struct {
	AnchorRate       float64 `json:"anchor_rate"`
	ShorthandRate    float64 `json:"shorthand_rate"`
	EmotionalRange   float64 `json:"emotional_range"`
	AttunementRatio  float64 `json:"attunement_ratio"`
	Trend            Trend   `json:"trend"`
}

// MemoryScope partitions cold-index queries that are not already
// scoped by (entityId, userId) — mirrored from the teacher's RAG
// scoping vocabulary but repurposed for continuity memory's own scope
// axis (kept for the Count/Compact backend contract).
type MemoryScope string

const (
	ScopeEntityUser MemoryScope = "entity_user"
	ScopeEntity     MemoryScope = "entity"
	ScopeGlobal     MemoryScope = "global"
)

// SearchRequest defines parameters for semantic memory search.
type SearchRequest struct {
	EntityID  string         `json:"entity_id"`
	UserID    string         `json:"user_id"`
	Query     string         `json:"query"`
	Limit     int            `json:"limit"`
	Threshold float32        `json:"threshold"`
	Types     []NodeType     `json:"types,omitempty"`
	Filters   map[string]any `json:"filters,omitempty"`
}

// SearchResult pairs a node with the score it was ranked by.
type SearchResult struct {
	Node  *MemoryNode `json:"node"`
	Score float64     `json:"score"`
}

// SearchResponse contains the results of a memory search.
type SearchResponse struct {
	Results    []*SearchResult `json:"results"`
	TotalCount int             `json:"total_count"`
	QueryTime  time.Duration   `json:"query_time"`
}
