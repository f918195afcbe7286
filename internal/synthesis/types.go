// Package synthesis turns raw episodic turns into long-term memory:
// a per-turn pass that runs after every response, a per-session batch
// pass that additionally reconciles against existing anchors, and a
// periodic deep pass that consolidates across sessions. Every stage is
// best-effort — a synthesis failure is logged and swallowed, never
// propagated into the turn that triggered it.
package synthesis

// RelationalInsight is one observation about the relationship or the
// user, destined to become an ANCHOR node when it clears the
// importance floor.
type RelationalInsight struct {
	Content    string  `json:"content"`
	Valence    float64 `json:"valence"`
	Importance int     `json:"importance"`
}

// IdentityNoteKind classifies what kind of self-observation the
// entity made about itself during the turn.
type IdentityNoteKind string

const (
	IdentityGrowth     IdentityNoteKind = "growth"
	IdentityRealization IdentityNoteKind = "realization"
	IdentityPreference IdentityNoteKind = "preference"
	IdentityBoundary   IdentityNoteKind = "boundary"
)

// IdentityNote is a self-observation, destined to become an IDENTITY
// node.
type IdentityNote struct {
	Content string           `json:"content"`
	Kind    IdentityNoteKind `json:"kind"`
}

// TopicResonance captures how a topic landed; it is only kept if it
// reached a conclusion, per the turn-synthesis post-filter.
type TopicResonance struct {
	Topic      string `json:"topic"`
	Feeling    string `json:"feeling"`
	Conclusion string `json:"conclusion,omitempty"`
}

// ExpressionAdjustment is a suggested tweak to the entity's expression
// state, folded in as a partial update.
type ExpressionAdjustment struct {
	SuggestedTone string `json:"suggested_tone"`
	Reason        string `json:"reason"`
}

// TurnResult is the structured-output schema a turn-synthesis LLM call
// is asked to fill in.
type TurnResult struct {
	RelationalInsights   []RelationalInsight   `json:"relational_insights"`
	IdentityNotes        []IdentityNote        `json:"identity_notes"`
	TopicResonance       []TopicResonance      `json:"topic_resonance"`
	ExpressionAdjustment *ExpressionAdjustment `json:"expression_adjustment"`
}

// AnchorUpdate names an existing anchor (by ID) session synthesis
// decided to refine rather than duplicate.
type AnchorUpdate struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// IdentityEvolution is session synthesis's coarser-grained identity
// observation, spanning the whole session rather than one turn.
type IdentityEvolution struct {
	Content string           `json:"content"`
	Kind    IdentityNoteKind `json:"kind"`
}

// SessionResult extends TurnResult with the session-scoped fields: the
// LLM call is also shown the session's existing anchors, so it can
// decide update vs. new.
type SessionResult struct {
	TurnResult

	AnchorUpdates        []AnchorUpdate        `json:"anchor_updates"`
	ResonanceArtifacts   []RelationalInsight   `json:"resonance_artifacts"`
	IdentityEvolution    []IdentityEvolution   `json:"identity_evolution"`
	ExpressionRefinement *ExpressionAdjustment `json:"expression_refinement"`
}

const (
	turnPostFilterMinImportance = 6
	minDuplicateCosine          = 0.9
)
