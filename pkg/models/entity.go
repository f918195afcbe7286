// Package models defines the core domain types shared across the runtime:
// entities, pathways, and continuity-memory nodes.
package models

import "time"

// ReasoningEffort controls how much compute a model call requests.
type ReasoningEffort string

const (
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

// Entity is a persona bound to a UUID: name, identity, tools, and the
// memory settings that gate whether continuity memory is consulted for
// it at all.
type Entity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Identity is a free-form self-description. May be empty when
	// continuity memory supplies identity at runtime instead.
	Identity string `json:"identity,omitempty"`

	IsSystem  bool `json:"is_system"`
	IsDefault bool `json:"is_default"`
	UseMemory bool `json:"use_memory"`

	BaseModel       string          `json:"base_model"`
	ReasoningEffort ReasoningEffort `json:"reasoning_effort,omitempty"`

	// Tools is an ordered sequence of tool names; "*" expands to every
	// registered tool at resolution time.
	Tools []string `json:"tools,omitempty"`

	// CustomTools maps a name to an inline tool definition that only
	// this entity exposes.
	CustomTools map[string]ToolDefinition `json:"custom_tools,omitempty"`

	// AssocUserIDs grants access to non-system entities. System
	// entities ignore this field entirely.
	AssocUserIDs map[string]struct{} `json:"assoc_user_ids,omitempty"`

	Avatar string `json:"avatar,omitempty"`
	Voice  string `json:"voice,omitempty"`

	// Secrets maps a name to an encrypted blob; see
	// internal/entity.SecretBox for the encryption contract.
	Secrets map[string][]byte `json:"secrets,omitempty"`

	// Workspace is an optional container descriptor for a sandboxed
	// workspace tool; the workspace itself is out of scope here.
	Workspace *WorkspaceRef `json:"workspace,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkspaceRef is an opaque pointer to a sandboxed workspace container;
// the workspace implementation is a leaf tool outside this runtime.
type WorkspaceRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// VisibleTo reports whether u may see this entity. System entities are
// resolved by name, not by user association, so they are always
// considered visible here; callers resolve system entities through a
// separate path.
func (e *Entity) VisibleTo(userID string) bool {
	if e.IsSystem {
		return true
	}
	if len(e.AssocUserIDs) == 0 {
		return false
	}
	_, ok := e.AssocUserIDs[userID]
	return ok
}

// HasAllToolsWildcard reports whether the entity's tool list contains
// the "*" expand-all marker.
func (e *Entity) HasAllToolsWildcard() bool {
	for _, t := range e.Tools {
		if t == "*" {
			return true
		}
	}
	return false
}
