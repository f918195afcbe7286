// Package modelendpoint is the single seam between the runtime and
// concrete model provider SDKs. Every pathway invocation and entity
// turn goes through one Adapter.Complete call; nothing upstream knows
// which provider family served the request.
package modelendpoint

import (
	"context"
	"encoding/json"

	"github.com/cortexd/runtime/pkg/models"
)

// Message is one turn in a conversation handed to a provider.
type Message struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Tools     []models.OpenAIToolSchema `json:"tools,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`

	// ToolChoice is "auto" (the model may call a tool) or "none" (force
	// a final text response); the turn executor switches to "none" once
	// a turn's budget is exhausted or it has run its max rounds.
	ToolChoice string `json:"tool_choice,omitempty"`

	EnableThinking       bool `json:"enable_thinking,omitempty"`
	ThinkingBudgetTokens int  `json:"thinking_budget_tokens,omitempty"`
}

// Chunk is a single unit of a streamed completion. Exactly one of
// Text, ToolCall, Error, or Done carries meaning per chunk; Done may
// accompany the final token usage.
type Chunk struct {
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	Done bool  `json:"done,omitempty"`
	Error error `json:"-"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// ModelInfo describes one model a provider family exposes.
type ModelInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// Adapter is the interface every provider family implements. An entity
// bound to "anthropic" as its base model family and one bound to
// "bedrock" drive turns through the same Complete call.
type Adapter interface {
	// Complete streams a completion. The returned channel is closed
	// once the stream ends, whether by Done or Error.
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)

	// Name identifies the provider family ("anthropic", "openai", "bedrock").
	Name() string

	// Models lists the model IDs this adapter can serve.
	Models() []ModelInfo

	// SupportsTools reports whether this adapter can stream tool calls.
	SupportsTools() bool

	// CountTokens estimates the input token count for req without
	// making a network call, used by the context builder's
	// compress-at-0.8-limit check.
	CountTokens(req *Request) int
}

// toJSONRaw marshals a value to json.RawMessage, panicking only on
// programmer error (a type that can't marshal at all).
func toJSONRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
