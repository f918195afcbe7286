package models

import (
	"encoding/json"
	"time"
)

// PromptMessage is one templated message in a pathway's prompt.
type PromptMessage struct {
	Role    string `yaml:"role" json:"role"`
	Content string `yaml:"content" json:"content"`
}

// InputParameter describes one typed input a pathway accepts, with its
// default value when the caller omits it.
type InputParameter struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"` // string, number, boolean, object, array
	Default any    `yaml:"default,omitempty" json:"default,omitempty"`
}

// ToolDefinition is the OpenAI-compatible function-calling schema a
// pathway exposes as a tool, plus the implementation-only sibling keys
// that are stripped before the definition reaches a model.
type ToolDefinition struct {
	Type     string       `yaml:"type" json:"type"` // always "function"
	Function FunctionSpec `yaml:"function" json:"function"`

	// Enabled gates whether the tool is currently offered at all.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Icon, Category, PathwayParams, ToolCost, and HideExecution are
	// implementation-only sibling keys stripped before the schema is
	// sent to a model; see StripNonStandardKeys.
	Icon           string         `yaml:"icon,omitempty" json:"icon,omitempty"`
	Category       string         `yaml:"category,omitempty" json:"category,omitempty"`
	PathwayParams  map[string]any `yaml:"pathwayParams,omitempty" json:"pathwayParams,omitempty"`
	ToolCost       int            `yaml:"toolCost,omitempty" json:"toolCost,omitempty"`
	HideExecution  bool           `yaml:"hideExecution,omitempty" json:"hideExecution,omitempty"`
}

// FunctionSpec is the {name, description, parameters} triple a model
// uses to decide when and how to call a tool.
type FunctionSpec struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description" json:"description"`
	Parameters  json.RawMessage `yaml:"parameters" json:"parameters"`
}

// OpenAIToolSchema is ToolDefinition stripped of implementation-only
// fields, ready to hand to a model.
type OpenAIToolSchema struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// Strip returns the model-facing view of a tool definition.
func (t ToolDefinition) Strip() OpenAIToolSchema {
	return OpenAIToolSchema{Type: t.Type, Function: t.Function}
}

// Pathway is a declarative prompt+tool+model unit, and the only way to
// invoke a tool.
type Pathway struct {
	Name   string          `yaml:"name" json:"name"`
	Prompt []PromptMessage `yaml:"prompt" json:"prompt"`

	InputParameters []InputParameter `yaml:"inputParameters,omitempty" json:"input_parameters,omitempty"`

	// Model overrides the entity's default model for this pathway.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	UseInputChunking      bool          `yaml:"useInputChunking,omitempty" json:"use_input_chunking,omitempty"`
	EnableDuplicateRequests bool        `yaml:"enableDuplicateRequests,omitempty" json:"enable_duplicate_requests,omitempty"`
	Timeout                 time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	ToolDefinition *ToolDefinition `yaml:"toolDefinition,omitempty" json:"tool_definition,omitempty"`

	// Summarize, when set, names a pathway used to compress this
	// pathway's tool output before it re-enters the turn loop.
	Summarize string `yaml:"summarize,omitempty" json:"summarize,omitempty"`

	// Base names the pathway this one inherits shared defaults from
	// (model, streaming flags, common instructions).
	Base string `yaml:"base,omitempty" json:"base,omitempty"`

	// EmulateOpenAIChatModel / EmulateOpenAICompletionModel flag a
	// pathway for REST-streaming generation by the pathway generator.
	EmulateOpenAIChatModel       bool `yaml:"emulateOpenAIChatModel,omitempty" json:"emulate_openai_chat_model,omitempty"`
	EmulateOpenAICompletionModel bool `yaml:"emulateOpenAICompletionModel,omitempty" json:"emulate_openai_completion_model,omitempty"`

	// SourceFile records where this pathway was loaded from, for
	// override-merge precedence and error reporting.
	SourceFile string `yaml:"-" json:"-"`
}

// IsTool reports whether this pathway is exposed as a callable tool.
func (p *Pathway) IsTool() bool {
	return p.ToolDefinition != nil && p.ToolDefinition.Enabled
}
