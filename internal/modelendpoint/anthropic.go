package modelendpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/internal/backoff"
	"github.com/cortexd/runtime/pkg/models"
)

// AnthropicConfig configures the Claude backend.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
}

// AnthropicAdapter drives completions through the Claude Messages API.
type AnthropicAdapter struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	policy       backoff.BackoffPolicy
}

// NewAnthropicAdapter builds an adapter bound to one API key.
func NewAnthropicAdapter(cfg AnthropicConfig) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.Configuration, "modelendpoint.NewAnthropicAdapter", "api key required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicAdapter{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		policy:       backoff.DefaultPolicy(),
	}, nil
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "claude-opus-4-1-20250805", Name: "Claude Opus 4.1", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude Haiku 3.5", ContextSize: 200000, SupportsVision: true},
	}
}

func (a *AnthropicAdapter) SupportsTools() bool { return true }

// CountTokens approximates usage with a character-per-token heuristic;
// exact counts require a network round trip this estimator avoids.
func (a *AnthropicAdapter) CountTokens(req *Request) int {
	total := len(req.System)
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	return total / 4
}

func (a *AnthropicAdapter) model(req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	return a.defaultModel
}

// Complete streams one Claude response, retrying stream setup for
// transient remote failures with jittered backoff before giving up.
func (a *AnthropicAdapter) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	out := make(chan *Chunk)

	go func() {
		defer close(out)

		params, err := a.buildParams(req)
		if err != nil {
			out <- &Chunk{Error: apperrors.Wrap(apperrors.Validation, "anthropic.Complete", err)}
			return
		}

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		for attempt := 1; attempt <= a.maxRetries+1; attempt++ {
			stream = a.client.Messages.NewStreaming(ctx, params)
			if !isStreamSetupError(stream) {
				break
			}
			if attempt > a.maxRetries {
				break
			}
			select {
			case <-ctx.Done():
				out <- &Chunk{Error: apperrors.Wrap(apperrors.Cancellation, "anthropic.Complete", ctx.Err())}
				return
			case <-time.After(backoff.ComputeBackoff(a.policy, attempt)):
			}
		}

		a.processStream(stream, out)
	}()

	return out, nil
}

func isStreamSetupError(stream *ssestream.Stream[anthropic.MessageStreamEventUnion]) bool {
	return stream != nil && stream.Err() != nil && isRetryable(stream.Err())
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func (a *AnthropicAdapter) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model(req)),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params, nil
}

func convertMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}
		for _, tr := range m.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range m.ToolCalls {
			var input map[string]any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input: %w", err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func convertTools(tools []models.OpenAIToolSchema) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.Function.Parameters) > 0 {
			if err := json.Unmarshal(t.Function.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("tool %s: invalid parameters schema: %w", t.Function.Name, err)
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Function.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("tool %s: missing tool definition", t.Function.Name)
		}
		toolParam.OfTool.Description = anthropic.String(t.Function.Description)
		out = append(out, toolParam)
	}
	return out, nil
}

// processStream consumes Claude's SSE events, accumulating a tool
// call's input JSON across delta events before emitting it whole, the
// same accumulation shape the Messages streaming API requires for any
// consumer.
func (a *AnthropicAdapter) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- *Chunk) {
	if stream == nil {
		out <- &Chunk{Error: apperrors.New(apperrors.Remote, "anthropic.processStream", "no stream")}
		return
	}

	var currentToolID, currentToolName string
	var toolInput strings.Builder
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			inputTokens = int(ms.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart()
			if block.ContentBlock.Type == "tool_use" {
				tu := block.ContentBlock.AsToolUse()
				currentToolID = tu.ID
				currentToolName = tu.Name
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- &Chunk{Text: delta.Text}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					out <- &Chunk{Thinking: delta.Thinking}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentToolID != "" {
				out <- &Chunk{ToolCall: &models.ToolCall{
					ID:    currentToolID,
					Name:  currentToolName,
					Input: json.RawMessage(toolInput.String()),
				}}
				currentToolID = ""
				currentToolName = ""
				toolInput.Reset()
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}

		case "message_stop":
			out <- &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return
		}
	}

	if err := stream.Err(); err != nil {
		out <- &Chunk{Error: apperrors.Wrap(apperrors.Remote, "anthropic.processStream", err)}
	}
}
