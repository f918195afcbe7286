package modelendpoint

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/internal/backoff"
	"github.com/cortexd/runtime/pkg/models"
)

// OpenAIConfig configures the OpenAI-compatible backend; BaseURL lets
// this adapter also front any OpenAI-chat-compatible gateway.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAIAdapter drives completions through the chat completions API.
type OpenAIAdapter struct {
	client       *openai.Client
	defaultModel string
	policy       backoff.BackoffPolicy
}

func NewOpenAIAdapter(cfg OpenAIConfig) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.Configuration, "modelendpoint.NewOpenAIAdapter", "api key required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIAdapter{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		policy:       backoff.DefaultPolicy(),
	}, nil
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385, SupportsVision: false},
	}
}

func (a *OpenAIAdapter) SupportsTools() bool { return true }

func (a *OpenAIAdapter) CountTokens(req *Request) int {
	total := len(req.System)
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	return total / 4
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    firstNonEmpty(req.Model, a.defaultModel),
		Messages: convertOpenAIMessages(req),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var err error
	for attempt := 1; attempt <= 4; attempt++ {
		stream, err = a.client.CreateChatCompletionStream(ctx, chatReq)
		if err == nil {
			break
		}
		if !isOpenAIRetryable(err) || attempt == 4 {
			return nil, apperrors.Wrap(apperrors.Remote, "openai.Complete", err)
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(apperrors.Cancellation, "openai.Complete", ctx.Err())
		case <-time.After(backoff.ComputeBackoff(a.policy, attempt)):
		}
	}

	out := make(chan *Chunk)
	go processOpenAIStream(ctx, stream, out)
	return out, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func isOpenAIRetryable(err error) bool {
	var apiErr *openai.APIError
	if ok := asOpenAIAPIError(err, &apiErr); ok {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}

func asOpenAIAPIError(err error, target **openai.APIError) bool {
	apiErr, ok := err.(*openai.APIError)
	if ok {
		*target = apiErr
	}
	return ok
}

func processOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- *Chunk) {
	defer close(out)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)

	for {
		select {
		case <-ctx.Done():
			out <- &Chunk{Error: apperrors.Wrap(apperrors.Cancellation, "openai.processStream", ctx.Err())}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flushToolCalls(toolCalls, out)
				out <- &Chunk{Done: true}
				return
			}
			out <- &Chunk{Error: apperrors.Wrap(apperrors.Remote, "openai.processStream", err)}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			out <- &Chunk{Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			cur, ok := toolCalls[idx]
			if !ok {
				cur = &models.ToolCall{}
				toolCalls[idx] = cur
			}
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				var sb strings.Builder
				sb.Write(cur.Input)
				sb.WriteString(tc.Function.Arguments)
				cur.Input = json.RawMessage(sb.String())
			}
		}
		if choice.FinishReason == "tool_calls" {
			flushToolCalls(toolCalls, out)
			toolCalls = make(map[int]*models.ToolCall)
		}
	}
}

func flushToolCalls(toolCalls map[int]*models.ToolCall, out chan<- *Chunk) {
	for _, tc := range toolCalls {
		if tc.ID != "" && tc.Name != "" {
			out <- &Chunk{ToolCall: tc}
		}
	}
}

func convertOpenAIMessages(req *Request) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := m.Role
		if role == "tool" {
			for _, tr := range m.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			continue
		}
		msg := openai.ChatCompletionMessage{Role: role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
		result = append(result, msg)
	}
	return result
}

func convertOpenAITools(tools []models.OpenAIToolSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}
