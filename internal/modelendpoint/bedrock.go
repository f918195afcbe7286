package modelendpoint

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/pkg/models"
)

// BedrockConfig configures the AWS Bedrock backend. Credentials are
// resolved through the default AWS credential chain unless
// AccessKeyID/SecretAccessKey are set, in which case those static
// credentials are used directly — useful for deployments outside an
// IAM-role-bearing environment (local dev, non-AWS hosts).
type BedrockConfig struct {
	Region          string
	DefaultModel    string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// BedrockAdapter drives completions through Bedrock's runtime
// InvokeModelWithResponseStream API, using the Anthropic Messages wire
// format Bedrock exposes for Claude model IDs.
type BedrockAdapter struct {
	client       *bedrockruntime.Client
	defaultModel string
}

func NewBedrockAdapter(cfg BedrockConfig) (*BedrockAdapter, error) {
	if cfg.Region == "" {
		return nil, apperrors.New(apperrors.Configuration, "modelendpoint.NewBedrockAdapter", "region required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Configuration, "modelendpoint.NewBedrockAdapter", err)
	}
	return &BedrockAdapter{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (a *BedrockAdapter) Name() string { return "bedrock" }

func (a *BedrockAdapter) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Name: "Claude 3.5 Sonnet (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku (Bedrock)", ContextSize: 200000, SupportsVision: true},
	}
}

func (a *BedrockAdapter) SupportsTools() bool { return true }

func (a *BedrockAdapter) CountTokens(req *Request) int {
	total := len(req.System)
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	return total / 4
}

// bedrockMessage mirrors the Anthropic-on-Bedrock request body, which
// reuses the Messages API's role/content shape rather than Bedrock's
// own generic invocation envelope.
type bedrockMessage struct {
	Role    string            `json:"role"`
	Content []bedrockContent `json:"content"`
}

type bedrockContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type bedrockRequestBody struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Tools            []bedrockTool    `json:"tools,omitempty"`
}

type bedrockTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type bedrockStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"content_block"`
	Usage struct {
		InputTokens  int `json:"input_tokens,omitempty"`
		OutputTokens int `json:"output_tokens,omitempty"`
	} `json:"usage"`
}

func (a *BedrockAdapter) buildBody(req *Request) bedrockRequestBody {
	body := bedrockRequestBody{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        req.MaxTokens,
		System:           req.System,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = 4096
	}
	for _, m := range req.Messages {
		var content []bedrockContent
		if m.Content != "" {
			content = append(content, bedrockContent{Type: "text", Text: m.Content})
		}
		for _, tr := range m.ToolResults {
			content = append(content, bedrockContent{Type: "tool_result", ToolUseID: tr.ToolCallID, Content: tr.Content, IsError: tr.IsError})
		}
		for _, tc := range m.ToolCalls {
			content = append(content, bedrockContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Input})
		}
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		body.Messages = append(body.Messages, bedrockMessage{Role: role, Content: content})
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, bedrockTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	return body
}

func (a *BedrockAdapter) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	body := a.buildBody(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Validation, "bedrock.Complete", err)
	}

	modelID := req.Model
	if modelID == "" {
		modelID = a.defaultModel
	}

	resp, err := a.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Remote, "bedrock.Complete", err)
	}

	out := make(chan *Chunk)
	go a.processStream(resp.GetStream(), out)
	return out, nil
}

func (a *BedrockAdapter) processStream(stream *bedrockruntime.InvokeModelWithResponseStreamEventStream, out chan<- *Chunk) {
	defer close(out)
	defer stream.Close()

	var currentToolID, currentToolName string
	var toolInput bytes.Buffer
	var inputTokens, outputTokens int

	for event := range stream.Events() {
		chunkEvent, ok := event.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}
		var e bedrockStreamEvent
		if err := json.Unmarshal(chunkEvent.Value.Bytes, &e); err != nil {
			continue
		}
		switch e.Type {
		case "content_block_start":
			if e.ContentBlock.Type == "tool_use" {
				currentToolID = e.ContentBlock.ID
				currentToolName = e.ContentBlock.Name
				toolInput.Reset()
			}
		case "content_block_delta":
			switch e.Delta.Type {
			case "text_delta":
				if e.Delta.Text != "" {
					out <- &Chunk{Text: e.Delta.Text}
				}
			case "input_json_delta":
				toolInput.WriteString(e.Delta.PartialJSON)
			}
		case "content_block_stop":
			if currentToolID != "" {
				out <- &Chunk{ToolCall: &models.ToolCall{ID: currentToolID, Name: currentToolName, Input: json.RawMessage(toolInput.Bytes())}}
				currentToolID = ""
			}
		case "message_delta":
			if e.Usage.OutputTokens > 0 {
				outputTokens = e.Usage.OutputTokens
			}
		case "message_start":
			if e.Usage.InputTokens > 0 {
				inputTokens = e.Usage.InputTokens
			}
		case "message_stop":
			out <- &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return
		}
	}
	if err := stream.Err(); err != nil {
		out <- &Chunk{Error: apperrors.Wrap(apperrors.Remote, "bedrock.processStream", err)}
	}
}
