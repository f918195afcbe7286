package pathway

import (
	"context"
	"testing"

	"github.com/cortexd/runtime/internal/modelendpoint"
	"github.com/cortexd/runtime/pkg/models"
)

type fakeAdapter struct {
	lastReq *modelendpoint.Request
	reply   string
}

func (f *fakeAdapter) Name() string                         { return "fake" }
func (f *fakeAdapter) Models() []modelendpoint.ModelInfo     { return nil }
func (f *fakeAdapter) SupportsTools() bool                   { return false }
func (f *fakeAdapter) CountTokens(req *modelendpoint.Request) int { return len(req.System) / 4 }

func (f *fakeAdapter) Complete(ctx context.Context, req *modelendpoint.Request) (<-chan *modelendpoint.Chunk, error) {
	f.lastReq = req
	ch := make(chan *modelendpoint.Chunk, 2)
	ch <- &modelendpoint.Chunk{Text: f.reply}
	ch <- &modelendpoint.Chunk{Done: true}
	close(ch)
	return ch, nil
}

type fakeResolver struct {
	adapter modelendpoint.Adapter
}

func (f *fakeResolver) Get(name string) (modelendpoint.Adapter, error) { return f.adapter, nil }

func TestInvokerRendersPromptAndSplitsSystemMessages(t *testing.T) {
	engine := NewTemplateEngine(nil)
	adapter := &fakeAdapter{reply: "hello back"}
	inv := NewInvoker(engine, &fakeResolver{adapter: adapter})

	p := &models.Pathway{
		Name: "greeting",
		Prompt: []models.PromptMessage{
			{Role: "system", Content: "You are {{persona}}."},
			{Role: "user", Content: "Say hi to {{name}}."},
		},
		Model: "claude-sonnet-4-20250514",
	}

	out, err := inv.Invoke(context.Background(), p, map[string]any{"persona": "warm", "name": "ada"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "hello back" {
		t.Fatalf("got %q, want %q", out, "hello back")
	}
	if adapter.lastReq.System != "You are warm." {
		t.Fatalf("expected system prompt rendered, got %q", adapter.lastReq.System)
	}
	if len(adapter.lastReq.Messages) != 1 || adapter.lastReq.Messages[0].Content != "Say hi to ada." {
		t.Fatalf("expected user message rendered, got %+v", adapter.lastReq.Messages)
	}
}
