package pathway

import (
	"context"
	"strings"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/internal/modelendpoint"
	"github.com/cortexd/runtime/pkg/models"
)

// AdapterResolver resolves a model endpoint name to the adapter that
// serves it, the same seam the entity agent pathway drives its main
// conversation loop through.
type AdapterResolver interface {
	Get(name string) (modelendpoint.Adapter, error)
}

// Invoker is the only way a pathway without an imperative Go body gets
// executed: its prompt is rendered against the call's template
// variables and run through the model endpoint non-streaming, the
// accumulated text chunks becoming the tool's or synthesis stage's
// observation.
type Invoker struct {
	engine    *TemplateEngine
	endpoints AdapterResolver
}

// NewInvoker builds an Invoker over a template engine and the model
// endpoint registry.
func NewInvoker(engine *TemplateEngine, endpoints AdapterResolver) *Invoker {
	return &Invoker{engine: engine, endpoints: endpoints}
}

// Invoke renders p's prompt against args, dispatches it to p's model
// endpoint, and returns the assembled text. args is merged into the
// template namespace verbatim, so a pathway's prompt can reference a
// tool call's own arguments by name.
func (inv *Invoker) Invoke(ctx context.Context, p *models.Pathway, args map[string]any) (string, error) {
	req, err := inv.buildRequest(p, args)
	if err != nil {
		return "", err
	}

	adapter, err := inv.endpoints.Get(p.Base)
	if err != nil {
		return "", apperrors.Wrap(apperrors.Configuration, "pathway.Invoker.Invoke", err)
	}

	chunks, err := adapter.Complete(ctx, req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.Remote, "pathway.Invoker.Invoke", err)
	}

	var out strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", apperrors.Wrap(apperrors.Remote, "pathway.Invoker.Invoke", chunk.Error)
		}
		out.WriteString(chunk.Text)
	}
	return out.String(), nil
}

// buildRequest renders every prompt message in order, folding "system"
// role messages into the request's System field and everything else
// into the message list.
func (inv *Invoker) buildRequest(p *models.Pathway, args map[string]any) (*modelendpoint.Request, error) {
	req := &modelendpoint.Request{Model: p.Model}

	var system strings.Builder
	for _, msg := range p.Prompt {
		rendered, err := inv.engine.Render(p.Name+"#"+msg.Role, msg.Content, args)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(msg.Role, "system") {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(rendered)
			continue
		}
		req.Messages = append(req.Messages, modelendpoint.Message{Role: msg.Role, Content: rendered})
	}
	req.System = system.String()
	return req, nil
}
