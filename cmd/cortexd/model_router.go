package main

import (
	"context"
	"time"

	"github.com/cortexd/runtime/internal/modelendpoint"
	"github.com/cortexd/runtime/internal/observability"
)

// modelRouter adapts the model endpoint registry to turn.ModelCaller:
// it resolves a request's Model field as the endpoint name the
// entity's base model was configured with, then delegates, reporting
// the completed stream's latency and token usage as a diagnostic event.
type modelRouter struct {
	registry *modelendpoint.Registry
}

func (m *modelRouter) Complete(ctx context.Context, req *modelendpoint.Request) (<-chan *modelendpoint.Chunk, error) {
	adapter, err := m.registry.Get(req.Model)
	if err != nil {
		return nil, err
	}
	upstream, err := adapter.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan *modelendpoint.Chunk)
	go func() {
		defer close(out)
		started := time.Now()
		var input, output int
		for chunk := range upstream {
			if chunk.InputTokens > 0 {
				input = chunk.InputTokens
			}
			if chunk.OutputTokens > 0 {
				output = chunk.OutputTokens
			}
			out <- chunk
		}
		observability.EmitModelUsage(&observability.ModelUsageEvent{
			Provider:   adapter.Name(),
			Model:      req.Model,
			DurationMs: time.Since(started).Milliseconds(),
			Usage:      observability.UsageDetails{Input: int64(input), Output: int64(output)},
		})
	}()
	return out, nil
}

func (m *modelRouter) CountTokens(req *modelendpoint.Request) int {
	adapter, err := m.registry.Get(req.Model)
	if err != nil {
		return 0
	}
	return adapter.CountTokens(req)
}
