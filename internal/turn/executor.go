// Package turn implements the entity turn pipeline's tool-calling loop:
// prompt assembly, model call, parallel tool dispatch with duplicate
// collapsing and budget accounting, tool-output compression, and a
// final streaming synthesis call — the state machine the spec's
// turn executor describes as S0 through S6.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/internal/modelendpoint"
	"github.com/cortexd/runtime/internal/observability"
	"github.com/cortexd/runtime/pkg/models"
)

// PathwayCatalog resolves a tool call's name to the pathway that backs
// it. The executor depends on this narrow interface rather than the
// pathway package directly, the same seam the entity resolver uses.
type PathwayCatalog interface {
	ToolPathway(name string) (*models.Pathway, bool)

	// Resolve looks up any pathway by its own name, tool-tagged or
	// not — used to find a tool's Summarize pathway, which is named
	// by pathway name rather than by the tool's function name.
	Resolve(name string) (*models.Pathway, bool)
}

// PathwayInvoker executes a tool pathway against its call arguments and
// returns the raw text observation. A pathway without an imperative
// body is invoked by rendering its prompt against args and running it
// through the model endpoint, same as any other pathway call.
type PathwayInvoker interface {
	Invoke(ctx context.Context, p *models.Pathway, args map[string]any) (string, error)
}

// ModelCaller is the model-facing seam the executor drives its main
// conversation loop through.
type ModelCaller interface {
	Complete(ctx context.Context, req *modelendpoint.Request) (<-chan *modelendpoint.Chunk, error)
	CountTokens(req *modelendpoint.Request) int
}

const (
	defaultMaxRounds      = 8
	defaultToolTimeout    = 30 * time.Second
	defaultContextTokens  = 128_000
	compressionThreshold  = 0.8
	compressedTextMaxLen  = 800
)

// Executor drives one turn's tool-calling loop to completion.
type Executor struct {
	catalog PathwayCatalog
	invoker PathwayInvoker
	model   ModelCaller
	logger  *slog.Logger

	contextLimitTokens int
}

// Option configures an Executor at construction.
type Option func(*Executor)

// WithContextLimit overrides the token budget used to decide when tool
// observations get compressed.
func WithContextLimit(tokens int) Option {
	return func(e *Executor) { e.contextLimitTokens = tokens }
}

// WithLogger attaches a turn-scoped logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New builds a turn Executor over a pathway catalog, pathway invoker,
// and model caller.
func New(catalog PathwayCatalog, invoker PathwayInvoker, model ModelCaller, opts ...Option) *Executor {
	e := &Executor{
		catalog:            catalog,
		invoker:            invoker,
		model:              model,
		logger:             slog.Default().With("component", "turn"),
		contextLimitTokens: defaultContextTokens,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunInput is everything one turn needs: the assembled system prompt,
// the conversation so far (the user's latest message already
// appended), the entity's resolved tool schema, and the turn's budget.
type RunInput struct {
	EntityID     string
	System       string
	Messages     []modelendpoint.Message
	Tools        []models.OpenAIToolSchema
	Model        string
	BudgetTotal  int
	MaxRounds    int
	Emitter      Emitter
}

// RunOutput is the assembled result of one turn.
type RunOutput struct {
	Text       string
	ToolsUsed  []string
	Rounds     int
	BudgetUsed int
	Cancelled  bool
}

// Run drives the tool-calling loop to completion or cancellation.
func (e *Executor) Run(ctx context.Context, in RunInput) (*RunOutput, error) {
	emitter := in.Emitter
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	emitter.Created()
	defer emitter.Done()

	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	started := time.Now()
	observability.EmitTurnStarted(&observability.TurnStartedEvent{EntityID: in.EntityID, RunID: runID})

	out, err := e.run(ctx, in, runID)

	outcome := "completed"
	var errStr string
	switch {
	case err != nil:
		outcome = "error"
		errStr = err.Error()
	case out.Cancelled:
		outcome = "cancelled"
	}
	observability.EmitTurnCompleted(&observability.TurnCompletedEvent{
		EntityID:   in.EntityID,
		RunID:      runID,
		Rounds:     out.Rounds,
		DurationMs: time.Since(started).Milliseconds(),
		Outcome:    outcome,
		Error:      errStr,
	})
	return out, err
}

func (e *Executor) run(ctx context.Context, in RunInput, runID string) (*RunOutput, error) {
	emitter := in.Emitter
	if emitter == nil {
		emitter = NoopEmitter{}
	}

	maxRounds := in.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	dedup := newDedupTable()
	messages := append([]modelendpoint.Message(nil), in.Messages...)

	out := &RunOutput{}
	toolChoice := "auto"
	budgetReported := false

	for out.Rounds < maxRounds+1 {
		out.Rounds++

		req := &modelendpoint.Request{
			Model:      in.Model,
			System:     in.System,
			Messages:   e.maybeCompress(messages, in),
			Tools:      in.Tools,
			ToolChoice: toolChoice,
		}

		roundText, calls, err := e.runModelRound(ctx, req, emitter)
		if err != nil {
			if apperrors.Is(err, apperrors.Cancellation) {
				out.Cancelled = true
				return out, nil
			}
			return out, err
		}

		if toolChoice == "none" || len(calls) == 0 {
			out.Text = roundText
			return out, nil
		}

		messages = append(messages, modelendpoint.Message{Role: string(models.RoleAssistant), ToolCalls: calls})

		results, usedBudget, names, cancelled := e.dispatchRound(ctx, calls, dedup, emitter, runID, in.BudgetTotal-out.BudgetUsed)
		out.BudgetUsed += usedBudget
		out.ToolsUsed = append(out.ToolsUsed, names...)
		messages = append(messages, modelendpoint.Message{Role: string(models.RoleTool), ToolResults: results})

		if cancelled {
			out.Cancelled = true
			out.Text = roundText
			return out, nil
		}

		if in.BudgetTotal > 0 && out.BudgetUsed >= in.BudgetTotal {
			if !budgetReported {
				budgetReported = true
				observability.EmitBudgetExhausted(&observability.BudgetExhaustedEvent{EntityID: in.EntityID, RunID: runID, Budget: in.BudgetTotal})
			}
			toolChoice = "none"
			continue
		}
		if out.Rounds >= maxRounds {
			toolChoice = "none"
			continue
		}
	}

	return out, nil
}

// runModelRound drains one streamed completion into accumulated text
// and the tool calls the model requested, honoring caller cancellation.
func (e *Executor) runModelRound(ctx context.Context, req *modelendpoint.Request, emitter Emitter) (string, []models.ToolCall, error) {
	chunks, err := e.model.Complete(ctx, req)
	if err != nil {
		return "", nil, apperrors.Wrap(apperrors.Remote, "turn.runModelRound", err)
	}

	var text strings.Builder
	var calls []models.ToolCall
	trackID := fmt.Sprintf("track-%d", time.Now().UnixNano())
	started := false

	for {
		select {
		case <-ctx.Done():
			if started {
				emitter.TrackComplete(trackID)
			}
			return text.String(), calls, apperrors.New(apperrors.Cancellation, "turn.runModelRound", "context cancelled")
		case chunk, ok := <-chunks:
			if !ok {
				if started {
					emitter.TrackComplete(trackID)
				}
				return text.String(), calls, nil
			}
			if chunk.Error != nil {
				if started {
					emitter.TrackComplete(trackID)
				}
				return text.String(), calls, apperrors.Wrap(apperrors.Remote, "turn.runModelRound", chunk.Error)
			}
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
			if chunk.Text != "" {
				if !started {
					emitter.TrackStart(trackID)
					started = true
				}
				emitter.TextDelta(chunk.Text)
				text.WriteString(chunk.Text)
			}
			if chunk.Done {
				if started {
					emitter.TrackComplete(trackID)
				}
				return text.String(), calls, nil
			}
		}
	}
}

// dispatchRound admits calls in the model-listed order against the
// remaining budget (a call is admitted if the budget spent so far is
// still under the cap at the moment it is considered), then runs every
// admitted call concurrently with duplicate collapsing. Observations
// are placed back in the order the model listed the calls, per the
// ordering guarantee.
func (e *Executor) dispatchRound(ctx context.Context, calls []models.ToolCall, dedup *dedupTable, emitter Emitter, runID string, budgetRemaining int) (results []models.ToolResult, used int, names []string, cancelled bool) {
	results = make([]models.ToolResult, len(calls))
	costs := make([]int, len(calls))
	admitted := make([]bool, len(calls))

	spent := 0
	for i, call := range calls {
		p, ok := e.catalog.ToolPathway(strings.ToLower(call.Name))
		cost := 1
		if ok {
			cost = toolCost(p)
		}
		costs[i] = cost
		if budgetRemaining > 0 && spent >= budgetRemaining {
			results[i] = models.ToolResult{ToolCallID: call.ID, Content: "tool budget exhausted for this turn", IsError: true}
			emitter.ToolStatus(strings.ToLower(call.Name), "failed", "budget exhausted")
			continue
		}
		admitted[i] = true
		spent += cost
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for i, call := range calls {
		if !admitted[i] {
			continue
		}
		wg.Add(1)
		go func(i int, call models.ToolCall, cost int) {
			defer wg.Done()
			result, duplicate := e.dispatchOne(ctx, call, dedup, emitter, runID)
			mu.Lock()
			results[i] = result
			if !duplicate {
				used += cost
			}
			names = append(names, strings.ToLower(call.Name))
			mu.Unlock()
		}(i, call, costs[i])
	}
	wg.Wait()

	if ctx.Err() != nil {
		cancelled = true
	}
	return results, used, names, cancelled
}

// dispatchOne resolves and invokes a single tool pathway, collapsing
// it against any in-flight or already-resolved identical call this
// turn (unless the pathway opts out via EnableDuplicateRequests).
func (e *Executor) dispatchOne(ctx context.Context, call models.ToolCall, dedup *dedupTable, emitter Emitter, runID string) (models.ToolResult, bool) {
	name := strings.ToLower(call.Name)

	p, ok := e.catalog.ToolPathway(name)
	if !ok {
		emitter.ToolStatus(name, "failed", "unknown tool")
		observability.EmitToolExecution(&observability.ToolExecutionEvent{RunID: runID, ToolName: name, Outcome: "error", Error: "unknown tool"})
		return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("no tool pathway registered for %q", call.Name), IsError: true}, false
	}

	key := dedupKey(call)
	if !p.EnableDuplicateRequests {
		entry, existing := dedup.claim(key)
		if existing {
			<-entry.done
			dup := entry.result
			dup.ToolCallID = call.ID
			dup.Duplicate = true
			emitter.ToolStatus(name, "duplicate", "")
			observability.EmitToolExecution(&observability.ToolExecutionEvent{RunID: runID, ToolName: name, Outcome: "duplicate"})
			return dup, true
		}
		result := e.invoke(ctx, p, call, emitter, name, runID)
		dedup.resolve(entry, result)
		return result, false
	}

	return e.invoke(ctx, p, call, emitter, name, runID), false
}

func (e *Executor) invoke(ctx context.Context, p *models.Pathway, call models.ToolCall, emitter Emitter, name, runID string) models.ToolResult {
	emitter.ToolStatus(name, "running", "")
	started := time.Now()

	var args map[string]any
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &args); err != nil {
			emitter.ToolStatus(name, "failed", "invalid arguments")
			observability.EmitToolExecution(&observability.ToolExecutionEvent{RunID: runID, ToolName: name, DurationMs: time.Since(started).Milliseconds(), Outcome: "error", Error: "invalid arguments"})
			return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}
		}
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := e.invoker.Invoke(execCtx, p, args)
	if err != nil {
		emitter.ToolStatus(name, "failed", err.Error())
		observability.EmitToolExecution(&observability.ToolExecutionEvent{RunID: runID, ToolName: name, DurationMs: time.Since(started).Milliseconds(), Outcome: "error", Error: err.Error()})
		return models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}

	if p.Summarize != "" {
		if summarizer, ok := e.catalog.Resolve(p.Summarize); ok {
			if summary, sErr := e.invoker.Invoke(execCtx, summarizer, map[string]any{"content": text}); sErr == nil {
				text = summary
			}
		}
	}

	emitter.ToolStatus(name, "completed", "")
	observability.EmitToolExecution(&observability.ToolExecutionEvent{RunID: runID, ToolName: name, DurationMs: time.Since(started).Milliseconds(), Outcome: "success"})
	return models.ToolResult{ToolCallID: call.ID, Content: text}
}

// toolCost reads a pathway's declared tool cost, defaulting to 1.
func toolCost(p *models.Pathway) int {
	if p.ToolDefinition != nil && p.ToolDefinition.ToolCost > 0 {
		return p.ToolDefinition.ToolCost
	}
	return 1
}

// maybeCompress replaces prior tool observations with a truncated
// "[compressed]" form once the estimated token count crosses 80% of
// the model's context window, per the turn executor's compression
// rule. Pathway-level summarization already ran per-observation in
// invoke; this is the coarser, context-window-wide fallback.
func (e *Executor) maybeCompress(messages []modelendpoint.Message, in RunInput) []modelendpoint.Message {
	limit := e.contextLimitTokens
	probe := &modelendpoint.Request{Model: in.Model, System: in.System, Messages: messages, Tools: in.Tools}
	if e.model.CountTokens(probe) < int(float64(limit)*compressionThreshold) {
		return messages
	}

	compressed := make([]modelendpoint.Message, len(messages))
	for i, m := range messages {
		if i == len(messages)-1 || len(m.ToolResults) == 0 {
			compressed[i] = m
			continue
		}
		trimmed := make([]models.ToolResult, len(m.ToolResults))
		for j, r := range m.ToolResults {
			if len(r.Content) > compressedTextMaxLen {
				r.Content = r.Content[:compressedTextMaxLen] + " [compressed]"
			}
			trimmed[j] = r
		}
		m.ToolResults = trimmed
		compressed[i] = m
	}
	return compressed
}
