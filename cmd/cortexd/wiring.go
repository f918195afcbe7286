package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cortexd/runtime/internal/agentpathway"
	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/internal/config"
	"github.com/cortexd/runtime/internal/continuity"
	"github.com/cortexd/runtime/internal/continuity/coldmem"
	"github.com/cortexd/runtime/internal/continuity/coldmem/backend"
	"github.com/cortexd/runtime/internal/continuity/coldmem/backend/pgvector"
	"github.com/cortexd/runtime/internal/continuity/coldmem/backend/sqlitevec"
	"github.com/cortexd/runtime/internal/continuity/coldmem/embeddings"
	"github.com/cortexd/runtime/internal/continuity/coldmem/embeddings/ollamaembed"
	"github.com/cortexd/runtime/internal/continuity/coldmem/embeddings/openaiembed"
	"github.com/cortexd/runtime/internal/continuity/hotmem"
	"github.com/cortexd/runtime/internal/contextbuilder"
	"github.com/cortexd/runtime/internal/cron"
	"github.com/cortexd/runtime/internal/entity"
	"github.com/cortexd/runtime/internal/modelendpoint"
	"github.com/cortexd/runtime/internal/observability"
	"github.com/cortexd/runtime/internal/pathway"
	"github.com/cortexd/runtime/internal/synthesis"
	"github.com/cortexd/runtime/internal/turn"
)

// stack is the fully wired composition root shared by the serve,
// export-memories, import-memories, and migrate-entities commands —
// every component named in the runtime's component-to-package map.
type stack struct {
	entityStore *entity.Store
	resolver    *entity.Resolver

	pathways *pathway.Registry
	invoker  *pathway.Invoker
	engine   *pathway.TemplateEngine

	models *modelendpoint.Registry

	hot  *hotmem.Store
	cold *coldmem.Index

	continuitySvc *continuity.Service
	executor      *turn.Executor
	agents        *agentpathway.Pathway

	scheduler *cron.Scheduler
	metrics   *observability.Metrics

	closers []func() error
}

// wireDiagnostics registers a listener that forwards every diagnostic
// event the turn executor and synthesizer emit into the Prometheus
// collectors metrics owns, and enables emission (disabled by default so
// a bare library import carries no overhead). The returned func
// unsubscribes the listener; callers append it to stack.closers.
func wireDiagnostics(metrics *observability.Metrics) func() error {
	observability.SetDiagnosticsEnabled(true)
	unsub := observability.OnDiagnosticEvent(func(event observability.DiagnosticEventPayload) {
		switch e := event.(type) {
		case *observability.TurnCompletedEvent:
			metrics.RecordTurn(e.EntityID, e.Outcome, float64(e.DurationMs)/1000, e.Rounds)
		case *observability.ToolExecutionEvent:
			metrics.RecordToolExecution(e.ToolName, e.Outcome, float64(e.DurationMs)/1000)
		case *observability.BudgetExhaustedEvent:
			metrics.RecordBudgetExhausted(e.EntityID)
		case *observability.SynthesisRunEvent:
			metrics.RecordSynthesisRun(e.Kind, e.Outcome, float64(e.DurationMs)/1000)
		case *observability.ModelUsageEvent:
			metrics.RecordLLMRequest(e.Provider, e.Model, "success", float64(e.DurationMs)/1000, int(e.Usage.Input), int(e.Usage.Output))
		}
	})
	return func() error { unsub(); return nil }
}

// Close releases every resource the stack opened, in reverse
// acquisition order.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("error closing component", "error", err)
		}
	}
}

func buildEmbeddingProvider(cfg config.EmbeddingsConfig) (embeddings.Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return openaiembed.New(openaiembed.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
	case "ollama":
		return ollamaembed.New(ollamaembed.Config{BaseURL: cfg.OllamaURL, Model: cfg.Model}), nil
	default:
		return nil, apperrors.New(apperrors.Configuration, "buildEmbeddingProvider", fmt.Sprintf("unknown embeddings provider %q", cfg.Provider))
	}
}

func buildColdBackend(ctx context.Context, cfg config.ColdMemoryConfig) (backend.Backend, error) {
	switch cfg.Backend {
	case "sqlitevec":
		return sqlitevec.New(sqlitevec.Config{Path: cfg.DSN, Dimension: cfg.Dimension})
	case "pgvector":
		return pgvector.New(ctx, pgvector.Config{DSN: cfg.DSN, Dimension: cfg.Dimension, RunMigrations: true})
	default:
		return nil, apperrors.New(apperrors.Configuration, "buildColdBackend", fmt.Sprintf("unknown cold memory backend %q", cfg.Backend))
	}
}

// buildStack wires every component named in the runtime's
// component-to-package map over cfg: entity store and resolver,
// pathway registry/invoker/template engine, model endpoint registry,
// hot and cold memory, the context builder and synthesizer feeding the
// continuity service, the turn executor and agent pathway, and — when
// configured — the cron scheduler driving periodic deep synthesis.
func buildStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	s := &stack{}

	s.metrics = observability.NewMetrics()
	s.closers = append(s.closers, wireDiagnostics(s.metrics))

	modelRegistry, err := modelendpoint.NewRegistry(cfg.ModelEndpoints)
	if err != nil {
		return nil, err
	}
	s.models = modelRegistry

	entityStore, err := entity.New(entity.Config{DSN: cfg.EntityStore.DSN, RunMigrations: true})
	if err != nil {
		return nil, err
	}
	s.entityStore = entityStore
	s.closers = append(s.closers, entityStore.Close)

	pathwayRegistry := pathway.NewRegistry()
	if _, err := pathwayRegistry.Register(cfg.Pathways.Dir); err != nil {
		return nil, apperrors.Wrap(apperrors.Configuration, "buildStack", err)
	}
	s.pathways = pathwayRegistry

	s.resolver = entity.NewResolver(entityStore, pathwayRegistry)

	s.engine = pathway.NewTemplateEngine(pathwayRegistry)
	s.invoker = pathway.NewInvoker(s.engine, modelRegistry)

	hot, err := hotmem.New(ctx, hotmem.Config{
		Addr:          cfg.HotMemory.Addr,
		Password:      cfg.HotMemory.Password,
		DB:            cfg.HotMemory.DB,
		Namespace:     cfg.HotMemory.Namespace,
		EncryptionKey: cfg.HotMemory.EncryptionKey,
	})
	if err != nil {
		return nil, err
	}
	s.hot = hot
	s.closers = append(s.closers, hot.Close)

	var coldIndex *coldmem.Index
	if cfg.ColdMemory.Backend != "" {
		coldBackend, err := buildColdBackend(ctx, cfg.ColdMemory)
		if err != nil {
			return nil, err
		}
		embedder, err := buildEmbeddingProvider(cfg.ColdMemory.Embeddings)
		if err != nil {
			return nil, err
		}
		coldIndex = coldmem.New(coldBackend, embedder, cfg.ColdMemory.RecallWeights)
		s.closers = append(s.closers, coldBackend.Close)
	}
	s.cold = coldIndex

	var contSvc *continuity.Service
	if coldIndex != nil {
		ctxBuilder := contextbuilder.New(hot, coldIndex, pathwayRegistry, s.invoker, contextbuilder.Config{},
			contextbuilder.WithCacheObserver(s.metrics.RecordContextCacheOutcome))
		synthesizer := synthesis.New(coldIndex, hot, pathwayRegistry, s.invoker, synthesis.Config{
			DeepLookbackDays: cfg.Synthesis.DeepLookbackDays,
			DeepMaxMemories:  cfg.Synthesis.DeepMaxMemories,
			DuplicateCosine:  cfg.Synthesis.DuplicateCosine,
		})
		contSvc = continuity.New(hot, coldIndex, ctxBuilder, synthesizer, continuity.WithLogger(logger))
	} else {
		contSvc = continuity.New(hot, nil, nil, nil, continuity.WithLogger(logger))
	}
	s.continuitySvc = contSvc

	router := &modelRouter{registry: modelRegistry}
	s.executor = turn.New(pathwayRegistry, s.invoker, router, turn.WithLogger(logger))

	s.agents = agentpathway.New(s.resolver, contSvc, s.executor, agentpathway.Config{}, agentpathway.WithLogger(logger))

	if cfg.Cron.Enabled {
		runner := &synthesisRunner{service: contSvc, hot: hot}
		scheduler, err := cron.NewScheduler(cfg.Cron, cron.WithLogger(logger), cron.WithSynthesisRunner(runner))
		if err != nil {
			return nil, err
		}
		s.scheduler = scheduler
	}

	return s, nil
}

// buildColdIndexOnly wires just the cold memory backend and embedding
// provider, for the export-memories/import-memories/benchmark-continuity
// utility commands that never need the pathway registry, model
// endpoints, or turn executor.
func buildColdIndexOnly(ctx context.Context, cfg *config.Config) (*coldmem.Index, func() error, error) {
	if cfg.ColdMemory.Backend == "" {
		return nil, nil, apperrors.New(apperrors.Configuration, "buildColdIndexOnly", "no cold memory backend configured")
	}
	coldBackend, err := buildColdBackend(ctx, cfg.ColdMemory)
	if err != nil {
		return nil, nil, err
	}
	embedder, err := buildEmbeddingProvider(cfg.ColdMemory.Embeddings)
	if err != nil {
		_ = coldBackend.Close()
		return nil, nil, err
	}
	return coldmem.New(coldBackend, embedder, cfg.ColdMemory.RecallWeights), coldBackend.Close, nil
}
