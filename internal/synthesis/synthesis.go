package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/cortexd/runtime/pkg/models"
)

// ColdStore is the cold-index seam synthesis writes discovered memory
// into and reads existing nodes from.
type ColdStore interface {
	Upsert(ctx context.Context, nodes []*models.MemoryNode) error
	GetByType(ctx context.Context, entityID, userID string, types []models.NodeType) ([]*models.MemoryNode, error)
	GetTopByImportance(ctx context.Context, entityID, userID string, types []models.NodeType, limit int, minImportance int) ([]*models.MemoryNode, error)
	DeleteMemories(ctx context.Context, ids []string) error
}

// HotStore is the hot-store seam synthesis reads/writes expression
// state and resonance metrics through, and invalidates active context
// against.
type HotStore interface {
	GetExpressionState(ctx context.Context, entityID, userID string) (*models.ExpressionState, error)
	SetExpressionState(ctx context.Context, entityID, userID string, state *models.ExpressionState) error
	GetResonanceMetrics(ctx context.Context, entityID, userID string) (*models.ResonanceMetrics, error)
	SetResonanceMetrics(ctx context.Context, entityID, userID string, m *models.ResonanceMetrics) error
	InvalidateActiveContext(ctx context.Context, entityID, userID string) error
}

// PathwayCatalog resolves a synthesis pathway by name.
type PathwayCatalog interface {
	Resolve(name string) (*models.Pathway, bool)
}

// PathwayInvoker renders and runs a pathway, returning its raw text.
type PathwayInvoker interface {
	Invoke(ctx context.Context, p *models.Pathway, args map[string]any) (string, error)
}

// Config names the pathways each synthesis stage calls and tunes the
// deep-synthesis lookback window.
type Config struct {
	TurnPathway    string
	SessionPathway string
	DeepPathway    string

	DeepLookbackDays int
	DeepMaxMemories  int
	DuplicateCosine  float64
}

func (c *Config) applyDefaults() {
	if c.TurnPathway == "" {
		c.TurnPathway = "synthesis-turn"
	}
	if c.SessionPathway == "" {
		c.SessionPathway = "synthesis-session"
	}
	if c.DeepPathway == "" {
		c.DeepPathway = "synthesis-deep"
	}
	if c.DeepLookbackDays <= 0 {
		c.DeepLookbackDays = 30
	}
	if c.DeepMaxMemories <= 0 {
		c.DeepMaxMemories = 500
	}
	if c.DuplicateCosine <= 0 {
		c.DuplicateCosine = minDuplicateCosine
	}
}

// Synthesizer runs the turn, session, and deep synthesis passes.
// Every public method swallows its own errors after logging them:
// synthesis never blocks or fails the turn that triggered it.
type Synthesizer struct {
	cold    ColdStore
	hot     HotStore
	catalog PathwayCatalog
	invoker PathwayInvoker
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Synthesizer at construction.
type Option func(*Synthesizer)

// WithNow overrides the clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(s *Synthesizer) { s.now = now }
}

// WithLogger attaches a synthesis-scoped logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) { s.logger = logger }
}

// New builds a Synthesizer.
func New(cold ColdStore, hot HotStore, catalog PathwayCatalog, invoker PathwayInvoker, cfg Config, opts ...Option) *Synthesizer {
	cfg.applyDefaults()
	s := &Synthesizer{
		cold:    cold,
		hot:     hot,
		catalog: catalog,
		invoker: invoker,
		cfg:     cfg,
		logger:  slog.Default().With("component", "synthesis"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// callPathway resolves name, invokes it with vars, and unmarshals the
// resulting text as JSON into out. A missing pathway or a model
// response that doesn't parse returns an error for the caller to log
// and swallow — it never panics.
func (s *Synthesizer) callPathway(ctx context.Context, name string, vars map[string]any, out any) error {
	p, ok := s.catalog.Resolve(name)
	if !ok {
		return fmt.Errorf("synthesis: pathway %q not registered", name)
	}
	text, err := s.invoker.Invoke(ctx, p, vars)
	if err != nil {
		return fmt.Errorf("synthesis: invoke %q: %w", name, err)
	}
	return json.Unmarshal([]byte(extractJSON(text)), out)
}

// extractJSON strips a markdown code fence around a JSON payload, if
// the model wrapped its structured output in one.
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if m := reCodeFence.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

var reCodeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// cosineSimilarity is the standard cosine between two equal-dimension
// embeddings; deep synthesis uses it to find near-duplicate anchors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
