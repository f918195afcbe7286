// Package contextbuilder assembles the single context-window string an
// entity turn injects into its system prompt: a parallel fetch of
// recent hot-store state, a cached-narrative fast path keyed on topic
// drift, and a semantic-search-plus-graph-expansion slow path that
// refreshes the cache through an LLM summarization pathway.
package contextbuilder

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cortexd/runtime/pkg/models"
)

const (
	defaultRecentTurns    = 20
	defaultMemoryLimit    = 5
	defaultGraphDepth     = 1
	defaultDriftThreshold = 0.15
	defaultCacheTTL       = 5 * time.Minute
	defaultSummaryPathway = "context-narrative-summary"
)

// HotFetcher is the hot-store seam the builder reads recent state
// through and writes the refreshed active-context cache back to.
type HotFetcher interface {
	RecentTurns(ctx context.Context, entityID, userID string, n int64) ([]models.EpisodicTurn, error)
	GetExpressionState(ctx context.Context, entityID, userID string) (*models.ExpressionState, error)
	GetActiveContext(ctx context.Context, entityID, userID string) (*models.ActiveContextCache, error)
	SetActiveContext(ctx context.Context, entityID, userID string, cache *models.ActiveContextCache) error
}

// ColdSearcher is the cold-index seam the slow path uses to fetch and
// expand semantically relevant memories.
type ColdSearcher interface {
	Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
	ExpandGraph(ctx context.Context, seeds []*models.MemoryNode, depth int) ([]*models.MemoryNode, error)
}

// PathwayCatalog resolves the narrative-summarization pathway by name.
type PathwayCatalog interface {
	Resolve(name string) (*models.Pathway, bool)
}

// PathwayInvoker renders and runs a pathway, used here to turn a set
// of retrieved memories into a short grounded narrative paragraph.
type PathwayInvoker interface {
	Invoke(ctx context.Context, p *models.Pathway, args map[string]any) (string, error)
}

// Config tunes the builder away from its spec defaults.
type Config struct {
	RecentTurns         int64
	MemoryLimit         int
	EnableGraphExpand   bool
	GraphDepth          int
	DriftThreshold      float64
	CacheTTL            time.Duration
	SummaryPathwayName  string
}

// Builder composes the hot and cold stores into one context block.
type Builder struct {
	hot           HotFetcher
	cold          ColdSearcher
	catalog       PathwayCatalog
	invoker       PathwayInvoker
	cfg           Config
	now           func() time.Time
	cacheObserver func(hit bool)
}

// Option configures a Builder at construction.
type Option func(*Builder)

// WithNow overrides the clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithCacheObserver registers a callback fired on every Build call with
// whether the active-context cache was reused (true) or the slow cold
// refresh path ran (false), for metrics reporting.
func WithCacheObserver(observer func(hit bool)) Option {
	return func(b *Builder) { b.cacheObserver = observer }
}

// New builds a context Builder. cold, catalog, and invoker may be nil
// when an entity has no cold memory configured; the builder degrades
// to hot-store-only context in that case.
func New(hot HotFetcher, cold ColdSearcher, catalog PathwayCatalog, invoker PathwayInvoker, cfg Config, opts ...Option) *Builder {
	if cfg.RecentTurns <= 0 {
		cfg.RecentTurns = defaultRecentTurns
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = defaultMemoryLimit
	}
	if cfg.GraphDepth <= 0 {
		cfg.GraphDepth = defaultGraphDepth
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = defaultDriftThreshold
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.SummaryPathwayName == "" {
		cfg.SummaryPathwayName = defaultSummaryPathway
	}
	b := &Builder{hot: hot, cold: cold, catalog: catalog, invoker: invoker, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// fetchResult collects the parallel hot-store fetch's three legs.
type fetchResult struct {
	turns      []models.EpisodicTurn
	expression *models.ExpressionState
	active     *models.ActiveContextCache
}

// Build assembles and formats the context block for entityID/userID
// given the user's current query.
func (b *Builder) Build(ctx context.Context, entityID, userID, query string) (string, error) {
	fetched, err := b.fetchHot(ctx, entityID, userID)
	if err != nil {
		return "", err
	}

	narrative := ""
	var anchors, artifacts []string
	var retrieved []*models.MemoryNode

	cacheHit := fetched.active != nil && !hasTopicDrifted(query, fetched.active.NarrativeContext, b.cfg.DriftThreshold)
	if b.cacheObserver != nil {
		b.cacheObserver(cacheHit)
	}

	if cacheHit {
		narrative = fetched.active.NarrativeContext
		anchors = fetched.active.CurrentRelationalAnchors
		artifacts = fetched.active.ActiveResonanceArtifacts
	} else if b.cold != nil {
		retrieved, narrative, anchors, artifacts, err = b.refresh(ctx, entityID, userID, query)
		if err != nil {
			return "", err
		}
	}

	return format(narrative, fetched.expression, fetched.turns, retrieved, anchors, artifacts), nil
}

func (b *Builder) fetchHot(ctx context.Context, entityID, userID string) (fetchResult, error) {
	var (
		wg  sync.WaitGroup
		res fetchResult
		mu  sync.Mutex
		firstErr error
	)

	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		turns, err := b.hot.RecentTurns(ctx, entityID, userID, b.cfg.RecentTurns)
		mu.Lock()
		res.turns = turns
		mu.Unlock()
		record(err)
	}()
	go func() {
		defer wg.Done()
		state, err := b.hot.GetExpressionState(ctx, entityID, userID)
		mu.Lock()
		res.expression = state
		mu.Unlock()
		record(err)
	}()
	go func() {
		defer wg.Done()
		active, err := b.hot.GetActiveContext(ctx, entityID, userID)
		mu.Lock()
		res.active = active
		mu.Unlock()
		record(err)
	}()
	wg.Wait()

	return res, firstErr
}

// refresh runs the slow path: semantic search, optional graph
// expansion, LLM narrative summarization, and an active-context
// write-back for the next call to reuse.
func (b *Builder) refresh(ctx context.Context, entityID, userID, query string) (nodes []*models.MemoryNode, narrative string, anchors, artifacts []string, err error) {
	resp, err := b.cold.Search(ctx, models.SearchRequest{EntityID: entityID, UserID: userID, Query: query, Limit: b.cfg.MemoryLimit})
	if err != nil {
		return nil, "", nil, nil, err
	}

	relevant := make([]*models.MemoryNode, 0, len(resp.Results))
	for _, r := range resp.Results {
		relevant = append(relevant, r.Node)
	}

	combined := relevant
	if b.cfg.EnableGraphExpand && len(relevant) > 0 {
		expanded, expErr := b.cold.ExpandGraph(ctx, relevant, b.cfg.GraphDepth)
		if expErr == nil {
			combined = expanded
		}
	}

	narrative = b.summarize(ctx, query, combined)

	for _, n := range combined {
		if n.Type == models.NodeAnchor {
			anchors = append(anchors, n.ID)
		}
		if n.Type == models.NodeArtifact {
			artifacts = append(artifacts, n.ID)
		}
	}

	if b.hot != nil {
		now := b.now()
		_ = b.hot.SetActiveContext(ctx, entityID, userID, &models.ActiveContextCache{
			CurrentRelationalAnchors: anchors,
			ActiveResonanceArtifacts: artifacts,
			NarrativeContext:         narrative,
			LastUpdated:              now,
			ExpiresAt:                now.Add(b.cfg.CacheTTL),
		})
	}

	return combined, narrative, anchors, artifacts, nil
}

// summarize asks the configured pathway to turn retrieved memories
// into a short narrative grounded in the query. A missing pathway or
// invocation failure degrades to a plain content join rather than
// failing context assembly outright.
func (b *Builder) summarize(ctx context.Context, query string, nodes []*models.MemoryNode) string {
	if len(nodes) == 0 {
		return ""
	}
	if b.catalog == nil || b.invoker == nil {
		return joinContents(nodes)
	}
	p, ok := b.catalog.Resolve(b.cfg.SummaryPathwayName)
	if !ok {
		return joinContents(nodes)
	}
	contents := make([]string, len(nodes))
	for i, n := range nodes {
		contents[i] = n.Content
	}
	text, err := b.invoker.Invoke(ctx, p, map[string]any{"query": query, "memories": contents})
	if err != nil || strings.TrimSpace(text) == "" {
		return joinContents(nodes)
	}
	return text
}

func joinContents(nodes []*models.MemoryNode) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.Content
	}
	return strings.Join(parts, " ")
}
