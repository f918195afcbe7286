package entity

import (
	"context"
	"strings"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/pkg/models"
)

// ToolCatalog is the pathway registry's tool-facing surface: every
// name it knows how to resolve to a model-facing schema. The resolver
// depends only on this narrow interface so it never imports the
// pathway package directly.
type ToolCatalog interface {
	AllToolNames() []string
	ToolSchema(name string) (models.OpenAIToolSchema, bool)
}

// Resolver loads entity configuration and filters each entity's tool
// list down to what it may actually call.
type Resolver struct {
	store   *Store
	catalog ToolCatalog
	cache   *cache
}

// NewResolver builds a resolver over a store and the pathway
// registry's tool catalog.
func NewResolver(store *Store, catalog ToolCatalog) *Resolver {
	return &Resolver{store: store, catalog: catalog, cache: newCache(0)}
}

// LoadEntityConfig resolves an entity by ID, falling back to the
// configured default entity when id is empty.
func (r *Resolver) LoadEntityConfig(ctx context.Context, id string) (*models.Entity, error) {
	if id == "" {
		if e, ok := r.cache.get("__default__"); ok {
			return e, nil
		}
		e, err := r.store.GetDefault(ctx)
		if err != nil {
			return nil, err
		}
		r.cache.set("__default__", e)
		return e, nil
	}
	if e, ok := r.cache.get(id); ok {
		return e, nil
	}
	e, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.set(id, e)
	return e, nil
}

// Invalidate evicts a cached entity after a mutation, so the next
// LoadEntityConfig call reads the fresh row.
func (r *Resolver) Invalidate(id string) {
	r.cache.invalidate(id)
	r.cache.invalidate("__default__")
}

// ResolvedTools is the output of tool resolution: the final,
// deduplicated tool-name list plus the stripped, model-facing schema
// for each one the catalog actually knows about.
type ResolvedTools struct {
	EntityTools []string
	OpenAISchema []models.OpenAIToolSchema
}

// GetToolsForEntity normalizes an entity's tool list (lowercase,
// wildcard expansion, retired-name migration, dedup) and returns both
// the resolved tool names and their model-facing schema.
func (r *Resolver) GetToolsForEntity(entity *models.Entity) (ResolvedTools, error) {
	if entity == nil {
		return ResolvedTools{}, apperrors.New(apperrors.Validation, "entity.GetToolsForEntity", "entity is nil")
	}

	names := entity.Tools
	if entity.HasAllToolsWildcard() {
		names = r.catalog.AllToolNames()
	}

	normalized := make([]string, 0, len(names))
	for _, n := range names {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(n)))
	}
	migrated := migrateToolNames(normalized)

	schema := make([]models.OpenAIToolSchema, 0, len(migrated))
	resolved := make([]string, 0, len(migrated))
	for _, name := range migrated {
		if custom, ok := entity.CustomTools[name]; ok {
			resolved = append(resolved, name)
			schema = append(schema, custom.Strip())
			continue
		}
		s, ok := r.catalog.ToolSchema(name)
		if !ok {
			continue
		}
		resolved = append(resolved, name)
		schema = append(schema, s)
	}

	return ResolvedTools{EntityTools: resolved, OpenAISchema: schema}, nil
}
