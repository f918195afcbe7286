// Package pathway loads declarative pathway definitions from disk,
// compiles their templated strings, and indexes the subset that
// declare a tool definition into a callable tool catalog.
package pathway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/internal/debounce"
	"github.com/cortexd/runtime/pkg/models"
)

// sharedDirName is the directory `register` recurses into for base
// pathway definitions without registering its contents as directly
// invocable pathways.
const sharedDirName = "shared"

// Registry holds every pathway loaded from a directory tree, the base
// pathways they may inherit defaults from, and the tool index derived
// from pathways that declare a toolDefinition.
type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	pathways  map[string]*models.Pathway
	bases     map[string]*models.Pathway
	tools     map[string]*models.Pathway // lowercased function name -> owning pathway
	overrides map[string]*models.Pathway

	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
	rootDir     string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:   slog.Default().With("component", "pathway"),
		pathways: make(map[string]*models.Pathway),
		bases:    make(map[string]*models.Pathway),
		tools:    make(map[string]*models.Pathway),
	}
}

// SetOverrides installs user-supplied pathway overrides; Resolve merges
// base ← file ← override in that order.
func (r *Registry) SetOverrides(overrides map[string]*models.Pathway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = overrides
}

// Register walks dir recursively, loading every *.yaml/*.yml file as a
// pathway definition, except files under a shared/ subdirectory, which
// are loaded as base pathways instead. Returns the name->Pathway map
// it built.
func (r *Registry) Register(dir string) (map[string]*models.Pathway, error) {
	pathways := make(map[string]*models.Pathway)
	bases := make(map[string]*models.Pathway)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		p, loadErr := loadPathwayFile(path)
		if loadErr != nil {
			return apperrors.Wrap(apperrors.Configuration, "pathway.Register", fmt.Errorf("%s: %w", path, loadErr))
		}

		if pathContainsDir(path, dir, sharedDirName) {
			bases[p.Name] = p
			return nil
		}

		if existing, ok := pathways[p.Name]; ok {
			r.logger.Warn("duplicate pathway name, keeping first", "name", p.Name, "kept", existing.SourceFile, "skipped", path)
			return nil
		}
		pathways[p.Name] = p
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Configuration, "pathway.Register", err)
	}

	r.mu.Lock()
	r.pathways = pathways
	r.bases = bases
	r.rootDir = dir
	r.mu.Unlock()

	r.rebuildToolIndex()

	return pathways, nil
}

func loadPathwayFile(path string) (*models.Pathway, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p models.Pathway
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, fmt.Errorf("pathway has no name")
	}
	if p.ToolDefinition != nil {
		if err := validateToolDefinition(p.ToolDefinition); err != nil {
			p.ToolDefinition = nil
			return &p, nil
		}
	}
	p.SourceFile = path
	return &p, nil
}

func validateToolDefinition(t *models.ToolDefinition) error {
	if t.Type == "" {
		return fmt.Errorf("tool definition missing type")
	}
	if t.Function.Name == "" {
		return fmt.Errorf("tool definition missing function.name")
	}
	if len(t.Function.Parameters) == 0 {
		return fmt.Errorf("tool definition missing function.parameters")
	}
	if err := validateParameterSchema(t.Function.Parameters); err != nil {
		return fmt.Errorf("tool %q has invalid parameters schema: %w", t.Function.Name, err)
	}
	return nil
}

// validateParameterSchema compiles a tool's function.parameters as a
// JSON Schema document, catching malformed schemas (bad types, broken
// $refs) at load time instead of surfacing them as opaque model-API
// rejections on first invocation.
func validateParameterSchema(raw []byte) error {
	_, err := jsonschema.CompileString("tool.parameters.json", string(raw))
	return err
}

func pathContainsDir(path, root, name string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
		if part == name {
			return true
		}
	}
	return false
}

// Resolve returns the effective pathway: base defaults, overridden by
// the file definition, overridden again by any caller-supplied
// override, in that precedence order.
func (r *Registry) Resolve(name string) (*models.Pathway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pathways[name]
	if !ok {
		return nil, false
	}
	effective := *p

	if p.Base != "" {
		if base, ok := r.bases[p.Base]; ok {
			effective = mergePathway(*base, effective)
		}
	}
	if r.overrides != nil {
		if override, ok := r.overrides[name]; ok {
			effective = mergePathway(effective, *override)
		}
	}
	return &effective, true
}

// mergePathway layers override onto base: any zero-value field on
// override falls back to base's value.
func mergePathway(base, override models.Pathway) models.Pathway {
	out := base
	if override.Prompt != nil {
		out.Prompt = override.Prompt
	}
	if override.InputParameters != nil {
		out.InputParameters = override.InputParameters
	}
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.Timeout != 0 {
		out.Timeout = override.Timeout
	}
	if override.ToolDefinition != nil {
		out.ToolDefinition = override.ToolDefinition
	}
	if override.Summarize != "" {
		out.Summarize = override.Summarize
	}
	out.Name = override.Name
	out.SourceFile = override.SourceFile
	out.UseInputChunking = override.UseInputChunking || base.UseInputChunking
	out.EnableDuplicateRequests = override.EnableDuplicateRequests || base.EnableDuplicateRequests
	out.EmulateOpenAIChatModel = override.EmulateOpenAIChatModel || base.EmulateOpenAIChatModel
	out.EmulateOpenAICompletionModel = override.EmulateOpenAICompletionModel || base.EmulateOpenAICompletionModel
	return out
}

// registerTool indexes one pathway into the tool catalog keyed by its
// lowercased function name, first-registered wins on a collision.
func (r *Registry) registerTool(p *models.Pathway) {
	if !p.IsTool() {
		return
	}
	name := strings.ToLower(p.ToolDefinition.Function.Name)
	if existing, ok := r.tools[name]; ok {
		r.logger.Warn("duplicate tool name, keeping first", "name", name, "kept", existing.Name, "skipped", p.Name)
		return
	}
	r.tools[name] = p
}

func (r *Registry) rebuildToolIndex() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]*models.Pathway)
	names := make([]string, 0, len(r.pathways))
	for name := range r.pathways {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r.registerTool(r.pathways[name])
	}
}

// AllToolNames implements entity.ToolCatalog.
func (r *Registry) AllToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolSchema implements entity.ToolCatalog.
func (r *Registry) ToolSchema(name string) (models.OpenAIToolSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.tools[strings.ToLower(name)]
	if !ok {
		return models.OpenAIToolSchema{}, false
	}
	return p.ToolDefinition.Strip(), true
}

// ToolPathway returns the pathway that backs a registered tool name.
func (r *Registry) ToolPathway(name string) (*models.Pathway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.tools[strings.ToLower(name)]
	return p, ok
}

// Watch starts an fsnotify watcher over the registered root directory
// and reloads the registry on any create/write/remove/rename event,
// debounced so a burst of saves only triggers one reload.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration) error {
	r.mu.RLock()
	root := r.rootDir
	r.mu.RUnlock()
	if root == "" {
		return apperrors.New(apperrors.Configuration, "pathway.Watch", "Register must run before Watch")
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "pathway.Watch", err)
	}
	if err := addRecursive(watcher, root); err != nil {
		_ = watcher.Close()
		return apperrors.Wrap(apperrors.Internal, "pathway.Watch", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	r.watcher = watcher
	r.watchCancel = cancel

	r.watchWg.Add(1)
	go r.watchLoop(watchCtx, root, debounce)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, root string, debounceDelay time.Duration) {
	defer r.watchWg.Done()

	reloader := debounce.NewDebouncer[fsnotify.Event](
		debounce.WithDebounceDuration[fsnotify.Event](debounceDelay),
		debounce.WithBuildKey(func(*fsnotify.Event) string { return root }),
		debounce.WithOnFlush(func([]*fsnotify.Event) error {
			if _, err := r.Register(root); err != nil {
				return err
			}
			r.logger.Info("reloaded pathways", "dir", root)
			return nil
		}),
		debounce.WithOnError(func(err error, _ []*fsnotify.Event) {
			r.logger.Warn("pathway reload failed", "error", err)
		}),
	)
	defer reloader.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				reloader.Enqueue(&event)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("pathway watch error", "error", err)
		}
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// Close stops the file watcher, if running.
func (r *Registry) Close() error {
	if r.watchCancel != nil {
		r.watchCancel()
	}
	if r.watcher != nil {
		_ = r.watcher.Close()
	}
	r.watchWg.Wait()
	return nil
}
