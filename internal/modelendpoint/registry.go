package modelendpoint

import (
	"fmt"
	"sync"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/internal/config"
)

// Registry resolves a model endpoint name ("anthropic", "openai",
// an entity's named endpoint) to the Adapter configured for it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	defaultName string
}

// NewRegistry builds an adapter for every configured model endpoint.
// An endpoint whose provider is unrecognized is a Configuration error,
// raised at startup rather than on first use.
func NewRegistry(cfgs map[string]config.ModelEndpointConfig) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(cfgs))}
	for name, c := range cfgs {
		adapter, err := buildAdapter(c)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Configuration, "modelendpoint.NewRegistry", fmt.Errorf("%s: %w", name, err))
		}
		r.adapters[name] = adapter
		if r.defaultName == "" {
			r.defaultName = name
		}
	}
	return r, nil
}

func buildAdapter(c config.ModelEndpointConfig) (Adapter, error) {
	switch c.Provider {
	case "anthropic":
		return NewAnthropicAdapter(AnthropicConfig{
			APIKey:       c.APIKey,
			BaseURL:      c.BaseURL,
			DefaultModel: c.DefaultModel,
		})
	case "openai":
		return NewOpenAIAdapter(OpenAIConfig{
			APIKey:       c.APIKey,
			BaseURL:      c.BaseURL,
			DefaultModel: c.DefaultModel,
		})
	case "bedrock":
		return NewBedrockAdapter(BedrockConfig{
			Region:          c.Region,
			DefaultModel:    c.DefaultModel,
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
			SessionToken:    c.SessionToken,
		})
	default:
		return nil, fmt.Errorf("unknown model endpoint provider %q", c.Provider)
	}
}

// Get returns the adapter registered under name. An empty name
// resolves to the first endpoint configured, matching the teacher's
// "first configured provider is the default" convention.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultName
	}
	a, ok := r.adapters[name]
	if !ok {
		return nil, apperrors.New(apperrors.NotFound, "modelendpoint.Get", fmt.Sprintf("no model endpoint named %q", name))
	}
	return a, nil
}
