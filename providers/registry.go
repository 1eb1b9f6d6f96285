// Package providers provides a unified registry for all agentcore provider
// implementations. It allows automatic provider creation from agent bindings.
package providers

import (
	"sync"

	"github.com/babblebuddy/agentcore/pkg/errors"
	"github.com/babblebuddy/agentcore/pkg/provider"
	"github.com/babblebuddy/agentcore/providers/anthropic"
	"github.com/babblebuddy/agentcore/providers/gemini"
	"github.com/babblebuddy/agentcore/providers/ollama"
	"github.com/babblebuddy/agentcore/providers/openai"
)

var (
	registry     = make(map[string]provider.Factory)
	registryOnce sync.Once
	registryMu   sync.RWMutex
)

// Register registers a provider factory with the given type name.
func Register(providerType string, factory provider.Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[providerType] = factory
}

// Get returns the factory for the given provider type.
func Get(providerType string) (provider.Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[providerType]
	return f, ok
}

// Create creates a provider instance for the given type from configuration.
func Create(providerType string, cfg provider.Config) (provider.Provider, error) {
	registryMu.RLock()
	factory, ok := registry[providerType]
	registryMu.RUnlock()

	if !ok {
		return nil, errors.NewInvalidRequestError(providerType, cfg.Model,
			"unknown provider type: "+providerType)
	}

	return factory(cfg)
}

// List returns all registered provider type names.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// RegisterBuiltins registers all built-in provider factories.
// This is called automatically on first use.
func RegisterBuiltins() {
	registryOnce.Do(func() {
		Register("ollama", ollama.NewFromConfig)
		Register("anthropic", anthropic.NewFromConfig)
		Register("openai", openai.NewFromConfig)
		Register("gemini", gemini.NewFromConfig)
	})
}

func init() {
	RegisterBuiltins()
}
