package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/colloquyhq/colloquy/pkg/provider/chat"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory has
// been registered under the requested backend name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func(ProviderEntry) (chat.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func(ProviderEntry) (chat.Provider, error)),
	}
}

// Register registers a chat backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory func(ProviderEntry) (chat.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a chat provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) Create(entry ProviderEntry) (chat.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// BuildProviders instantiates every backend declared in cfg using the registry
// and returns them keyed by name, ready for the provider selector. Backends
// with no registered factory are skipped with a debug log so a config can name
// providers a given build does not ship.
func BuildProviders(cfg *Config, reg *Registry) (map[string]chat.Provider, error) {
	providers := make(map[string]chat.Provider, len(cfg.Providers.Backends))
	for _, entry := range cfg.Providers.Backends {
		p, err := reg.Create(entry)
		if errors.Is(err, ErrProviderNotRegistered) {
			slog.Debug("backend not registered in this build, skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("config: create backend %q: %w", entry.Name, err)
		}
		providers[entry.Name] = p
		slog.Info("chat backend created", "name", entry.Name, "model", entry.Model)
	}
	return providers, nil
}
