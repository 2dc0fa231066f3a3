// Package selector picks a healthy chat provider for a persona.
//
// Selection walks the persona's preference order with fallback: a manual
// override is honored when healthy, preferred providers are probed in order,
// then any remaining provider, and finally the designated always-available
// fallback (normally the demo provider). Health is probed live on every
// selection — never cached — trading a little latency for never handing out a
// provider that just went down.
//
// The registry is replaced wholesale on Reload; in-flight selections observe
// either the old or the new provider set, never a partial mix.
package selector

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/colloquyhq/colloquy/internal/persona"
	"github.com/colloquyhq/colloquy/pkg/provider/chat"
)

// Handle is a selected provider bound to an optional model pin.
type Handle struct {
	// Name is the registry name of the provider.
	Name string

	// Provider is the live client.
	Provider chat.Provider

	// Model pins a specific model for this generation, or "" for the
	// provider default. Set only by manual persona overrides.
	Model string
}

// registry is the immutable provider set swapped atomically on reload.
type registry struct {
	providers map[string]chat.Provider
	fallback  string

	// ordered caches the sorted names so the any-remaining pass is
	// deterministic across calls.
	ordered []string
}

// Selector chooses providers for personas. Safe for concurrent use.
type Selector struct {
	reg atomic.Pointer[registry]
}

// New creates a Selector over the given providers. fallbackName designates the
// always-available fallback provider; it is skipped during preference passes
// and consulted last.
func New(providers map[string]chat.Provider, fallbackName string) *Selector {
	s := &Selector{}
	s.reg.Store(newRegistry(providers, fallbackName))
	return s
}

func newRegistry(providers map[string]chat.Provider, fallbackName string) *registry {
	cp := make(map[string]chat.Provider, len(providers))
	ordered := make([]string, 0, len(providers))
	for name, p := range providers {
		cp[name] = p
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)
	return &registry{providers: cp, fallback: fallbackName, ordered: ordered}
}

// Reload replaces the provider set wholesale, e.g. after a configuration
// change rotates credentials. Atomic from the caller's perspective.
func (s *Selector) Reload(providers map[string]chat.Provider, fallbackName string) {
	s.reg.Store(newRegistry(providers, fallbackName))
	slog.Info("provider registry reloaded", "providers", len(providers), "fallback", fallbackName)
}

// Names returns the registered provider names in sorted order.
func (s *Selector) Names() []string {
	reg := s.reg.Load()
	return append([]string(nil), reg.ordered...)
}

// HealthSnapshot probes every registered provider once and reports liveness
// by name. Used by the readiness endpoint, not by selection.
func (s *Selector) HealthSnapshot(ctx context.Context) map[string]bool {
	reg := s.reg.Load()
	out := make(map[string]bool, len(reg.providers))
	for name, p := range reg.providers {
		out[name] = p.HealthCheck(ctx)
	}
	return out
}

// SelectForPersona returns a healthy provider for p, or ok=false when no
// provider (fallback included) passes its health check — the signal that no
// generation is possible this turn.
func (s *Selector) SelectForPersona(ctx context.Context, p persona.Persona) (Handle, bool) {
	reg := s.reg.Load()

	tried := make(map[string]bool, len(reg.providers))

	// Manual override: honored when present and healthy, otherwise fall
	// through to auto-selection rather than failing the turn outright.
	if p.Provider != "" && p.Provider != persona.ProviderAuto {
		tried[p.Provider] = true
		if prov, ok := reg.providers[p.Provider]; ok {
			if prov.HealthCheck(ctx) {
				return Handle{Name: p.Provider, Provider: prov, Model: p.Model}, true
			}
			slog.Warn("manual provider override unhealthy, falling back to auto-selection",
				"persona", p.Name, "provider", p.Provider)
		} else {
			slog.Warn("manual provider override not registered, falling back to auto-selection",
				"persona", p.Name, "provider", p.Provider)
		}
	}

	// Preference pass: persona-tuned order, skipping the fallback provider.
	for _, name := range p.Preference {
		if name == reg.fallback || tried[name] {
			continue
		}
		tried[name] = true
		if prov, ok := reg.providers[name]; ok && prov.HealthCheck(ctx) {
			return Handle{Name: name, Provider: prov}, true
		}
	}

	// Any-remaining pass over non-fallback providers.
	for _, name := range reg.ordered {
		if name == reg.fallback || tried[name] {
			continue
		}
		tried[name] = true
		if prov := reg.providers[name]; prov.HealthCheck(ctx) {
			return Handle{Name: name, Provider: prov}, true
		}
	}

	// Last resort: the designated fallback.
	if prov, ok := reg.providers[reg.fallback]; ok && prov.HealthCheck(ctx) {
		return Handle{Name: reg.fallback, Provider: prov}, true
	}

	slog.Warn("no healthy provider available", "persona", p.Name)
	return Handle{}, false
}
