// Package persona provides the catalog of conversational personas.
//
// A persona is a named behavioral profile: a system prompt, sampling
// parameters, a provider preference, a speaker weight, a pacing range, and a
// memory-shaping style. The catalog merges built-in personas with any defined
// in configuration; configuration entries override built-ins of the same name.
package persona

import (
	"sync"
	"time"
)

// ProviderAuto is the provider override value meaning "let the selector decide".
const ProviderAuto = "auto"

// maxTokensCap bounds the derived max_tokens sampling parameter.
const maxTokensCap = 1500

// DelayRange is the interval a persona's natural pre-response delay is drawn from.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Persona describes one conversational participant.
type Persona struct {
	// Name is the persona's identifier used in conversation participant lists.
	Name string

	// DisplayName is the human-facing label broadcast with messages.
	DisplayName string

	// SystemPrompt is prepended to every generation for this persona.
	SystemPrompt string

	// Temperature is the sampling temperature for this persona's generations.
	Temperature float64

	// AvgResponseLength is the target response length in tokens; max_tokens is
	// derived as min(2*AvgResponseLength, 1500).
	AvgResponseLength int

	// AvatarColor is the hex color clients use to render this persona.
	AvatarColor string

	// Provider is a manual provider override, or [ProviderAuto] to let the
	// selector walk the preference list.
	Provider string

	// Model optionally pins a specific model when Provider is a manual override.
	Model string

	// Preference is the ordered provider preference list used during
	// auto-selection. Empty means the selector's default order.
	Preference []string

	// Weight biases next-speaker selection. Zero means the default weight 1.0.
	Weight float64

	// Delay is the natural pre-response delay range. A zero range means the
	// scheduler default.
	Delay DelayRange

	// Memory selects how this persona's conversation context is shaped.
	Memory MemoryStyle
}

// Params returns the sampling parameters for this persona's generations.
func (p Persona) Params() SamplingParams {
	maxTokens := p.AvgResponseLength * 2
	if maxTokens <= 0 {
		maxTokens = 200
	}
	if maxTokens > maxTokensCap {
		maxTokens = maxTokensCap
	}
	return SamplingParams{
		Temperature: p.Temperature,
		MaxTokens:   maxTokens,
	}
}

// SamplingParams is the output-affecting parameter subset for a generation.
type SamplingParams struct {
	Temperature float64
	MaxTokens   int
}

// builtins are the three stock personas shipped with the server. Their speaker
// weights and delay ranges match the tuning the conversation engine was
// originally balanced around.
var builtins = []Persona{
	{
		Name:              "philosopher",
		DisplayName:       "The Philosopher",
		SystemPrompt:      "You are a thoughtful philosopher who contemplates deep questions about existence, ethics, and human nature. Respond with wisdom and careful consideration, often referencing famous thinkers. Use complex vocabulary and longer, more contemplative sentences.",
		Temperature:       0.7,
		AvgResponseLength: 150,
		AvatarColor:       "#6366f1",
		Provider:          ProviderAuto,
		Preference:        []string{"anthropic", "openai", "deepseek"},
		Weight:            0.3,
		Delay:             DelayRange{Min: 3 * time.Second, Max: 8 * time.Second},
		Memory:            MemoryKeywordFiltered,
	},
	{
		Name:              "comedian",
		DisplayName:       "The Comedian",
		SystemPrompt:      "You are a witty comedian who finds humor in everyday situations. Keep responses light, entertaining, and cleverly humorous. Use puns, wordplay, and emojis. Favor short, punchy sentences that land with comedic timing.",
		Temperature:       0.9,
		AvgResponseLength: 80,
		AvatarColor:       "#f59e0b",
		Provider:          ProviderAuto,
		Preference:        []string{"openai", "groq", "ollama"},
		Weight:            0.4,
		Delay:             DelayRange{Min: 1 * time.Second, Max: 4 * time.Second},
		Memory:            MemoryRecent,
	},
	{
		Name:              "scientist",
		DisplayName:       "The Scientist",
		SystemPrompt:      "You are an analytical scientist who approaches problems methodically with evidence and logic. Provide clear, factual responses with scientific reasoning. Cite studies when relevant and maintain objectivity.",
		Temperature:       0.3,
		AvgResponseLength: 120,
		AvatarColor:       "#10b981",
		Provider:          ProviderAuto,
		Preference:        []string{"openai", "gemini", "deepseek"},
		Weight:            0.3,
		Delay:             DelayRange{Min: 2 * time.Second, Max: 6 * time.Second},
		Memory:            MemoryFactual,
	},
}

// Catalog is a lookup of personas by name. It is safe for concurrent use;
// the persona set only changes wholesale via [Catalog.Replace].
type Catalog struct {
	mu       sync.RWMutex
	personas map[string]Persona
}

// NewCatalog returns a catalog containing the built-in personas plus extra.
// Entries in extra override built-ins with the same name.
func NewCatalog(extra ...Persona) *Catalog {
	personas := make(map[string]Persona, len(builtins)+len(extra))
	for _, p := range builtins {
		personas[p.Name] = p
	}
	for _, p := range extra {
		if p.Provider == "" {
			p.Provider = ProviderAuto
		}
		personas[p.Name] = p
	}
	return &Catalog{personas: personas}
}

// Replace swaps the catalog contents for the built-ins plus extra, with the
// same override semantics as [NewCatalog]. Used for config hot-reload.
func (c *Catalog) Replace(extra ...Persona) {
	personas := make(map[string]Persona, len(builtins)+len(extra))
	for _, p := range builtins {
		personas[p.Name] = p
	}
	for _, p := range extra {
		if p.Provider == "" {
			p.Provider = ProviderAuto
		}
		personas[p.Name] = p
	}
	c.mu.Lock()
	c.personas = personas
	c.mu.Unlock()
}

// Get returns the persona registered under name. Unknown names fall back to
// the philosopher, mirroring the catalog's permissive lookup contract: a
// conversation never fails because a participant name is unrecognized.
func (c *Catalog) Get(name string) Persona {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.personas[name]; ok {
		return p
	}
	return c.personas["philosopher"]
}

// Has reports whether name is a registered persona.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.personas[name]
	return ok
}

// Names returns all registered persona names in unspecified order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.personas))
	for n := range c.personas {
		names = append(names, n)
	}
	return names
}

// SystemPrompt returns the system prompt for name.
func (c *Catalog) SystemPrompt(name string) string {
	return c.Get(name).SystemPrompt
}

// Weights returns the speaker weight table for next-speaker selection.
// Personas with a zero weight are omitted so the scheduler applies its
// documented default of 1.0.
func (c *Catalog) Weights() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	weights := make(map[string]float64, len(c.personas))
	for n, p := range c.personas {
		if p.Weight > 0 {
			weights[n] = p.Weight
		}
	}
	return weights
}

// Delays returns the natural delay table for the scheduler. Personas with a
// zero range are omitted so the scheduler default applies.
func (c *Catalog) Delays() map[string]DelayRange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	delays := make(map[string]DelayRange, len(c.personas))
	for n, p := range c.personas {
		if p.Delay.Min > 0 && p.Delay.Max >= p.Delay.Min {
			delays[n] = p.Delay
		}
	}
	return delays
}
