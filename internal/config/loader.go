package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/colloquyhq/colloquy/internal/persona"
)

// ValidBackendNames lists the chat backend names the built-in registry knows.
// Used by [Validate] to warn about unrecognised backend names.
var ValidBackendNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq",
	"openai-compatible", "demo",
}

// validMemoryStyles lists the recognised persona memory shaping styles.
var validMemoryStyles = []string{
	string(persona.MemoryDefault),
	string(persona.MemoryKeywordFiltered),
	string(persona.MemoryRecent),
	string(persona.MemoryFactual),
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in omitted fields that have sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Providers.Fallback == "" {
		cfg.Providers.Fallback = "demo"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider backends
	backendsSeen := make(map[string]int, len(cfg.Providers.Backends))
	for i, entry := range cfg.Providers.Backends {
		prefix := fmt.Sprintf("providers.backends[%d]", i)
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := backendsSeen[entry.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.backends[%d]", prefix, entry.Name, prev))
		}
		backendsSeen[entry.Name] = i
		if !slices.Contains(ValidBackendNames, entry.Name) {
			slog.Warn("unknown backend name, may be a typo or third-party backend",
				"name", entry.Name,
				"known", ValidBackendNames,
			)
		}
		if entry.Name != "demo" && entry.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required for backend %q", prefix, entry.Name))
		}
	}

	// Fallback must resolve to a declared backend; "demo" is always available.
	if cfg.Providers.Fallback != "demo" {
		if _, ok := backendsSeen[cfg.Providers.Fallback]; !ok {
			errs = append(errs, fmt.Errorf("providers.fallback %q is not declared in providers.backends", cfg.Providers.Fallback))
		}
	}

	// Provider availability warnings
	if len(cfg.Providers.Backends) == 0 {
		slog.Warn("no chat backends configured; personas will only speak through the demo provider")
	}

	// Storage availability
	if cfg.Postgres.DSN == "" {
		slog.Warn("postgres.dsn is empty; conversation history will be lost on restart")
	}
	if cfg.Redis.Addr == "" {
		slog.Warn("redis.addr is empty; cache, turn state, and pub/sub run in-process only")
	}

	// Persona duplicate name detection
	personaNamesSeen := make(map[string]int, len(cfg.Personas))

	// Personas
	for i, p := range cfg.Personas {
		prefix := fmt.Sprintf("personas[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := personaNamesSeen[p.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of personas[%d]", prefix, p.Name, prev))
			}
			personaNamesSeen[p.Name] = i
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0.0, 2.0]", prefix, p.Temperature))
		}
		if p.Weight < 0 {
			errs = append(errs, fmt.Errorf("%s.weight %.2f must not be negative", prefix, p.Weight))
		}
		if p.DelayMin < 0 || p.DelayMax < 0 || p.DelayMax < p.DelayMin {
			errs = append(errs, fmt.Errorf("%s: delay_min %s and delay_max %s must form a non-negative range", prefix, p.DelayMin, p.DelayMax))
		}
		if p.Memory != "" && !slices.Contains(validMemoryStyles, p.Memory) {
			errs = append(errs, fmt.Errorf("%s.memory %q is invalid; valid values: default, keyword_filtered, recent, factual", prefix, p.Memory))
		}

		// Provider pin and preference cross-validation
		if p.Provider != "" && p.Provider != persona.ProviderAuto {
			if _, ok := backendsSeen[p.Provider]; !ok && p.Provider != "demo" {
				slog.Warn("persona pins a provider that is not declared; the selector will fall back",
					"persona", p.Name,
					"provider", p.Provider,
				)
			}
		}
		for _, pref := range p.Preference {
			if _, ok := backendsSeen[pref]; !ok && pref != "demo" {
				slog.Warn("persona preference names an undeclared provider; it will be skipped",
					"persona", p.Name,
					"provider", pref,
				)
			}
		}
	}

	// Conversation
	if cfg.Conversation.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_turns %d must not be negative", cfg.Conversation.MaxTurns))
	}
	if cfg.Conversation.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("conversation.cache_ttl %s must not be negative", cfg.Conversation.CacheTTL))
	}

	return errors.Join(errs...)
}
