// Command colloquy is the main entry point for the Colloquy conversation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/colloquyhq/colloquy/internal/app"
	"github.com/colloquyhq/colloquy/internal/config"
	"github.com/colloquyhq/colloquy/internal/observe"
	"github.com/colloquyhq/colloquy/pkg/provider/chat"
	"github.com/colloquyhq/colloquy/pkg/provider/chat/anyllm"
	"github.com/colloquyhq/colloquy/pkg/provider/chat/demo"
	"github.com/colloquyhq/colloquy/pkg/provider/chat/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "colloquy: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "colloquy: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("colloquy starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.TelemetryConfig{ServiceName: "colloquy"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := config.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.ProvidersChanged {
			rebuilt, err := config.BuildProviders(new, reg)
			if err != nil {
				slog.Error("provider reload failed, keeping current registry", "err", err)
			} else {
				application.ReloadProviders(rebuilt, new.Providers.Fallback)
			}
		}
		if d.PersonasChanged {
			application.ReloadPersonas(new.Personas)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires all built-in chat backend factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinBackends(reg *config.Registry) {
	// anthropic, gemini, deepseek, mistral and groq all share the same
	// pattern: optional APIKey + optional BaseURL through any-llm-go.
	for _, backendName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq",
	} {
		reg.Register(backendName, func(entry config.ProviderEntry) (chat.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backendName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.Register("ollama", func(entry config.ProviderEntry) (chat.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// openai goes through the native SDK for full parameter support.
	reg.Register("openai", func(entry config.ProviderEntry) (chat.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// openai-compatible targets third-party endpoints speaking the OpenAI
	// wire format (LM Studio, OpenRouter, vLLM).
	reg.Register("openai-compatible", func(entry config.ProviderEntry) (chat.Provider, error) {
		if entry.BaseURL == "" {
			return nil, fmt.Errorf("openai-compatible backend requires base_url")
		}
		return openai.New(entry.APIKey, entry.Model, openai.WithBaseURL(entry.BaseURL))
	})

	reg.Register("demo", func(config.ProviderEntry) (chat.Provider, error) {
		return demo.New(), nil
	})

	for _, name := range config.ValidBackendNames {
		slog.Debug("registered backend", "name", name)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Colloquy — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	for _, entry := range cfg.Providers.Backends {
		printEntry("Backend", entry.Name+" / "+entry.Model)
	}
	if len(cfg.Providers.Backends) == 0 {
		printEntry("Backend", "(demo only)")
	}
	printEntry("Fallback", cfg.Providers.Fallback)
	if cfg.Redis.Addr != "" {
		printEntry("Redis", cfg.Redis.Addr)
	} else {
		printEntry("Redis", "(in-process)")
	}
	if cfg.Postgres.DSN != "" {
		printEntry("Postgres", "configured")
	} else {
		printEntry("Postgres", "(in-memory)")
	}
	fmt.Printf("║  Extra personas: %-20d ║\n", len(cfg.Personas))
	if cfg.Server.ListenAddr != "" {
		printEntry("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(kind, value string) {
	if len(value) > 20 {
		value = value[:17] + "…"
	}
	fmt.Printf("║  %-14s: %-20s ║\n", kind, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
