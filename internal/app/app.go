// Package app wires all Colloquy subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithMessageStore, WithCacheBackend, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/colloquyhq/colloquy/internal/cache"
	"github.com/colloquyhq/colloquy/internal/config"
	"github.com/colloquyhq/colloquy/internal/conversation"
	"github.com/colloquyhq/colloquy/internal/health"
	"github.com/colloquyhq/colloquy/internal/hub"
	"github.com/colloquyhq/colloquy/internal/observe"
	"github.com/colloquyhq/colloquy/internal/persona"
	"github.com/colloquyhq/colloquy/internal/scheduler"
	"github.com/colloquyhq/colloquy/internal/selector"
	"github.com/colloquyhq/colloquy/internal/store"
	"github.com/colloquyhq/colloquy/internal/topic"
	"github.com/colloquyhq/colloquy/pkg/provider/chat"
	"github.com/colloquyhq/colloquy/pkg/provider/chat/demo"
)

// shutdownGrace bounds the HTTP server drain during Run teardown.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes and serves the Colloquy HTTP API.
type App struct {
	cfg *config.Config

	metrics   *observe.Metrics
	personas  *persona.Catalog
	sched     *scheduler.Scheduler
	sel       *selector.Selector
	respCache *cache.ResponseCache
	messages  store.Store
	hub       *hub.Hub
	orch      *conversation.Orchestrator
	health    *health.Handler
	server    *http.Server

	// Injectable backends, filled from config when not provided.
	stateStore   scheduler.StateStore
	cacheBackend cache.Backend
	publisher    hub.Publisher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMessageStore injects a message store instead of creating one from config.
func WithMessageStore(s store.Store) Option {
	return func(a *App) { a.messages = s }
}

// WithCacheBackend injects a cache backend instead of creating one from config.
func WithCacheBackend(b cache.Backend) Option {
	return func(a *App) { a.cacheBackend = b }
}

// WithStateStore injects a scheduler state store instead of creating one from config.
func WithStateStore(s scheduler.StateStore) Option {
	return func(a *App) { a.stateStore = s }
}

// WithPublisher injects a pub/sub publisher instead of creating one from config.
func WithPublisher(p hub.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// New creates an App by wiring all subsystems together. The providers map
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any backend.
func New(ctx context.Context, cfg *config.Config, providers map[string]chat.Provider, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initRedis(); err != nil {
		return nil, fmt.Errorf("app: init redis: %w", err)
	}

	if err := a.initPostgres(ctx); err != nil {
		return nil, fmt.Errorf("app: init postgres: %w", err)
	}

	a.initPersonas()

	a.sched = scheduler.New(scheduler.Config{
		Store:   a.stateStore,
		Weights: a.personas.Weights(),
		Delays:  a.personas.Delays(),
	})

	a.sel = selector.New(withFallback(providers, cfg.Providers.Fallback), cfg.Providers.Fallback)

	var cacheOpts []cache.Option
	if cfg.Conversation.CacheTTL > 0 {
		cacheOpts = append(cacheOpts, cache.WithTTL(cfg.Conversation.CacheTTL))
	}
	a.respCache = cache.New(a.cacheBackend, cacheOpts...)

	a.hub = hub.New(hub.Config{Publisher: a.publisher})

	a.orch = conversation.New(conversation.Config{
		Scheduler: a.sched,
		Selector:  a.sel,
		Cache:     a.respCache,
		Hub:       a.hub,
		Store:     a.messages,
		Personas:  a.personas,
		Topics:    topic.NewAnalyzer(nil),
		Metrics:   a.metrics,
		MaxTurns:  cfg.Conversation.MaxTurns,
	})

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// withFallback guarantees the fallback provider exists in the map. The demo
// backend is synthesised on demand so an empty config still converses.
func withFallback(providers map[string]chat.Provider, fallback string) map[string]chat.Provider {
	out := make(map[string]chat.Provider, len(providers)+1)
	for name, p := range providers {
		out[name] = p
	}
	if _, ok := out[fallback]; !ok && fallback == "demo" {
		out["demo"] = demo.New()
	}
	return out
}

// initRedis connects cache, turn-state, and pub/sub backends. Slots already
// filled by options are left alone; without a Redis address the remaining
// slots get in-process implementations.
func (a *App) initRedis() error {
	if a.cfg.Redis.Addr == "" {
		if a.stateStore == nil {
			a.stateStore = scheduler.NewMemoryStateStore()
		}
		if a.cacheBackend == nil {
			a.cacheBackend = cache.NewMemoryBackend()
		}
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, client.Close)

	if a.stateStore == nil {
		a.stateStore = scheduler.NewRedisStateStore(client)
	}
	if a.cacheBackend == nil {
		a.cacheBackend = cache.NewRedisBackend(client)
	}
	if a.publisher == nil {
		a.publisher = hub.NewRedisPublisher(client)
	}
	slog.Info("redis connected", "addr", a.cfg.Redis.Addr, "db", a.cfg.Redis.DB)
	return nil
}

// initPostgres sets up the PostgreSQL message store, or an in-memory store
// when no DSN is configured. Registers the readiness checkers as a side
// effect since the pool handle is only in scope here.
func (a *App) initPostgres(ctx context.Context) error {
	checkers := []health.Checker{health.Providers(lazySnapshotter{a})}

	if a.messages == nil {
		if dsn := a.cfg.Postgres.DSN; dsn != "" {
			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connect %q: %w", dsn, err)
			}
			pg := store.NewPostgresStore(pool)
			if err := pg.Migrate(ctx); err != nil {
				pool.Close()
				return err
			}
			a.messages = pg
			a.closers = append(a.closers, func() error {
				pool.Close()
				return nil
			})
			checkers = append(checkers, health.Postgres(pool))
			slog.Info("postgres connected")
		} else {
			a.messages = store.NewMemoryStore()
		}
	}

	a.health = health.New(checkers...)
	return nil
}

// initPersonas builds the catalog from the built-ins plus config overrides.
func (a *App) initPersonas() {
	extra := make([]persona.Persona, 0, len(a.cfg.Personas))
	for _, pc := range a.cfg.Personas {
		extra = append(extra, pc.Persona())
	}
	a.personas = persona.NewCatalog(extra...)
}

// lazySnapshotter defers selector access until the checker runs; the health
// handler is built before the selector exists.
type lazySnapshotter struct {
	a *App
}

func (l lazySnapshotter) HealthSnapshot(ctx context.Context) map[string]bool {
	return l.a.sel.HealthSnapshot(ctx)
}

// ReloadProviders atomically swaps the selector's provider registry. Called
// by the config watcher when the provider block changes; in-flight
// conversations pick up the new registry on their next turn.
func (a *App) ReloadProviders(providers map[string]chat.Provider, fallback string) {
	a.sel.Reload(withFallback(providers, fallback), fallback)
	slog.Info("provider registry reloaded", "providers", a.sel.Names(), "fallback", fallback)
}

// ReloadPersonas rebuilds the persona catalog from new config blocks and
// retunes the scheduler's weight and delay tables to match. Running
// conversations keep their participant lists; new turns read prompts,
// sampling, and pacing from the updated catalog.
func (a *App) ReloadPersonas(personaCfgs []config.PersonaConfig) {
	extra := make([]persona.Persona, 0, len(personaCfgs))
	for _, pc := range personaCfgs {
		extra = append(extra, pc.Persona())
	}
	a.personas.Replace(extra...)
	a.sched.Retune(a.personas.Weights(), a.personas.Delays())
	slog.Info("persona catalog reloaded", "personas", a.personas.Names())
}

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails. On cancellation the server is drained before returning ctx's error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tlsCfg := a.cfg.Server.TLS; tlsCfg != nil {
			slog.Info("serving https", "addr", a.server.Addr)
			err = a.server.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			slog.Info("serving http", "addr", a.server.Addr)
			err = a.server.ListenAndServe()
		}
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			slog.Warn("http server drain error", "err", err)
		}
		return gctx.Err()
	})

	return g.Wait()
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop the heartbeat sweep first so no status frames race the closes.
		a.hub.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
