// Package cache provides a content-addressed cache for provider responses.
//
// Caching is strictly a performance optimization: every backend failure, on
// lookup or store, degrades to cache-miss behavior so that a response is
// always generated even with the backend completely unavailable. Entries are
// immutable once written and expire via TTL; superseded keys are overwritten,
// never updated in place.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/colloquyhq/colloquy/pkg/provider/chat"
)

// DefaultTTL is the lifetime of a cached response.
const DefaultTTL = time.Hour

// keyPrefix namespaces all cache keys in the shared backend.
const keyPrefix = "cached_response:"

// ResponseCache fronts a [Backend] with deterministic content-addressed keys.
// Safe for concurrent use by many turn loops.
type ResponseCache struct {
	backend Backend
	ttl     time.Duration
}

// Option configures a [ResponseCache].
type Option func(*ResponseCache)

// WithTTL overrides the default 1 hour entry lifetime.
func WithTTL(d time.Duration) Option {
	return func(c *ResponseCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// New creates a ResponseCache over backend.
func New(backend Backend, opts ...Option) *ResponseCache {
	c := &ResponseCache{backend: backend, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// keyComponents is the canonical structure hashed into a cache key. Field
// order is fixed, so the JSON encoding is deterministic.
type keyComponents struct {
	Provider string         `json:"provider"`
	Messages []keyMessage   `json:"messages"`
	Params   keyParamSubset `json:"params"`
}

type keyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// keyParamSubset pins the output-affecting parameter subset. Stream is always
// false: only non-streaming results are cached, and the flag is kept in the
// key so the keyspace stays compatible if streaming results ever join it.
type keyParamSubset struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Stream      bool    `json:"stream"`
}

// Key derives the deterministic cache key for a generation. The transcript
// contributes order-preserved {role, trimmed content} pairs; the hash is
// truncated to 16 hex characters. Truncation admits a small collision
// probability that is accepted by design — colliding keys are served as
// authoritative hits.
func Key(providerName string, transcript []chat.Message, params chat.Params) string {
	msgs := make([]keyMessage, 0, len(transcript))
	for _, m := range transcript {
		msgs = append(msgs, keyMessage{Role: m.Role, Content: strings.TrimSpace(m.Content)})
	}

	raw, _ := json.Marshal(keyComponents{
		Provider: providerName,
		Messages: msgs,
		Params: keyParamSubset{
			Temperature: params.Temperature,
			MaxTokens:   params.MaxTokens,
			Stream:      false,
		},
	})

	sum := sha256.Sum256(raw)
	return keyPrefix + providerName + ":" + hex.EncodeToString(sum[:])[:16]
}

// Lookup returns the cached response for the generation, if present. Backend
// errors are logged and reported as misses.
func (c *ResponseCache) Lookup(ctx context.Context, providerName string, transcript []chat.Message, params chat.Params) (string, bool) {
	val, ok, err := c.backend.Get(ctx, Key(providerName, transcript, params))
	if err != nil {
		slog.Warn("response cache lookup failed, treating as miss", "provider", providerName, "err", err)
		return "", false
	}
	return val, ok
}

// Store writes a generated response with the configured TTL. Last-write-wins
// on key collision. Backend errors are logged and swallowed.
func (c *ResponseCache) Store(ctx context.Context, providerName string, transcript []chat.Message, params chat.Params, response string) {
	if err := c.backend.Set(ctx, Key(providerName, transcript, params), response, c.ttl); err != nil {
		slog.Warn("response cache store failed", "provider", providerName, "err", err)
	}
}

// InvalidatePersona requests invalidation of cached responses involving the
// persona. Keys are not indexed per persona, so this is satisfied eventually
// by TTL expiry rather than immediately; the call exists so administrative
// surfaces have a stable hook.
func (c *ResponseCache) InvalidatePersona(_ context.Context, personaName string) {
	slog.Info("cache invalidation requested, entries will expire via TTL", "persona", personaName)
}

// Clear removes all cached responses. Best-effort: entries written during the
// sweep may survive it.
func (c *ResponseCache) Clear(ctx context.Context) error {
	return c.backend.DeletePrefix(ctx, keyPrefix)
}
