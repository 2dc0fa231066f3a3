package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is the key-value store behind the response cache. Implementations
// must be safe for concurrent use and tolerate concurrent writes to the same
// key (last-write-wins).
//
// Get returns ("", false, nil) on a clean miss.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// DeletePrefix removes every key starting with prefix. Best-effort:
	// entries written concurrently with the sweep may survive.
	DeletePrefix(ctx context.Context, prefix string) error
}

// MemoryBackend is an in-process Backend for tests and cache-less
// deployments. TTLs are honored lazily on read.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry)}
}

// Get implements [Backend].
func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set implements [Backend].
func (m *MemoryBackend) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// DeletePrefix implements [Backend].
func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

// RedisBackend stores cache entries in Redis with per-key TTLs.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend creates a Backend on the given Redis client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get implements [Backend].
func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: redis get: %w", err)
	}
	return val, true, nil
}

// Set implements [Backend].
func (r *RedisBackend) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// DeletePrefix implements [Backend] using a SCAN walk.
func (r *RedisBackend) DeletePrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("cache: redis del: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: redis scan: %w", err)
	}
	return nil
}

// Compile-time interface assertions.
var (
	_ Backend = (*MemoryBackend)(nil)
	_ Backend = (*RedisBackend)(nil)
)
