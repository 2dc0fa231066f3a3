package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateTTL is how long persisted turn state survives without updates.
// Abandoned conversations expire from the backing store after this long.
const StateTTL = time.Hour

// TurnState is the per-conversation scheduling state. It is owned exclusively
// by the [Scheduler]; other packages must treat it as read-only.
type TurnState struct {
	// Participants is the ordered set of persona IDs in the conversation.
	Participants []string `json:"participants"`

	// TurnCount is the number of completed turns. Strictly increasing while
	// the conversation is active.
	TurnCount int `json:"current_turn"`

	// Active is false once the conversation has been stopped.
	Active bool `json:"is_active"`

	// LastSpeaker is the persona that spoke most recently, or "" before the
	// first turn.
	LastSpeaker string `json:"last_speaker"`
}

// clone returns a deep copy so callers never alias scheduler-owned state.
func (s *TurnState) clone() *TurnState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Participants = append([]string(nil), s.Participants...)
	return &cp
}

// StateStore persists turn state across process restarts.
//
// Get returns (nil, nil) when no state exists for the conversation.
// Implementations must be safe for concurrent use.
type StateStore interface {
	Get(ctx context.Context, conversationID string) (*TurnState, error)
	Set(ctx context.Context, conversationID string, state *TurnState, ttl time.Duration) error
}

// MemoryStateStore is an in-process StateStore for tests and single-node
// deployments without Redis. TTLs are honored lazily on read.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryStateEntry
}

type memoryStateEntry struct {
	state     *TurnState
	expiresAt time.Time
}

// NewMemoryStateStore returns an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[string]memoryStateEntry)}
}

// Get implements [StateStore].
func (m *MemoryStateStore) Get(_ context.Context, conversationID string) (*TurnState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[conversationID]
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, conversationID)
		return nil, nil
	}
	return e.state.clone(), nil
}

// Set implements [StateStore].
func (m *MemoryStateStore) Set(_ context.Context, conversationID string, state *TurnState, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[conversationID] = memoryStateEntry{
		state:     state.clone(),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// RedisStateStore persists turn state as JSON under
// "conversation:<id>:state" keys with the store-supplied TTL.
type RedisStateStore struct {
	client redis.UniversalClient
}

// NewRedisStateStore creates a StateStore backed by the given Redis client.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Get implements [StateStore].
func (r *RedisStateStore) Get(ctx context.Context, conversationID string) (*TurnState, error) {
	raw, err := r.client.Get(ctx, stateKey(conversationID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: redis get state: %w", err)
	}

	var state TurnState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("scheduler: decode state: %w", err)
	}
	return &state, nil
}

// Set implements [StateStore].
func (r *RedisStateStore) Set(ctx context.Context, conversationID string, state *TurnState, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("scheduler: encode state: %w", err)
	}
	if err := r.client.Set(ctx, stateKey(conversationID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("scheduler: redis set state: %w", err)
	}
	return nil
}

func stateKey(conversationID string) string {
	return "conversation:" + conversationID + ":state"
}

// Compile-time interface assertions.
var (
	_ StateStore = (*MemoryStateStore)(nil)
	_ StateStore = (*RedisStateStore)(nil)
)
