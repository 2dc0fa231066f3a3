// Package scheduler decides which persona speaks next in a conversation.
//
// Each conversation carries an independent turn state machine with three
// states: absent, active, and stopped. Start moves absent → active,
// RecordSpeaker self-loops on active, and Stop moves active → stopped.
// Stopped is terminal; a fresh Start overwrites prior state.
//
// Next-speaker selection is deliberately non-deterministic: a weighted random
// draw over the eligible participants keeps the conversation varied. Tests
// must treat the output as a probability distribution, not a fixed order.
//
// All exported methods are safe for concurrent use.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/colloquyhq/colloquy/internal/persona"
)

// ErrInvalidParticipants is returned by Start when the participant list is empty.
var ErrInvalidParticipants = errors.New("scheduler: participant list must not be empty")

// Default pacing range applied to personas without a configured delay.
var defaultDelay = persona.DelayRange{Min: 2 * time.Second, Max: 5 * time.Second}

// defaultWeight is the speaker weight applied to personas absent from the
// weight table.
const defaultWeight = 1.0

// Config tunes a [Scheduler].
type Config struct {
	// Store persists turn state. Required.
	Store StateStore

	// Weights biases next-speaker selection per persona. Personas not listed
	// get weight 1.0.
	Weights map[string]float64

	// Delays is the natural pre-response delay range per persona. Personas not
	// listed draw from 2–5s.
	Delays map[string]persona.DelayRange

	// Rand makes selection deterministic in tests. Nil uses the shared global
	// source.
	Rand rand.Source
}

// Scheduler owns per-conversation turn state. Reads consult a local cache
// first and fall back to the store, so state survives process restarts.
//
// Local entries carry the same TTL as their store write and are evicted on
// Stop, so the cache never outlives the store's view of a conversation and a
// long-running server does not accumulate entries for finished ones.
type Scheduler struct {
	store StateStore

	mu      sync.Mutex
	weights map[string]float64
	delays  map[string]persona.DelayRange
	local   map[string]localEntry

	rand   *rand.Rand
	randMu sync.Mutex
}

// localEntry is a cached turn state stamped with the expiry of the store
// write that produced it.
type localEntry struct {
	state   *TurnState
	expires time.Time
}

// New creates a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		store:   cfg.Store,
		weights: cfg.Weights,
		delays:  cfg.Delays,
		local:   make(map[string]localEntry),
	}
	if cfg.Rand != nil {
		s.rand = rand.New(cfg.Rand)
	}
	return s
}

// Start initializes turn state for a conversation. Duplicate persona IDs are
// dropped (first occurrence wins). Any previous state for the conversation,
// active or stopped, is overwritten.
func (s *Scheduler) Start(ctx context.Context, conversationID string, participants []string) error {
	distinct := dedupe(participants)
	if len(distinct) == 0 {
		return ErrInvalidParticipants
	}

	state := &TurnState{
		Participants: distinct,
		TurnCount:    0,
		Active:       true,
	}
	return s.put(ctx, conversationID, state)
}

// NextSpeaker returns the persona that should speak next, or "" when the
// conversation is unknown or stopped — the terminal signal to the caller.
//
// The eligible set excludes the last speaker unless that would leave nobody.
// Selection is weighted random over the eligible set.
func (s *Scheduler) NextSpeaker(ctx context.Context, conversationID string) (string, error) {
	state, err := s.get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if state == nil || !state.Active {
		return "", nil
	}

	eligible := make([]string, 0, len(state.Participants))
	for _, p := range state.Participants {
		if p != state.LastSpeaker {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		eligible = state.Participants
	}

	return s.pickWeighted(eligible), nil
}

// RecordSpeaker marks persona as the most recent speaker and increments the
// turn count. It must complete before the next NextSpeaker call for the same
// conversation; the orchestrator's single loop goroutine per conversation
// provides that serialization.
func (s *Scheduler) RecordSpeaker(ctx context.Context, conversationID string, speaker string) error {
	state, err := s.get(ctx, conversationID)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("scheduler: record speaker: unknown conversation %q", conversationID)
	}

	state.LastSpeaker = speaker
	state.TurnCount++
	return s.put(ctx, conversationID, state)
}

// Stop marks the conversation inactive. Idempotent; stopping an unknown
// conversation is a no-op. The local cache entry is dropped: the stopped
// record only needs to live out its TTL in the store.
func (s *Scheduler) Stop(ctx context.Context, conversationID string) error {
	state, err := s.get(ctx, conversationID)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	state.Active = false
	err = s.put(ctx, conversationID, state)

	s.mu.Lock()
	delete(s.local, conversationID)
	s.mu.Unlock()
	return err
}

// State returns a copy of the conversation's turn state, or nil if absent.
func (s *Scheduler) State(ctx context.Context, conversationID string) (*TurnState, error) {
	state, err := s.get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return state.clone(), nil
}

// Retune replaces the speaker weight and delay tables, used when a config
// reload changes persona tuning. Running conversations pick up the new tables
// on their next draw.
func (s *Scheduler) Retune(weights map[string]float64, delays map[string]persona.DelayRange) {
	s.mu.Lock()
	s.weights = weights
	s.delays = delays
	s.mu.Unlock()
}

// NaturalDelay returns a randomized pre-response delay for the persona,
// drawn uniformly from its configured range. Contemplative personas are tuned
// to pause longer than quick-witted ones. This is a pacing device the caller
// sleeps for, not a correctness requirement.
func (s *Scheduler) NaturalDelay(p string) time.Duration {
	s.mu.Lock()
	r, ok := s.delays[p]
	s.mu.Unlock()
	if !ok {
		r = defaultDelay
	}
	span := r.Max - r.Min
	if span <= 0 {
		return r.Min
	}
	return r.Min + time.Duration(s.float64()*float64(span))
}

// pickWeighted draws from eligible using the configured weight table.
// The walk mirrors cumulative-weight sampling; the final-index fallback
// covers floating point edge cases at r ≈ total.
func (s *Scheduler) pickWeighted(eligible []string) string {
	s.mu.Lock()
	weights := s.weights
	s.mu.Unlock()

	total := 0.0
	for _, p := range eligible {
		total += weightOf(weights, p)
	}

	r := s.float64() * total
	acc := 0.0
	for _, p := range eligible {
		acc += weightOf(weights, p)
		if r <= acc {
			return p
		}
	}
	return eligible[len(eligible)-1]
}

func weightOf(weights map[string]float64, p string) float64 {
	if w, ok := weights[p]; ok && w > 0 {
		return w
	}
	return defaultWeight
}

func (s *Scheduler) float64() float64 {
	if s.rand == nil {
		return rand.Float64()
	}
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rand.Float64()
}

// get returns the state for a conversation. A fresh local entry answers
// directly; an expired one is evicted and the store consulted. Store reads do
// not repopulate the cache because the remaining TTL of a read-back entry is
// unknown; only writes do, where the TTL is pinned by the same Set.
func (s *Scheduler) get(ctx context.Context, conversationID string) (*TurnState, error) {
	s.mu.Lock()
	if e, ok := s.local[conversationID]; ok {
		if time.Now().Before(e.expires) {
			cp := e.state.clone()
			s.mu.Unlock()
			return cp, nil
		}
		delete(s.local, conversationID)
	}
	s.mu.Unlock()

	return s.store.Get(ctx, conversationID)
}

// put writes state through to the store with the standard TTL and caches it
// locally under the same expiry.
func (s *Scheduler) put(ctx context.Context, conversationID string, state *TurnState) error {
	s.mu.Lock()
	s.local[conversationID] = localEntry{state: state.clone(), expires: time.Now().Add(StateTTL)}
	s.mu.Unlock()

	if err := s.store.Set(ctx, conversationID, state, StateTTL); err != nil {
		return fmt.Errorf("scheduler: persist state: %w", err)
	}
	return nil
}

// dedupe drops duplicate persona IDs, preserving first-occurrence order.
func dedupe(participants []string) []string {
	seen := make(map[string]struct{}, len(participants))
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
