package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store. Transcripts are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]Message
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]Message)}
}

// Append adds a message to its conversation's transcript.
func (s *MemoryStore) Append(_ context.Context, msg *Message) error {
	prepare(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

// Recent returns up to limit of the newest messages in chronological order.
func (s *MemoryStore) Recent(_ context.Context, conversationID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Count returns the number of messages in a conversation.
func (s *MemoryStore) Count(_ context.Context, conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[conversationID]), nil
}

// Clear removes all messages of a conversation.
func (s *MemoryStore) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, conversationID)
	return nil
}
