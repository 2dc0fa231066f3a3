// Package store persists conversation transcripts.
//
// Messages are append-only; editing history would invalidate cached responses
// keyed on transcript content. Two implementations exist: MemoryStore for
// tests and single-node demos, and PostgresStore for deployments that need
// transcripts to survive restarts.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SenderUser is the sender name recorded for messages injected by human
// participants over the websocket, as opposed to persona-generated turns.
const SenderUser = "user"

// Message is a single utterance in a conversation transcript.
type Message struct {
	// ID uniquely identifies the message.
	ID uuid.UUID `json:"id"`

	// ConversationID is the conversation this message belongs to.
	ConversationID string `json:"conversation_id"`

	// Sender is the persona name that produced the message, or SenderUser.
	Sender string `json:"sender"`

	// SenderDisplay is the human-readable sender name shown to clients.
	SenderDisplay string `json:"sender_display,omitempty"`

	// Content is the message text.
	Content string `json:"content"`

	// Provider names the backend that generated the message. Empty for
	// user messages.
	Provider string `json:"provider,omitempty"`

	// Cached reports whether the content was served from the response
	// cache rather than a live generation.
	Cached bool `json:"cached,omitempty"`

	// CreatedAt is when the message was appended.
	CreatedAt time.Time `json:"created_at"`
}

// Store provides transcript persistence for conversations.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds a message to its conversation's transcript. A zero ID is
	// assigned and a zero CreatedAt is stamped before persistence.
	Append(ctx context.Context, msg *Message) error

	// Recent returns up to limit of the newest messages for a
	// conversation, in chronological order. Returns an empty slice for an
	// unknown conversation.
	Recent(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// Count returns the number of messages in a conversation.
	Count(ctx context.Context, conversationID string) (int, error)

	// Clear removes all messages of a conversation. Clearing an unknown
	// conversation is not an error.
	Clear(ctx context.Context, conversationID string) error
}

// prepare fills in defaulted fields before persistence.
func prepare(msg *Message) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
}
