package store_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/colloquyhq/colloquy/internal/store"
)

func TestMemoryStoreAppendRecent(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		msg := &store.Message{
			ConversationID: "conv-1",
			Sender:         "philosopher",
			Content:        content,
		}
		if err := s.Append(ctx, msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if msg.ID == uuid.Nil {
			t.Error("Append left message ID unset")
		}
		if msg.CreatedAt.IsZero() {
			t.Error("Append left CreatedAt unset")
		}
	}

	msgs, err := s.Recent(ctx, "conv-1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Recent returned %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "second" || msgs[1].Content != "third" {
		t.Errorf("Recent = [%s %s], want chronological tail [second third]",
			msgs[0].Content, msgs[1].Content)
	}

	n, err := s.Count(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestMemoryStoreUnknownConversation(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	ctx := context.Background()

	msgs, err := s.Recent(ctx, "nope", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Recent returned %d messages for unknown conversation", len(msgs))
	}

	if err := s.Clear(ctx, "nope"); err != nil {
		t.Errorf("Clear of unknown conversation: %v", err)
	}
}

func TestMemoryStoreClear(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	ctx := context.Background()

	if err := s.Append(ctx, &store.Message{ConversationID: "conv-1", Sender: "user", Content: "hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Clear(ctx, "conv-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	n, err := s.Count(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("Count after Clear = %d, want 0", n)
	}
}

func TestMemoryStoreIsolatesConversations(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	ctx := context.Background()

	if err := s.Append(ctx, &store.Message{ConversationID: "a", Sender: "scientist", Content: "x"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, &store.Message{ConversationID: "b", Sender: "comedian", Content: "y"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	msgs, err := s.Recent(ctx, "a", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "x" {
		t.Errorf("conversation a transcript = %v, want single message x", msgs)
	}
}
