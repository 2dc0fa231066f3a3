package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the conversation_messages table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS conversation_messages (
    id              UUID PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    sender          TEXT NOT NULL,
    sender_display  TEXT NOT NULL DEFAULT '',
    content         TEXT NOT NULL,
    provider        TEXT NOT NULL DEFAULT '',
    cached          BOOLEAN NOT NULL DEFAULT false,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversation_messages_conversation
    ON conversation_messages(conversation_id, created_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// conversation_messages table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append adds a message to its conversation's transcript.
func (s *PostgresStore) Append(ctx context.Context, msg *Message) error {
	prepare(msg)

	const query = `
		INSERT INTO conversation_messages (
			id, conversation_id, sender, sender_display, content,
			provider, cached, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := s.db.Exec(ctx, query,
		msg.ID, msg.ConversationID, msg.Sender, msg.SenderDisplay, msg.Content,
		msg.Provider, msg.Cached, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest messages in chronological order.
func (s *PostgresStore) Recent(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	// Newest-first in SQL so LIMIT keeps the tail, then reversed in memory.
	const query = `
		SELECT id, conversation_id, sender, sender_display, content,
		       provider, cached, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, conversationID, nullableLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.Sender, &msg.SenderDisplay, &msg.Content,
			&msg.Provider, &msg.Cached, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// Count returns the number of messages in a conversation.
func (s *PostgresStore) Count(ctx context.Context, conversationID string) (int, error) {
	const query = `SELECT count(*) FROM conversation_messages WHERE conversation_id = $1`

	var n int
	if err := s.db.QueryRow(ctx, query, conversationID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Clear removes all messages of a conversation.
func (s *PostgresStore) Clear(ctx context.Context, conversationID string) error {
	const query = `DELETE FROM conversation_messages WHERE conversation_id = $1`
	if _, err := s.db.Exec(ctx, query, conversationID); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

// nullableLimit maps a non-positive limit to NULL so LIMIT NULL returns all
// rows.
func nullableLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
