package hub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher fans broadcast frames out to sibling instances. The hub treats
// publishing as a best-effort side effect; failures are logged, not
// propagated.
type Publisher interface {
	Publish(ctx context.Context, conversationID string, data []byte) error
}

// RedisPublisher publishes frames on the per-conversation Redis channel
// "conversation:<id>".
type RedisPublisher struct {
	client redis.UniversalClient
}

// Compile-time interface check.
var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher creates a publisher over the given Redis client.
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends data on the conversation's channel.
func (p *RedisPublisher) Publish(ctx context.Context, conversationID string, data []byte) error {
	if err := p.client.Publish(ctx, "conversation:"+conversationID, data).Err(); err != nil {
		return fmt.Errorf("hub: publish conversation %q: %w", conversationID, err)
	}
	return nil
}
