// Package hub maintains per-conversation sets of live client connections and
// fans broadcast events out to them.
//
// The hub owns liveness: every inbound client message refreshes a heartbeat
// timestamp, and a single shared background sweep evicts connections whose
// heartbeat is older than the timeout. A send failure on one connection evicts
// only that connection; delivery to the rest of the room proceeds.
//
// Broadcasts are additionally published to an optional external pub/sub
// channel for cross-instance fan-out.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultSweepInterval is how often the stale-connection sweep runs.
	DefaultSweepInterval = 15 * time.Second

	// DefaultHeartbeatTimeout is how long a connection may stay silent
	// before the sweep evicts it.
	DefaultHeartbeatTimeout = 45 * time.Second

	// sendTimeout bounds a single outbound write so one stuck socket
	// cannot stall a broadcast.
	sendTimeout = 5 * time.Second
)

// Conn is a single client connection the hub can write to. Implementations
// must tolerate concurrent Send calls.
type Conn interface {
	// Send writes one JSON text frame to the client.
	Send(ctx context.Context, data []byte) error

	// Close terminates the connection with a human-readable reason.
	Close(reason string) error
}

// client is a registered connection with its liveness timestamp.
type client struct {
	id       string
	conn     Conn
	lastSeen time.Time
}

// Config tunes a Hub. The zero value selects defaults.
type Config struct {
	// SweepInterval overrides DefaultSweepInterval.
	SweepInterval time.Duration

	// HeartbeatTimeout overrides DefaultHeartbeatTimeout.
	HeartbeatTimeout time.Duration

	// Publisher receives every broadcast for cross-instance fan-out.
	// Nil disables external publishing.
	Publisher Publisher

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Hub is the connection registry. Safe for concurrent use.
type Hub struct {
	sweepInterval    time.Duration
	heartbeatTimeout time.Duration
	publisher        Publisher
	now              func() time.Time

	mu    sync.RWMutex
	rooms map[string]map[string]*client

	sweepOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Hub. The heartbeat sweep starts lazily with the first
// connection and stops when Close is called.
func New(cfg Config) *Hub {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Hub{
		sweepInterval:    cfg.SweepInterval,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		publisher:        cfg.Publisher,
		now:              cfg.Now,
		rooms:            make(map[string]map[string]*client),
		done:             make(chan struct{}),
	}
}

// Connect registers conn in the conversation's room and returns its client ID.
// The heartbeat sweep is started if it is not already running.
func (h *Hub) Connect(conversationID string, conn Conn) string {
	id := uuid.NewString()

	h.mu.Lock()
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[string]*client)
		h.rooms[conversationID] = room
	}
	room[id] = &client{id: id, conn: conn, lastSeen: h.now()}
	h.mu.Unlock()

	h.sweepOnce.Do(func() { go h.sweepLoop() })

	slog.Debug("client connected", "conversation", conversationID, "client", id)
	return id
}

// Disconnect removes a client from its room. An empty room is dropped
// entirely. Disconnecting an unknown client is a no-op.
func (h *Hub) Disconnect(conversationID, clientID, reason string) {
	h.mu.Lock()
	room := h.rooms[conversationID]
	_, ok := room[clientID]
	if ok {
		delete(room, clientID)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	h.mu.Unlock()

	if ok {
		slog.Debug("client disconnected", "conversation", conversationID, "client", clientID, "reason", reason)
	}
}

// MarkHeartbeat records activity for a client. Called on every inbound
// message, not only explicit pings.
func (h *Hub) MarkHeartbeat(conversationID, clientID string) {
	h.mu.Lock()
	if c, ok := h.rooms[conversationID][clientID]; ok {
		c.lastSeen = h.now()
	}
	h.mu.Unlock()
}

// Status returns the number of connected clients in a conversation's room.
func (h *Hub) Status(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// Broadcast sends event as a JSON frame to every client in the conversation's
// room. A failed send evicts that client but does not abort delivery to the
// rest. The frame is then handed to the external publisher.
func (h *Hub) Broadcast(ctx context.Context, conversationID string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("hub: marshal broadcast: %w", err)
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[conversationID]))
	for _, c := range h.rooms[conversationID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := c.conn.Send(sendCtx, data)
		cancel()
		if err != nil {
			slog.Warn("broadcast send failed, evicting client",
				"conversation", conversationID, "client", c.id, "error", err)
			_ = c.conn.Close("send failed")
			h.Disconnect(conversationID, c.id, "send failed")
		}
	}

	if h.publisher != nil {
		if err := h.publisher.Publish(ctx, conversationID, data); err != nil {
			slog.Warn("pub/sub publish failed", "conversation", conversationID, "error", err)
		}
	}
	return nil
}

// BroadcastStatus sends the room's current population to its clients.
func (h *Hub) BroadcastStatus(ctx context.Context, conversationID string) {
	frame := StatusFrame{
		Type:             FrameStatus,
		ConnectedClients: h.Status(conversationID),
		Timestamp:        h.timestamp(),
	}
	if err := h.Broadcast(ctx, conversationID, frame); err != nil {
		slog.Warn("status broadcast failed", "conversation", conversationID, "error", err)
	}
}

// Close stops the heartbeat sweep. Registered connections are left to their
// owners to close.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) sweepLoop() {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.SweepStale(context.Background())
		}
	}
}

// SweepStale evicts every connection whose last heartbeat exceeds the
// timeout. Each evicted client receives a structured timeout error before the
// forced close, and affected rooms get a status re-broadcast.
func (h *Hub) SweepStale(ctx context.Context) {
	cutoff := h.now().Add(-h.heartbeatTimeout)

	type stale struct {
		conversationID string
		c              *client
	}
	var evict []stale

	h.mu.RLock()
	for convID, room := range h.rooms {
		for _, c := range room {
			if c.lastSeen.Before(cutoff) {
				evict = append(evict, stale{conversationID: convID, c: c})
			}
		}
	}
	h.mu.RUnlock()

	touched := make(map[string]bool)
	for _, s := range evict {
		frame := ErrorFrame{
			Type:    FrameError,
			Code:    ErrCodeHeartbeatTimeout,
			Message: "no heartbeat received, closing connection",
		}
		data, _ := json.Marshal(frame)
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_ = s.c.conn.Send(sendCtx, data)
		cancel()
		_ = s.c.conn.Close("heartbeat timeout")
		h.Disconnect(s.conversationID, s.c.id, "heartbeat timeout")
		touched[s.conversationID] = true
		slog.Info("stale connection evicted", "conversation", s.conversationID, "client", s.c.id)
	}

	for convID := range touched {
		h.BroadcastStatus(ctx, convID)
	}
}

func (h *Hub) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}
