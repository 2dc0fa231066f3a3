package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// UserMessageFunc is invoked for every inbound user_message frame, before the
// message is broadcast to the room. Implementations persist the message.
type UserMessageFunc func(ctx context.Context, conversationID, userID, content string) error

// WSHandler upgrades HTTP requests to websocket connections and runs the
// per-connection frame protocol against a Hub. Register it on a route with an
// {id} path segment, e.g. "GET /ws/{id}".
type WSHandler struct {
	hub           *Hub
	onUserMessage UserMessageFunc
}

// NewWSHandler creates a handler over hub. onUserMessage may be nil, in which
// case user messages are broadcast without persistence.
func NewWSHandler(hub *Hub, onUserMessage UserMessageFunc) *WSHandler {
	return &WSHandler{hub: hub, onUserMessage: onUserMessage}
}

// wsConn adapts *websocket.Conn to the hub's Conn interface.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

// ServeHTTP upgrades the connection, sends the greeting frames and runs the
// read loop until the client disconnects or the sweep evicts it.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if conversationID == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "conversation", conversationID, "error", err)
		return
	}
	conn := &wsConn{conn: ws}

	clientID := h.hub.Connect(conversationID, conn)
	defer h.hub.Disconnect(conversationID, clientID, "read loop ended")

	ctx := r.Context()
	h.greet(ctx, conn, conversationID)
	h.hub.BroadcastStatus(ctx, conversationID)

	h.readLoop(ctx, conn, conversationID, clientID)
	h.hub.BroadcastStatus(context.WithoutCancel(ctx), conversationID)
}

func (h *WSHandler) greet(ctx context.Context, conn Conn, conversationID string) {
	ts := time.Now().UTC().Format(time.RFC3339)
	h.send(ctx, conn, ConnectionFrame{
		Type:           FrameConnection,
		Status:         "connected",
		ConversationID: conversationID,
		Timestamp:      ts,
	})
	h.send(ctx, conn, StatusFrame{
		Type:             FrameStatus,
		ConnectedClients: h.hub.Status(conversationID),
		Timestamp:        ts,
	})
}

func (h *WSHandler) readLoop(ctx context.Context, conn *wsConn, conversationID, clientID string) {
	for {
		_, data, err := conn.conn.Read(ctx)
		if err != nil {
			return
		}

		// Any inbound traffic counts as liveness, not only pings.
		h.hub.MarkHeartbeat(conversationID, clientID)

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.send(ctx, conn, ErrorFrame{
				Type:    FrameError,
				Code:    ErrCodeInvalidJSON,
				Message: "message is not valid JSON",
			})
			continue
		}

		switch frame.Type {
		case FramePing:
			h.send(ctx, conn, PongFrame{
				Type:      FramePong,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})

		case FrameUserMsg:
			h.handleUserMessage(ctx, conversationID, frame)

		case FrameStatusReq:
			h.hub.BroadcastStatus(ctx, conversationID)

		case FrameDisconnect:
			reason := frame.Reason
			if reason == "" {
				reason = "client requested disconnect"
			}
			h.send(ctx, conn, DisconnectFrame{Type: FrameDisconnect, Reason: reason})
			_ = conn.Close(reason)
			return

		default:
			h.send(ctx, conn, ErrorFrame{
				Type:    FrameError,
				Code:    ErrCodeUnknownMessage,
				Message: "unrecognized message type " + frame.Type,
			})
		}
	}
}

func (h *WSHandler) handleUserMessage(ctx context.Context, conversationID string, frame inboundFrame) {
	sender := frame.UserID
	if sender == "" {
		sender = SenderTypeUser
	}

	if h.onUserMessage != nil {
		if err := h.onUserMessage(ctx, conversationID, sender, frame.Content); err != nil {
			slog.Warn("user message persistence failed",
				"conversation", conversationID, "error", err)
		}
	}

	msg := MessageFrame{
		Type:           FrameMessage,
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		SenderType:     SenderTypeUser,
		Sender:         sender,
		Content:        frame.Content,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.hub.Broadcast(ctx, conversationID, msg); err != nil {
		slog.Warn("user message broadcast failed", "conversation", conversationID, "error", err)
	}
}

func (h *WSHandler) send(ctx context.Context, conn Conn, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("frame marshal failed", "error", err)
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := conn.Send(sendCtx, data); err != nil {
		slog.Debug("frame send failed", "error", err)
	}
}
