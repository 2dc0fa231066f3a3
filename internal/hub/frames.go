package hub

// Frame type discriminators carried in the "type" field of every JSON frame.
const (
	FrameConnection = "connection"
	FrameStatus     = "status"
	FramePing       = "ping"
	FramePong       = "pong"
	FrameUserMsg    = "user_message"
	FrameStatusReq  = "status_request"
	FrameDisconnect = "disconnect"
	FrameTyping     = "typing"
	FrameMessage    = "message"
	FrameSystem     = "system"
	FrameError      = "error"
)

// Error codes carried in ErrorFrame.Code.
const (
	ErrCodeInvalidJSON      = "invalid_json"
	ErrCodeUnknownMessage   = "unknown_message"
	ErrCodeHeartbeatTimeout = "heartbeat_timeout"
)

// Sender types carried in MessageFrame.SenderType.
const (
	SenderTypeUser    = "user"
	SenderTypePersona = "persona"
	SenderTypeSystem  = "system"
)

// ConnectionFrame greets a client right after the websocket upgrade.
type ConnectionFrame struct {
	Type           string `json:"type"`
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id"`
	Timestamp      string `json:"timestamp"`
}

// StatusFrame reports room population.
type StatusFrame struct {
	Type             string `json:"type"`
	ConnectedClients int    `json:"connected_clients"`
	Timestamp        string `json:"timestamp"`
}

// PongFrame answers a client ping.
type PongFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// DisconnectFrame acknowledges a client-initiated disconnect.
type DisconnectFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// TypingFrame signals that a persona is composing a response.
type TypingFrame struct {
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Display   string `json:"sender_display,omitempty"`
	Timestamp string `json:"timestamp"`
}

// MessageFrame carries one transcript message to clients.
type MessageFrame struct {
	Type           string `json:"type"`
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	SenderType     string `json:"sender_type"`
	Sender         string `json:"sender"`
	Display        string `json:"sender_display,omitempty"`
	Content        string `json:"content"`
	Provider       string `json:"provider,omitempty"`
	Cached         bool   `json:"cached,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// ErrorFrame reports a protocol or lifecycle error to one client.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// inboundFrame is the minimal shape the read loop decodes before dispatching.
type inboundFrame struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id"`
	Content string `json:"content"`
	Reason  string `json:"reason"`
}
