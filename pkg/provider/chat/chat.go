// Package chat defines the Provider interface for conversational text backends.
//
// A chat provider wraps a remote or local model API (e.g., OpenAI, Anthropic
// Claude, or a local Ollama instance) and exposes a uniform interface for the
// Colloquy orchestrator to generate persona responses, list models, and probe
// liveness without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use. HealthCheck is called on every
// provider selection — it should be cheap and must respect context deadlines.
package chat

import "context"

// Message roles as used in provider transcripts.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in the conversation transcript sent to a provider.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser], or [RoleAssistant].
	Role string

	// Content is the text of the message.
	Content string
}

// Params carries the sampling parameters that shape a generation.
// Only fields that affect the produced text belong here; they also form part
// of the response cache key.
type Params struct {
	// Temperature controls output randomness in the range [0.0, 2.0]. Lower
	// values produce more deterministic outputs.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// Model optionally pins a specific model within the provider. Empty means
	// use the provider's configured default.
	Model string
}

// Provider is the abstraction over any text-generation backend.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must propagate context cancellation promptly.
type Provider interface {
	// Chat sends the transcript to the model and returns the full response
	// text. At minimum messages must be non-empty.
	Chat(ctx context.Context, messages []Message, params Params) (string, error)

	// Models returns the model identifiers available from this backend.
	Models(ctx context.Context) ([]string, error)

	// HealthCheck reports whether the backend is currently reachable and able
	// to serve requests. Results are intentionally not cached by callers: the
	// selector re-probes on every selection to catch transient outages.
	HealthCheck(ctx context.Context) bool
}
