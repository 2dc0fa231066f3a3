// Package mock provides a test double for the chat.Provider interface.
//
// Use Provider in unit tests to verify that the orchestrator and selector send
// correct transcripts and to feed controlled responses without a live backend.
// All fields are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{ChatResponse: "Hello!", Healthy: true}
//	text, err := p.Chat(ctx, msgs, params)
package mock

import (
	"context"
	"sync"

	"github.com/colloquyhq/colloquy/pkg/provider/chat"
)

// ChatCall records a single invocation of Chat.
type ChatCall struct {
	// Messages is the transcript passed to Chat.
	Messages []chat.Message
	// Params is the sampling parameters passed to Chat.
	Params chat.Params
}

// Provider is a mock implementation of chat.Provider.
// Zero values cause methods to return zero values and nil errors; note that a
// zero Healthy field means HealthCheck reports unhealthy.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ChatResponse is returned by Chat when ChatErr is nil.
	ChatResponse string

	// ChatErr, if non-nil, is returned as the error from Chat.
	ChatErr error

	// ChatFunc, if non-nil, overrides ChatResponse/ChatErr entirely.
	ChatFunc func(ctx context.Context, messages []chat.Message, params chat.Params) (string, error)

	// ModelList is returned by Models.
	ModelList []string

	// ModelsErr, if non-nil, is returned as the error from Models.
	ModelsErr error

	// Healthy is returned by HealthCheck.
	Healthy bool

	// --- Call records (read after test) ---

	// ChatCalls records every invocation of Chat in order.
	ChatCalls []ChatCall

	// HealthCheckCount is the number of times HealthCheck was called.
	HealthCheckCount int
}

// Chat records the call and returns the configured response.
func (p *Provider) Chat(ctx context.Context, messages []chat.Message, params chat.Params) (string, error) {
	p.mu.Lock()
	msgs := make([]chat.Message, len(messages))
	copy(msgs, messages)
	p.ChatCalls = append(p.ChatCalls, ChatCall{Messages: msgs, Params: params})
	fn := p.ChatFunc
	resp, err := p.ChatResponse, p.ChatErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages, params)
	}
	return resp, err
}

// Models returns ModelList, ModelsErr.
func (p *Provider) Models(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelList, p.ModelsErr
}

// HealthCheck records the call and returns Healthy.
func (p *Provider) HealthCheck(_ context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.HealthCheckCount++
	return p.Healthy
}

// Calls returns a snapshot of recorded Chat invocations. Thread-safe.
func (p *Provider) Calls() []ChatCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := make([]ChatCall, len(p.ChatCalls))
	copy(calls, p.ChatCalls)
	return calls
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ChatCalls = nil
	p.HealthCheckCount = 0
}

// Ensure Provider implements chat.Provider at compile time.
var _ chat.Provider = (*Provider)(nil)
