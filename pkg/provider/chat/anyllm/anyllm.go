// Package anyllm provides a universal chat provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	p, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	p, err := anyllm.NewAnthropic("claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/colloquyhq/colloquy/pkg/provider/chat"
)

// healthProbeTimeout bounds the single-token completion used as a liveness probe.
const healthProbeTimeout = 5 * time.Second

// Provider implements chat.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// Compile-time interface assertion.
var _ chat.Provider = (*Provider)(nil)

// New creates a Provider backed by the given backend name.
//
// backendName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq". model is the default model (e.g., "gpt-4o-mini"); a
// per-call model pin in [chat.Params] takes precedence.
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend falls
// back to its environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func New(backendName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if backendName == "" {
		return nil, fmt.Errorf("anyllm: backendName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(backendName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}

	return &Provider{backend: backend, model: model}, nil
}

// NewOpenAI creates a Provider backed by OpenAI.
func NewOpenAI(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("openai", model, opts...)
}

// NewAnthropic creates a Provider backed by Anthropic.
func NewAnthropic(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("anthropic", model, opts...)
}

// NewGemini creates a Provider backed by Google Gemini.
func NewGemini(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("gemini", model, opts...)
}

// NewOllama creates a Provider backed by Ollama (local inference).
// Without options, it connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// NewDeepSeek creates a Provider backed by DeepSeek.
func NewDeepSeek(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("deepseek", model, opts...)
}

// createBackend creates the underlying any-llm-go provider for the given backend name.
func createBackend(backendName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(backendName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic", "claude":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq", backendName)
	}
}

// Chat implements chat.Provider.
func (p *Provider) Chat(ctx context.Context, messages []chat.Message, params chat.Params) (string, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(messages, params))
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.ContentString()), nil
}

// Models implements chat.Provider. any-llm-go exposes no model listing API, so
// this reports the configured default model.
func (p *Provider) Models(_ context.Context) ([]string, error) {
	return []string{p.model}, nil
}

// HealthCheck implements chat.Provider. It issues a single-token completion
// with a short deadline; any response, including a content-policy refusal,
// counts as healthy. This costs one tiny request per selection, which is the
// accepted price for never acting on stale liveness data.
func (p *Provider) HealthCheck(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	maxTokens := 1
	_, err := p.backend.Completion(probeCtx, anyllmlib.CompletionParams{
		Model:     p.model,
		Messages:  []anyllmlib.Message{{Role: anyllmlib.RoleUser, Content: "ping"}},
		MaxTokens: &maxTokens,
	})
	return err == nil
}

// buildParams converts a transcript and sampling params into anyllm CompletionParams.
func (p *Provider) buildParams(messages []chat.Message, params chat.Params) anyllmlib.CompletionParams {
	converted := make([]anyllmlib.Message, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	model := p.model
	if params.Model != "" {
		model = params.Model
	}

	out := anyllmlib.CompletionParams{
		Model:    model,
		Messages: converted,
	}
	if params.Temperature != 0 {
		t := params.Temperature
		out.Temperature = &t
	}
	if params.MaxTokens > 0 {
		mt := params.MaxTokens
		out.MaxTokens = &mt
	}
	return out
}
