// Package openai provides a chat provider backed directly by the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/colloquyhq/colloquy/pkg/provider/chat"
)

// healthCheckTimeout bounds the model-list call used as a liveness probe.
const healthCheckTimeout = 5 * time.Second

// Provider implements chat.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// Compile-time interface assertion.
var _ chat.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Also usable to point
// the provider at an OpenAI-compatible endpoint (LM Studio, OpenRouter).
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI chat Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Chat implements chat.Provider.
func (p *Provider) Chat(ctx context.Context, messages []chat.Message, params chat.Params) (string, error) {
	reqParams, err := p.buildParams(messages, params)
	if err != nil {
		return "", fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, reqParams)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Models implements chat.Provider by listing models visible to the API key.
func (p *Provider) Models(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai: list models: %w", err)
	}

	out := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, m.ID)
	}
	return out, nil
}

// HealthCheck implements chat.Provider. It lists models with a short deadline;
// a successful listing means credentials and connectivity are both good.
func (p *Provider) HealthCheck(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	_, err := p.client.Models.List(probeCtx)
	return err == nil
}

// buildParams converts a transcript and sampling params into OpenAI SDK params.
func (p *Provider) buildParams(messages []chat.Message, params chat.Params) (oai.ChatCompletionNewParams, error) {
	converted := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case chat.RoleSystem:
			converted = append(converted, oai.SystemMessage(m.Content))
		case chat.RoleUser:
			converted = append(converted, oai.UserMessage(m.Content))
		case chat.RoleAssistant:
			converted = append(converted, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	model := p.model
	if params.Model != "" {
		model = params.Model
	}

	out := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: converted,
	}
	if params.Temperature != 0 {
		out.Temperature = param.NewOpt(params.Temperature)
	}
	if params.MaxTokens > 0 {
		out.MaxCompletionTokens = param.NewOpt(int64(params.MaxTokens))
	}
	return out, nil
}
