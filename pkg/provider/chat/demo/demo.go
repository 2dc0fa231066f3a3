// Package demo provides a deterministic offline chat provider.
//
// It returns pre-written responses so the server stays usable without any API
// credentials configured. The selector treats it as the designated
// always-available fallback provider.
package demo

import (
	"context"
	"strings"

	"github.com/colloquyhq/colloquy/pkg/provider/chat"
)

// Name is the registry name under which the demo provider is installed.
const Name = "demo"

// responses holds canned replies keyed by persona style marker. The marker is
// matched against the system prompt of the incoming transcript.
var responses = map[string][]string{
	"philosopher": {
		"What a profound question. Let us consider the nature of existence itself. Throughout the ages, great thinkers like Socrates and Descartes have pondered similar conundrums.",
		"The essence of consciousness lies at the intersection of being and perception. As Heidegger might argue, our very existence is defined by our questioning of it.",
		"Ah, the eternal struggle between determinism and free will. This touches upon the fundamental paradox of human agency in a universe of physical laws.",
	},
	"comedian": {
		"Haha, you just hit the cosmic joke button! Why did the philosopher go to the party? To ponder the meaning of 'party'!",
		"Oh man, that's a philosophical crisis waiting to happen! Let me lighten it up with some existential humor... Did you hear about the optimistic mathematician?",
		"Whoa, deep thoughts incoming! Quick, somebody pass the snacks before we get too serious!",
	},
	"scientist": {
		"Based on empirical evidence and current scientific understanding, this phenomenon can be explained through the lens of quantum mechanics and evolutionary biology.",
		"Let me break this down systematically. From a scientific perspective, we've observed patterns that suggest causal relationships between these variables.",
		"According to well-documented studies and observational data, this represents an interesting intersection of natural selection and environmental adaptation.",
	},
}

// Provider implements chat.Provider with canned responses. It is always
// healthy and never touches the network.
type Provider struct{}

// Compile-time interface assertion.
var _ chat.Provider = (*Provider)(nil)

// New creates a demo Provider.
func New() *Provider {
	return &Provider{}
}

// Chat returns a canned response. The persona bank is chosen by scanning the
// transcript's system prompt for a style marker; the reply index rotates with
// transcript length so consecutive turns differ while staying deterministic.
func (p *Provider) Chat(_ context.Context, messages []chat.Message, _ chat.Params) (string, error) {
	bank := responses["philosopher"]
	for _, m := range messages {
		if m.Role != chat.RoleSystem {
			continue
		}
		lower := strings.ToLower(m.Content)
		for marker, candidate := range responses {
			if strings.Contains(lower, marker) {
				bank = candidate
				break
			}
		}
		break
	}
	return bank[len(messages)%len(bank)], nil
}

// Models returns the demo model identifiers.
func (p *Provider) Models(_ context.Context) ([]string, error) {
	return []string{"demo-philosopher", "demo-comedian", "demo-scientist"}, nil
}

// HealthCheck always reports healthy.
func (p *Provider) HealthCheck(_ context.Context) bool {
	return true
}
