// Package observe provides application-wide observability primitives for
// Colloquy: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Colloquy metrics.
const meterName = "github.com/colloquyhq/colloquy"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use, the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks full persona turn latency, from speaker selection
	// to broadcast. Use with attributes:
	//   attribute.String("persona", ...), attribute.String("provider", ...)
	TurnDuration metric.Float64Histogram

	// GenerationDuration tracks provider chat completion latency.
	GenerationDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by provider name.
	ProviderErrors metric.Int64Counter

	// CacheLookups counts response cache lookups. Use with attribute:
	//   attribute.String("status", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// PersonaMessages counts generated persona messages. Use with attributes:
	//   attribute.String("persona", ...), attribute.String("provider", ...)
	PersonaMessages metric.Int64Counter

	// TopicShifts counts injected topic-shift prompts by target topic.
	TopicShifts metric.Int64Counter

	// SkippedTurns counts turns abandoned because no provider produced a
	// response.
	SkippedTurns metric.Int64Counter

	// --- Gauges ---

	// ActiveConversations tracks the number of running turn loops.
	ActiveConversations metric.Int64UpDownCounter

	// ConnectedClients tracks the number of live websocket connections
	// across all conversations.
	ConnectedClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// conversational pacing, which includes multi-second artificial delays.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("colloquy.turn.duration",
		metric.WithDescription("Latency of a full persona turn, selection through broadcast."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("colloquy.generation.duration",
		metric.WithDescription("Latency of provider chat completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("colloquy.provider.requests",
		metric.WithDescription("Total provider API requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("colloquy.provider.errors",
		metric.WithDescription("Total provider errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("colloquy.cache.lookups",
		metric.WithDescription("Response cache lookups by hit/miss status."),
	); err != nil {
		return nil, err
	}
	if met.PersonaMessages, err = m.Int64Counter("colloquy.persona.messages",
		metric.WithDescription("Generated persona messages by persona and provider."),
	); err != nil {
		return nil, err
	}
	if met.TopicShifts, err = m.Int64Counter("colloquy.topic.shifts",
		metric.WithDescription("Injected topic-shift prompts by target topic."),
	); err != nil {
		return nil, err
	}
	if met.SkippedTurns, err = m.Int64Counter("colloquy.turns.skipped",
		metric.WithDescription("Turns skipped because no response could be generated."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConversations, err = m.Int64UpDownCounter("colloquy.active_conversations",
		metric.WithDescription("Number of running conversation turn loops."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedClients, err = m.Int64UpDownCounter("colloquy.connected_clients",
		metric.WithDescription("Number of live websocket connections across all conversations."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("colloquy.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordCacheLookup records a cache lookup with a hit/miss status attribute.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	status := "miss"
	if hit {
		status = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordPersonaMessage records a generated persona message counter increment.
func (m *Metrics) RecordPersonaMessage(ctx context.Context, personaName, provider string) {
	m.PersonaMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("persona", personaName),
			attribute.String("provider", provider),
		),
	)
}

// RecordTopicShift records an injected topic-shift prompt.
func (m *Metrics) RecordTopicShift(ctx context.Context, topicName string) {
	m.TopicShifts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("topic", topicName)),
	)
}
