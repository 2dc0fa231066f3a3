package cache_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/colloquyhq/colloquy/internal/cache"
	"github.com/colloquyhq/colloquy/pkg/provider/chat"
)

// failingBackend errors on every operation to exercise degradation paths.
type failingBackend struct{}

func (failingBackend) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("backend down")
}

func (failingBackend) Set(context.Context, string, string, time.Duration) error {
	return errors.New("backend down")
}

func (failingBackend) DeletePrefix(context.Context, string) error {
	return errors.New("backend down")
}

var sampleTranscript = []chat.Message{
	{Role: chat.RoleSystem, Content: "You are terse."},
	{Role: chat.RoleUser, Content: "Say hello."},
}

var sampleParams = chat.Params{Temperature: 0.7, MaxTokens: 200}

func TestLookupAndStore_RoundTrip(t *testing.T) {
	t.Parallel()
	c := cache.New(cache.NewMemoryBackend())
	ctx := context.Background()

	if _, ok := c.Lookup(ctx, "openai", sampleTranscript, sampleParams); ok {
		t.Fatal("lookup before store should miss")
	}

	c.Store(ctx, "openai", sampleTranscript, sampleParams, "Hello.")

	got, ok := c.Lookup(ctx, "openai", sampleTranscript, sampleParams)
	if !ok {
		t.Fatal("lookup after store should hit")
	}
	if got != "Hello." {
		t.Errorf("got %q, want %q", got, "Hello.")
	}
}

func TestLookup_ParamsChangeIsMiss(t *testing.T) {
	t.Parallel()
	c := cache.New(cache.NewMemoryBackend())
	ctx := context.Background()

	c.Store(ctx, "openai", sampleTranscript, sampleParams, "Hello.")

	hotter := sampleParams
	hotter.Temperature = 0.9
	if _, ok := c.Lookup(ctx, "openai", sampleTranscript, hotter); ok {
		t.Error("temperature change should change the key")
	}

	longer := sampleParams
	longer.MaxTokens = 500
	if _, ok := c.Lookup(ctx, "openai", sampleTranscript, longer); ok {
		t.Error("max_tokens change should change the key")
	}
}

func TestLookup_ProviderAndTranscriptChangeIsMiss(t *testing.T) {
	t.Parallel()
	c := cache.New(cache.NewMemoryBackend())
	ctx := context.Background()

	c.Store(ctx, "openai", sampleTranscript, sampleParams, "Hello.")

	if _, ok := c.Lookup(ctx, "anthropic", sampleTranscript, sampleParams); ok {
		t.Error("provider change should change the key")
	}

	other := append([]chat.Message{}, sampleTranscript...)
	other[1].Content = "Say goodbye."
	if _, ok := c.Lookup(ctx, "openai", other, sampleParams); ok {
		t.Error("transcript change should change the key")
	}
}

func TestKey_DeterministicAndNamespaced(t *testing.T) {
	t.Parallel()
	k1 := cache.Key("openai", sampleTranscript, sampleParams)
	k2 := cache.Key("openai", sampleTranscript, sampleParams)
	if k1 != k2 {
		t.Fatalf("key is not deterministic: %q vs %q", k1, k2)
	}
	if !strings.HasPrefix(k1, "cached_response:openai:") {
		t.Errorf("key %q should carry the namespace and provider prefix", k1)
	}
	hash := strings.TrimPrefix(k1, "cached_response:openai:")
	if len(hash) != 16 {
		t.Errorf("hash suffix should be 16 hex chars, got %q", hash)
	}
}

func TestKey_TrimsMessageWhitespace(t *testing.T) {
	t.Parallel()
	padded := []chat.Message{{Role: chat.RoleUser, Content: "  Say hello.  \n"}}
	trimmed := []chat.Message{{Role: chat.RoleUser, Content: "Say hello."}}
	if cache.Key("openai", padded, sampleParams) != cache.Key("openai", trimmed, sampleParams) {
		t.Error("surrounding whitespace should not change the key")
	}
}

func TestBackendFailure_DegradesToMiss(t *testing.T) {
	t.Parallel()
	c := cache.New(failingBackend{})
	ctx := context.Background()

	// Store must not panic or propagate the error.
	c.Store(ctx, "openai", sampleTranscript, sampleParams, "Hello.")

	if _, ok := c.Lookup(ctx, "openai", sampleTranscript, sampleParams); ok {
		t.Error("failing backend should read as a miss")
	}
}

func TestTTLExpiry(t *testing.T) {
	t.Parallel()
	c := cache.New(cache.NewMemoryBackend(), cache.WithTTL(10*time.Millisecond))
	ctx := context.Background()

	c.Store(ctx, "openai", sampleTranscript, sampleParams, "Hello.")
	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Lookup(ctx, "openai", sampleTranscript, sampleParams); ok {
		t.Error("entry should expire after its TTL")
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	c := cache.New(cache.NewMemoryBackend())
	ctx := context.Background()

	c.Store(ctx, "openai", sampleTranscript, sampleParams, "Hello.")
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := c.Lookup(ctx, "openai", sampleTranscript, sampleParams); ok {
		t.Error("lookup after Clear should miss")
	}
}
