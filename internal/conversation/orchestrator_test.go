package conversation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/colloquyhq/colloquy/internal/cache"
	"github.com/colloquyhq/colloquy/internal/conversation"
	"github.com/colloquyhq/colloquy/internal/persona"
	"github.com/colloquyhq/colloquy/internal/scheduler"
	"github.com/colloquyhq/colloquy/internal/selector"
	"github.com/colloquyhq/colloquy/internal/store"
	"github.com/colloquyhq/colloquy/internal/topic"
	"github.com/colloquyhq/colloquy/pkg/provider/chat"
	"github.com/colloquyhq/colloquy/pkg/provider/chat/mock"
)

// stubScheduler hands out a scripted sequence of speakers.
type stubScheduler struct {
	mu           sync.Mutex
	queue        []string
	startErr     error
	started      bool
	participants []string
	recorded     []string
	stopped      bool
}

func (s *stubScheduler) Start(_ context.Context, _ string, participants []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	s.participants = participants
	return nil
}

func (s *stubScheduler) NextSpeaker(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || len(s.queue) == 0 {
		return "", nil
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	return next, nil
}

func (s *stubScheduler) RecordSpeaker(_ context.Context, _ string, speaker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, speaker)
	return nil
}

func (s *stubScheduler) Stop(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *stubScheduler) State(context.Context, string) (*scheduler.TurnState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &scheduler.TurnState{
		Participants: append([]string(nil), s.participants...),
		TurnCount:    len(s.recorded),
		Active:       !s.stopped,
	}, nil
}

func (s *stubScheduler) NaturalDelay(string) time.Duration { return 0 }

func (s *stubScheduler) recordedSpeakers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recorded...)
}

// stubSelector always hands out the same provider.
type stubSelector struct {
	name     string
	provider chat.Provider
	ok       bool
}

func (s *stubSelector) SelectForPersona(context.Context, persona.Persona) (selector.Handle, bool) {
	if !s.ok {
		return selector.Handle{}, false
	}
	return selector.Handle{Name: s.name, Provider: s.provider}, true
}

// recordingHub collects broadcast events.
type recordingHub struct {
	mu     sync.Mutex
	events []any
}

func (h *recordingHub) Broadcast(_ context.Context, _ string, event any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func (h *recordingHub) all() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]any(nil), h.events...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func fastConfig(sched conversation.Scheduler, sel conversation.Selector, h conversation.Broadcaster, st store.Store) conversation.Config {
	return conversation.Config{
		Scheduler: sched,
		Selector:  sel,
		Cache:     cache.New(cache.NewMemoryBackend()),
		Hub:       h,
		Store:     st,
		Personas:  persona.NewCatalog(),
		Topics:    topic.NewAnalyzer(nil),
		TurnPause: persona.DelayRange{Min: time.Millisecond, Max: 2 * time.Millisecond},
	}
}

func TestStartRunsTurnLoop(t *testing.T) {
	t.Parallel()

	sched := &stubScheduler{queue: []string{"philosopher", "comedian"}}
	prov := &mock.Provider{ChatResponse: "an interesting thought", Healthy: true}
	h := &recordingHub{}
	st := store.NewMemoryStore()

	o := conversation.New(fastConfig(sched, &stubSelector{name: "demo", provider: prov, ok: true}, h, st))

	if !o.Start(context.Background(), "c1", []string{"philosopher", "comedian"}) {
		t.Fatal("Start returned false")
	}

	waitFor(t, func() bool { return len(sched.recordedSpeakers()) == 2 })

	if got := sched.recordedSpeakers(); got[0] != "philosopher" || got[1] != "comedian" {
		t.Errorf("recorded speakers = %v", got)
	}

	waitFor(t, func() bool {
		n, _ := st.Count(context.Background(), "c1")
		return n == 2
	})
	msgs, err := st.Recent(context.Background(), "c1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if msgs[0].Sender != "philosopher" || msgs[0].Content != "an interesting thought" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[0].Provider != "demo" || msgs[0].Cached {
		t.Errorf("first message provenance = %+v", msgs[0])
	}

	// The broadcasts include the welcome, typing indicators, and messages.
	waitFor(t, func() bool { return len(h.all()) >= 5 })
}

func TestStartReportsSchedulerFailure(t *testing.T) {
	t.Parallel()

	sched := &stubScheduler{startErr: scheduler.ErrInvalidParticipants}
	o := conversation.New(fastConfig(sched, &stubSelector{}, &recordingHub{}, store.NewMemoryStore()))

	if o.Start(context.Background(), "c1", nil) {
		t.Fatal("Start succeeded despite scheduler failure")
	}
}

func TestStartRejectsAlreadyRunningConversation(t *testing.T) {
	t.Parallel()

	long := make([]string, 200)
	for i := range long {
		long[i] = "philosopher"
	}
	sched := &stubScheduler{queue: long}
	prov := &mock.Provider{ChatResponse: "x", Healthy: true}
	o := conversation.New(fastConfig(sched, &stubSelector{name: "demo", provider: prov, ok: true}, &recordingHub{}, store.NewMemoryStore()))

	if !o.Start(context.Background(), "c1", []string{"philosopher"}) {
		t.Fatal("first Start returned false")
	}
	if o.Start(context.Background(), "c1", []string{"philosopher"}) {
		t.Error("second Start succeeded while loop is running")
	}

	o.Stop(context.Background(), "c1")
}

func TestProviderFailureSkipsTurnWithoutEndingLoop(t *testing.T) {
	t.Parallel()

	sched := &stubScheduler{queue: []string{"scientist", "scientist"}}
	prov := &mock.Provider{ChatErr: errors.New("rate limited"), Healthy: true}
	h := &recordingHub{}
	st := store.NewMemoryStore()
	o := conversation.New(fastConfig(sched, &stubSelector{name: "openai", provider: prov, ok: true}, h, st))

	if !o.Start(context.Background(), "c1", []string{"scientist"}) {
		t.Fatal("Start returned false")
	}

	// Both scripted turns are consumed even though generation failed.
	waitFor(t, func() bool { return len(prov.Calls()) == 2 })
	waitFor(t, func() bool {
		sched.mu.Lock()
		defer sched.mu.Unlock()
		return len(sched.queue) == 0
	})

	if n, _ := st.Count(context.Background(), "c1"); n != 0 {
		t.Errorf("failed turns persisted %d messages", n)
	}
	if got := sched.recordedSpeakers(); len(got) != 0 {
		t.Errorf("failed turns recorded speakers %v", got)
	}
}

func TestNoHealthyProviderSkipsTurn(t *testing.T) {
	t.Parallel()

	sched := &stubScheduler{queue: []string{"comedian"}}
	st := store.NewMemoryStore()
	o := conversation.New(fastConfig(sched, &stubSelector{ok: false}, &recordingHub{}, st))

	if !o.Start(context.Background(), "c1", []string{"comedian"}) {
		t.Fatal("Start returned false")
	}

	waitFor(t, func() bool {
		sched.mu.Lock()
		defer sched.mu.Unlock()
		return len(sched.queue) == 0
	})
	if n, _ := st.Count(context.Background(), "c1"); n != 0 {
		t.Errorf("turn without provider persisted %d messages", n)
	}
}

func TestCachedResponseServedWithoutProviderCall(t *testing.T) {
	t.Parallel()

	sched := &stubScheduler{queue: []string{"philosopher"}, participants: []string{"philosopher"}}
	prov := &mock.Provider{ChatResponse: "fresh", Healthy: true}
	h := &recordingHub{}
	st := store.NewMemoryStore()

	respCache := cache.New(cache.NewMemoryBackend())
	cfg := fastConfig(sched, &stubSelector{name: "demo", provider: prov, ok: true}, h, st)
	cfg.Cache = respCache
	o := conversation.New(cfg)

	// Seed the transcript and pre-warm the cache with the exact context the
	// philosopher will assemble from it.
	ctx := context.Background()
	if err := st.Append(ctx, &store.Message{ConversationID: "c1", Sender: "user", Content: "hello there"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	p := persona.NewCatalog().Get("philosopher")
	transcript := []chat.Message{
		{Role: chat.RoleSystem, Content: p.SystemPrompt},
		{Role: chat.RoleUser, Content: "user: hello there"},
	}
	sampling := p.Params()
	params := chat.Params{Temperature: sampling.Temperature, MaxTokens: sampling.MaxTokens}
	respCache.Store(ctx, "demo", transcript, params, "a cached musing")

	if !o.Start(ctx, "c1", []string{"philosopher"}) {
		t.Fatal("Start returned false")
	}

	waitFor(t, func() bool {
		n, _ := st.Count(ctx, "c1")
		return n == 2
	})
	msgs, _ := st.Recent(ctx, "c1", 0)
	last := msgs[len(msgs)-1]
	if last.Content != "a cached musing" || !last.Cached {
		t.Errorf("cached turn = %+v, want cached musing served from cache", last)
	}
	if calls := prov.Calls(); len(calls) != 0 {
		t.Errorf("provider called %d times despite cache hit", len(calls))
	}
}

func TestStopEndsLoopCooperatively(t *testing.T) {
	t.Parallel()

	long := make([]string, 500)
	for i := range long {
		long[i] = "comedian"
	}
	sched := &stubScheduler{queue: long}
	prov := &mock.Provider{ChatResponse: "ha", Healthy: true}
	cfg := fastConfig(sched, &stubSelector{name: "demo", provider: prov, ok: true}, &recordingHub{}, store.NewMemoryStore())
	cfg.MaxTurns = 500
	o := conversation.New(cfg)

	ctx := context.Background()
	if !o.Start(ctx, "c1", []string{"comedian"}) {
		t.Fatal("Start returned false")
	}
	waitFor(t, func() bool { return len(sched.recordedSpeakers()) >= 1 })

	o.Stop(ctx, "c1")

	// Once the stop is observed the loop frees the conversation slot and a
	// fresh Start is accepted.
	waitFor(t, func() bool {
		return o.Start(ctx, "c1", []string{"comedian"})
	})
}

func TestHandleUserMessagePersists(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	o := conversation.New(fastConfig(&stubScheduler{}, &stubSelector{}, &recordingHub{}, st))

	ctx := context.Background()
	if err := o.HandleUserMessage(ctx, "c1", "alice", "what about free will?"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}

	msgs, _ := st.Recent(ctx, "c1", 0)
	if len(msgs) != 1 {
		t.Fatalf("stored %d messages, want 1", len(msgs))
	}
	if msgs[0].Sender != store.SenderUser || msgs[0].SenderDisplay != "alice" {
		t.Errorf("stored message = %+v", msgs[0])
	}
}

func TestParticipants(t *testing.T) {
	t.Parallel()

	sched := &stubScheduler{participants: []string{"philosopher", "scientist"}}
	o := conversation.New(fastConfig(sched, &stubSelector{}, &recordingHub{}, store.NewMemoryStore()))

	got := o.Participants(context.Background(), "c1")
	if len(got) != 2 || got[0] != "philosopher" {
		t.Errorf("Participants = %v", got)
	}
}

func TestTurnCapStopsScheduler(t *testing.T) {
	t.Parallel()

	sched := &stubScheduler{queue: []string{"comedian", "comedian", "comedian"}}
	prov := &mock.Provider{ChatResponse: "ha", Healthy: true}
	cfg := fastConfig(sched, &stubSelector{name: "demo", provider: prov, ok: true}, &recordingHub{}, store.NewMemoryStore())
	cfg.MaxTurns = 2
	o := conversation.New(cfg)

	if !o.Start(context.Background(), "c1", []string{"comedian"}) {
		t.Fatal("Start returned false")
	}

	// Hitting the turn cap ends the conversation; the scheduler state must
	// not stay active behind a finished loop.
	waitFor(t, func() bool {
		sched.mu.Lock()
		defer sched.mu.Unlock()
		return sched.stopped
	})
	if got := sched.recordedSpeakers(); len(got) != 2 {
		t.Errorf("recorded %d turns, want the cap of 2", len(got))
	}
}
