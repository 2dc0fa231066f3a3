// Package conversation drives the turn loop of a multi-persona conversation.
//
// Each started conversation runs one independent goroutine that repeatedly
// asks the turn scheduler for the next speaker, generates that persona's
// response through a selected provider (consulting the response cache), and
// broadcasts the result to connected clients. Turn-state mutation is
// serialized by the single-loop-per-conversation design; no two responses are
// ever generated concurrently for the same conversation.
//
// Failures inside a turn are logged and skip that turn only. The loop ends on
// turn-limit exhaustion, a stop request, or scheduler state corruption.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/colloquyhq/colloquy/internal/hub"
	"github.com/colloquyhq/colloquy/internal/observe"
	"github.com/colloquyhq/colloquy/internal/persona"
	"github.com/colloquyhq/colloquy/internal/scheduler"
	"github.com/colloquyhq/colloquy/internal/selector"
	"github.com/colloquyhq/colloquy/internal/store"
	"github.com/colloquyhq/colloquy/internal/topic"
	"github.com/colloquyhq/colloquy/pkg/provider/chat"
)

const (
	// DefaultMaxTurns bounds the turn loop per conversation.
	DefaultMaxTurns = 20

	// contextWindow is how many persisted messages feed each generation.
	contextWindow = 20

	// generationTimeout is the upper bound wait per provider call so a
	// provider that never returns cannot hang the loop.
	generationTimeout = 30 * time.Second

	// Inter-turn pause range.
	minTurnPause = 1 * time.Second
	maxTurnPause = 3 * time.Second
)

// Scheduler is the turn-taking dependency.
type Scheduler interface {
	Start(ctx context.Context, conversationID string, participants []string) error
	NextSpeaker(ctx context.Context, conversationID string) (string, error)
	RecordSpeaker(ctx context.Context, conversationID, speaker string) error
	Stop(ctx context.Context, conversationID string) error
	State(ctx context.Context, conversationID string) (*scheduler.TurnState, error)
	NaturalDelay(p string) time.Duration
}

// Selector is the provider-selection dependency.
type Selector interface {
	SelectForPersona(ctx context.Context, p persona.Persona) (selector.Handle, bool)
}

// Cache is the response-cache dependency.
type Cache interface {
	Lookup(ctx context.Context, providerName string, transcript []chat.Message, params chat.Params) (string, bool)
	Store(ctx context.Context, providerName string, transcript []chat.Message, params chat.Params, response string)
}

// Broadcaster is the client fan-out dependency.
type Broadcaster interface {
	Broadcast(ctx context.Context, conversationID string, event any) error
}

// Config assembles an Orchestrator's collaborators.
type Config struct {
	Scheduler Scheduler
	Selector  Selector
	Cache     Cache
	Hub       Broadcaster
	Store     store.Store
	Personas  *persona.Catalog
	Topics    *topic.Analyzer

	// Metrics is optional; nil disables instrumentation.
	Metrics *observe.Metrics

	// MaxTurns overrides DefaultMaxTurns when positive.
	MaxTurns int

	// TurnPause overrides the randomized inter-turn pause range. Zero
	// values select the defaults.
	TurnPause persona.DelayRange

	// Rand seeds pacing randomness, for tests. Nil uses the global source.
	Rand *rand.Rand
}

// Orchestrator owns start/stop lifecycle for conversation turn loops.
type Orchestrator struct {
	sched     Scheduler
	selector  Selector
	cache     Cache
	hub       Broadcaster
	store     store.Store
	personas  *persona.Catalog
	topics    *topic.Analyzer
	metrics   *observe.Metrics
	maxTurns  int
	turnPause persona.DelayRange
	rand      *rand.Rand
	randMu    sync.Mutex

	mu     sync.Mutex
	active map[string]bool
}

// New creates an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	pause := cfg.TurnPause
	if pause.Min <= 0 && pause.Max <= 0 {
		pause = persona.DelayRange{Min: minTurnPause, Max: maxTurnPause}
	}
	return &Orchestrator{
		sched:     cfg.Scheduler,
		selector:  cfg.Selector,
		cache:     cfg.Cache,
		hub:       cfg.Hub,
		store:     cfg.Store,
		personas:  cfg.Personas,
		topics:    cfg.Topics,
		metrics:   cfg.Metrics,
		maxTurns:  maxTurns,
		turnPause: pause,
		rand:      cfg.Rand,
		active:    make(map[string]bool),
	}
}

// Start initializes turn state, emits a welcome message, and launches the
// asynchronous turn loop. It returns once the loop is scheduled, true on
// success. Initialization failures are logged and reported as false, never
// raised.
func (o *Orchestrator) Start(ctx context.Context, conversationID string, participants []string) bool {
	o.mu.Lock()
	if o.active[conversationID] {
		o.mu.Unlock()
		slog.Warn("conversation already running", "conversation", conversationID)
		return false
	}
	o.active[conversationID] = true
	o.mu.Unlock()

	if err := o.sched.Start(ctx, conversationID, participants); err != nil {
		slog.Error("conversation start failed", "conversation", conversationID, "error", err)
		o.setInactive(conversationID)
		return false
	}

	welcome := hub.MessageFrame{
		Type:           hub.FrameMessage,
		ConversationID: conversationID,
		SenderType:     hub.SenderTypeSystem,
		Sender:         "system",
		Content:        fmt.Sprintf("Conversation started with %s.", strings.Join(participants, ", ")),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := o.hub.Broadcast(ctx, conversationID, welcome); err != nil {
		slog.Warn("welcome broadcast failed", "conversation", conversationID, "error", err)
	}

	if o.metrics != nil {
		o.metrics.ActiveConversations.Add(ctx, 1)
	}

	// The loop outlives the HTTP request that started it.
	loopCtx := context.WithoutCancel(ctx)
	go o.runLoop(loopCtx, conversationID)

	slog.Info("conversation started",
		"conversation", conversationID, "participants", participants, "max_turns", o.maxTurns)
	return true
}

// Stop requests a cooperative shutdown: the running loop observes the stopped
// state on its next speaker selection and exits.
func (o *Orchestrator) Stop(ctx context.Context, conversationID string) {
	if err := o.sched.Stop(ctx, conversationID); err != nil {
		slog.Warn("conversation stop failed", "conversation", conversationID, "error", err)
		return
	}
	slog.Info("conversation stop requested", "conversation", conversationID)
}

// Participants returns the participant list of a conversation, or nil when
// the conversation has no turn state.
func (o *Orchestrator) Participants(ctx context.Context, conversationID string) []string {
	state, err := o.sched.State(ctx, conversationID)
	if err != nil || state == nil {
		return nil
	}
	return state.Participants
}

// HandleUserMessage persists an inbound user message so it becomes part of
// the generation context. Broadcasting is the transport layer's concern.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, conversationID, userID, content string) error {
	msg := &store.Message{
		ConversationID: conversationID,
		Sender:         store.SenderUser,
		SenderDisplay:  userID,
		Content:        content,
	}
	if err := o.store.Append(ctx, msg); err != nil {
		return fmt.Errorf("conversation: persist user message: %w", err)
	}
	return nil
}

func (o *Orchestrator) setInactive(conversationID string) {
	o.mu.Lock()
	delete(o.active, conversationID)
	o.mu.Unlock()
}

func (o *Orchestrator) runLoop(ctx context.Context, conversationID string) {
	ctx, span := observe.StartSpan(ctx, "conversation.loop")
	defer span.End()
	log := observe.Logger(ctx).With("conversation", conversationID)

	turns := 0
	defer func() {
		// Reaching the turn cap ends the conversation, same as an explicit
		// Stop; the scheduler state must not stay active behind it.
		if err := o.sched.Stop(ctx, conversationID); err != nil {
			log.Warn("scheduler stop on loop exit failed", "error", err)
		}
		o.setInactive(conversationID)
		if o.metrics != nil {
			o.metrics.ActiveConversations.Add(ctx, -1)
		}
		log.Info("conversation loop finished", "turns", turns)
	}()

	for i := 0; i < o.maxTurns; i++ {
		speaker, err := o.sched.NextSpeaker(ctx, conversationID)
		if err != nil {
			log.Error("speaker selection failed, ending loop", "error", err)
			return
		}
		if speaker == "" {
			// Stopped or state expired.
			return
		}

		if err := o.runTurn(ctx, conversationID, speaker, log); err != nil {
			if o.metrics != nil {
				o.metrics.SkippedTurns.Add(ctx, 1)
			}
			log.Warn("turn skipped", "speaker", speaker, "error", err)
		} else {
			turns++
		}

		if !o.pause(ctx, o.randDuration(o.turnPause.Min, o.turnPause.Max)) {
			return
		}
	}
}

// runTurn executes one speaker turn end to end. A returned error means the
// turn produced no message; the loop continues.
func (o *Orchestrator) runTurn(ctx context.Context, conversationID, speaker string, log *slog.Logger) error {
	start := time.Now()
	p := o.personas.Get(speaker)

	typing := hub.TypingFrame{
		Type:      hub.FrameTyping,
		Sender:    p.Name,
		Display:   p.DisplayName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := o.hub.Broadcast(ctx, conversationID, typing); err != nil {
		log.Warn("typing broadcast failed", "error", err)
	}

	if !o.pause(ctx, o.sched.NaturalDelay(speaker)) {
		return ctx.Err()
	}

	text, providerName, cached, err := o.generate(ctx, conversationID, p)
	if err != nil {
		return err
	}

	msg := &store.Message{
		ConversationID: conversationID,
		Sender:         p.Name,
		SenderDisplay:  p.DisplayName,
		Content:        text,
		Provider:       providerName,
		Cached:         cached,
	}
	if err := o.store.Append(ctx, msg); err != nil {
		log.Warn("message persistence failed", "error", err)
	}

	frame := hub.MessageFrame{
		Type:           hub.FrameMessage,
		MessageID:      msg.ID.String(),
		ConversationID: conversationID,
		SenderType:     hub.SenderTypePersona,
		Sender:         p.Name,
		Display:        p.DisplayName,
		Content:        text,
		Provider:       providerName,
		Cached:         cached,
		Timestamp:      msg.CreatedAt.UTC().Format(time.RFC3339),
	}
	if err := o.hub.Broadcast(ctx, conversationID, frame); err != nil {
		log.Warn("message broadcast failed", "error", err)
	}

	if err := o.sched.RecordSpeaker(ctx, conversationID, speaker); err != nil {
		log.Warn("record speaker failed", "error", err)
	}

	if o.metrics != nil {
		o.metrics.RecordPersonaMessage(ctx, p.Name, providerName)
		o.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	}

	o.maybeShiftTopic(ctx, conversationID, log)
	return nil
}

// generate assembles the persona's context, selects a provider, and produces
// a response text, consulting the response cache on the way.
func (o *Orchestrator) generate(ctx context.Context, conversationID string, p persona.Persona) (text, providerName string, cached bool, err error) {
	transcript, err := o.assembleContext(ctx, conversationID, p)
	if err != nil {
		return "", "", false, err
	}

	handle, ok := o.selector.SelectForPersona(ctx, p)
	if !ok {
		return "", "", false, errors.New("conversation: no healthy provider")
	}

	sampling := p.Params()
	params := chat.Params{
		Temperature: sampling.Temperature,
		MaxTokens:   sampling.MaxTokens,
		Model:       handle.Model,
	}

	if resp, hit := o.cache.Lookup(ctx, handle.Name, transcript, params); hit {
		if o.metrics != nil {
			o.metrics.RecordCacheLookup(ctx, true)
		}
		return resp, handle.Name, true, nil
	}
	if o.metrics != nil {
		o.metrics.RecordCacheLookup(ctx, false)
	}

	genCtx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	genStart := time.Now()
	resp, err := handle.Provider.Chat(genCtx, transcript, params)
	if o.metrics != nil {
		o.metrics.GenerationDuration.Record(ctx, time.Since(genStart).Seconds())
	}
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordProviderRequest(ctx, handle.Name, "error")
			o.metrics.RecordProviderError(ctx, handle.Name)
		}
		return "", "", false, fmt.Errorf("conversation: generation via %s: %w", handle.Name, err)
	}
	if o.metrics != nil {
		o.metrics.RecordProviderRequest(ctx, handle.Name, "ok")
	}

	resp = strings.TrimSpace(resp)
	if resp == "" {
		return "", "", false, fmt.Errorf("conversation: provider %s returned empty response", handle.Name)
	}

	o.cache.Store(ctx, handle.Name, transcript, params, resp)
	return resp, handle.Name, false, nil
}

// assembleContext builds the chat transcript for one persona turn: the
// bounded recent history (or a starter prompt when empty), shaped by the
// persona's memory style, with the system prompt prepended.
func (o *Orchestrator) assembleContext(ctx context.Context, conversationID string, p persona.Persona) ([]chat.Message, error) {
	recent, err := o.store.Recent(ctx, conversationID, contextWindow)
	if err != nil {
		return nil, fmt.Errorf("conversation: load transcript: %w", err)
	}

	var history []chat.Message
	if len(recent) == 0 {
		participants := o.Participants(ctx, conversationID)
		history = []chat.Message{{
			Role:    chat.RoleUser,
			Content: o.topics.Starter(participants, ""),
		}}
	} else {
		history = make([]chat.Message, 0, len(recent))
		for _, m := range recent {
			history = append(history, toChatMessage(m, p.Name))
		}
	}

	shaped := persona.ShapeContext(history, p.Memory)

	out := make([]chat.Message, 0, len(shaped)+1)
	out = append(out, chat.Message{Role: chat.RoleSystem, Content: p.SystemPrompt})
	out = append(out, shaped...)
	return out, nil
}

// toChatMessage maps a stored message into the persona's view of the
// transcript: its own past messages are assistant turns, everyone else's are
// user turns labeled with the speaker.
func toChatMessage(m store.Message, personaName string) chat.Message {
	if m.Sender == personaName {
		return chat.Message{Role: chat.RoleAssistant, Content: m.Content}
	}
	label := m.SenderDisplay
	if label == "" {
		label = m.Sender
	}
	return chat.Message{Role: chat.RoleUser, Content: label + ": " + m.Content}
}

// maybeShiftTopic scores the recent transcript and injects a synthetic
// follow-up prompt when one topic dominates mid-conversation.
func (o *Orchestrator) maybeShiftTopic(ctx context.Context, conversationID string, log *slog.Logger) {
	state, err := o.sched.State(ctx, conversationID)
	if err != nil || state == nil {
		return
	}

	recent, err := o.store.Recent(ctx, conversationID, topic.AnalysisWindow)
	if err != nil {
		return
	}
	texts := make([]string, 0, len(recent))
	for _, m := range recent {
		texts = append(texts, m.Content)
	}

	scores := o.topics.ScoreTopics(texts)
	next := o.topics.SuggestShift(scores, state.Participants, state.TurnCount)
	if next == "" {
		return
	}

	prompt := o.topics.FollowUpPrompt(next, state.Participants)
	msg := &store.Message{
		ConversationID: conversationID,
		Sender:         store.SenderUser,
		SenderDisplay:  "Moderator",
		Content:        prompt,
	}
	if err := o.store.Append(ctx, msg); err != nil {
		log.Warn("topic shift persistence failed", "error", err)
		return
	}

	frame := hub.MessageFrame{
		Type:           hub.FrameMessage,
		MessageID:      msg.ID.String(),
		ConversationID: conversationID,
		SenderType:     hub.SenderTypeUser,
		Sender:         store.SenderUser,
		Display:        "Moderator",
		Content:        prompt,
		Timestamp:      msg.CreatedAt.UTC().Format(time.RFC3339),
	}
	if err := o.hub.Broadcast(ctx, conversationID, frame); err != nil {
		log.Warn("topic shift broadcast failed", "error", err)
	}

	if o.metrics != nil {
		o.metrics.RecordTopicShift(ctx, next)
	}
	log.Info("topic shift injected", "topic", next)
}

// pause sleeps for d, returning false when ctx is cancelled first.
func (o *Orchestrator) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (o *Orchestrator) randDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	if o.rand == nil {
		return min + time.Duration(rand.Int64N(int64(max-min)))
	}
	o.randMu.Lock()
	defer o.randMu.Unlock()
	return min + time.Duration(o.rand.Int64N(int64(max-min)))
}
