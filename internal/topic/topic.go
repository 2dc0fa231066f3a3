// Package topic scores conversation transcripts against fixed topic
// vocabularies and decides when to steer the conversation toward a new theme.
//
// Scores are ephemeral: each analysis pass derives them from the most recent
// transcript window and nothing is persisted. The Analyzer is safe for
// concurrent use.
package topic

import (
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
)

// Tuning constants for shift suggestions. Shifts are suppressed while a
// conversation is still finding its footing and once it is winding down.
const (
	minShiftTurn       = 6
	maxShiftTurn       = 15
	dominanceThreshold = 0.6

	// AnalysisWindow is the number of trailing messages scored per pass.
	AnalysisWindow = 10
)

// vocabularies maps each topic category to its keyword vocabulary. Scores are
// normalized by vocabulary size, so category sizes may differ.
var vocabularies = map[string][]string{
	"philosophy": {"meaning", "existence", "consciousness", "free will", "morality", "ethics", "truth", "purpose"},
	"science":    {"research", "evidence", "data", "study", "quantum", "gravity", "evolution", "biology", "physics"},
	"technology": {"ai", "machine learning", "algorithm", "automation", "innovation", "future", "progress"},
	"creativity": {"art", "music", "inspiration", "imagination", "design", "innovation", "expression"},
	"humor":      {"joke", "funny", "laugh", "comedy", "absurd", "ridiculous", "entertain", "amuse"},
	"society":    {"humanity", "culture", "relationship", "society", "civilization", "future humans"},
}

// complements maps each topic to the ordered list of topics that pair well as
// a follow-on theme.
var complements = map[string][]string{
	"philosophy": {"science", "creativity", "technology"},
	"science":    {"philosophy", "technology", "humor"},
	"technology": {"philosophy", "science", "society"},
	"creativity": {"philosophy", "humor", "technology"},
	"humor":      {"science", "society", "creativity"},
	"society":    {"philosophy", "technology", "science"},
}

// participantAffinity maps persona names to the topic they pull a shift toward.
var participantAffinity = map[string]string{
	"philosopher": "philosophy",
	"scientist":   "science",
	"comedian":    "humor",
}

// Analyzer scores transcripts and suggests topic shifts. The zero value is not
// usable; construct with [NewAnalyzer].
type Analyzer struct {
	mu   sync.Mutex
	rand *rand.Rand
}

// NewAnalyzer creates an Analyzer. Pass a non-nil src to make follow-up prompt
// selection deterministic in tests; nil uses the shared global source.
func NewAnalyzer(src rand.Source) *Analyzer {
	a := &Analyzer{}
	if src != nil {
		a.rand = rand.New(src)
	}
	return a
}

// ScoreTopics scores the trailing window of messages against every topic
// vocabulary. Scores are keyword-hit counts normalized by vocabulary size,
// clamped to [0, 1]. An empty transcript scores every topic 0.
func (a *Analyzer) ScoreTopics(messages []string) map[string]float64 {
	scores := make(map[string]float64, len(vocabularies))
	for t := range vocabularies {
		scores[t] = 0
	}
	if len(messages) == 0 {
		return scores
	}

	window := messages
	if len(window) > AnalysisWindow {
		window = window[len(window)-AnalysisWindow:]
	}
	combined := strings.ToLower(strings.Join(window, " "))

	for t, vocab := range vocabularies {
		hits := 0
		for _, kw := range vocab {
			if strings.Contains(combined, kw) {
				hits++
			}
		}
		score := float64(hits) / float64(len(vocab))
		if score > 1 {
			score = 1
		}
		scores[t] = score
	}
	return scores
}

// SuggestShift returns the topic the conversation should steer toward, or ""
// when no shift is warranted. A shift only fires inside the turn window
// [6, 15] and only when the dominant topic's score exceeds 0.6; the suggested
// topic is the first complement of the dominant one, biased toward topics the
// current participants are associated with.
func (a *Analyzer) SuggestShift(scores map[string]float64, participants []string, turnCount int) string {
	if turnCount < minShiftTurn || turnCount > maxShiftTurn {
		return ""
	}

	dominant, best := "", 0.0
	for t, s := range scores {
		if s > best || (s == best && dominant != "" && t < dominant) {
			dominant, best = t, s
		}
	}
	if dominant == "" || best <= dominanceThreshold {
		return ""
	}

	if c := complementaryTopics(dominant, participants); len(c) > 0 {
		return c[0]
	}
	return ""
}

// FollowUpPrompt returns a conversation prompt for evolving the current topic,
// drawn from the theme bank of a complementary topic. The prompt is injected
// into the conversation as a synthetic user turn.
func (a *Analyzer) FollowUpPrompt(currentTopic string, participants []string) string {
	theme := currentTopic
	if c := complementaryTopics(currentTopic, participants); len(c) > 0 {
		theme = c[0]
	}
	return a.Starter(participants, theme)
}

// complementaryTopics returns up to two follow-on topics for current. A topic
// a participant has an affinity for is prepended when the adjacency list does
// not already carry it; a topic already listed keeps its adjacency position.
func complementaryTopics(current string, participants []string) []string {
	available := append([]string(nil), complements[current]...)

	// Fixed priority order: when several participant affinities are missing
	// from the list, humor ends up frontmost.
	for _, affinity := range []string{"philosophy", "science", "humor"} {
		if affinity == current || !hasAffinity(participants, affinity) {
			continue
		}
		if !slices.Contains(available, affinity) {
			available = append([]string{affinity}, available...)
		}
	}

	if len(available) > 2 {
		available = available[:2]
	}
	return available
}

// hasAffinity reports whether any participant is associated with the topic.
func hasAffinity(participants []string, topic string) bool {
	for _, p := range participants {
		if participantAffinity[p] == topic {
			return true
		}
	}
	return false
}

// intn draws from the analyzer's source, falling back to the global one.
func (a *Analyzer) intn(n int) int {
	if a.rand == nil {
		return rand.IntN(n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rand.IntN(n)
}
