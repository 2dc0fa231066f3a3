package persona

import (
	"strings"

	"github.com/colloquyhq/colloquy/pkg/provider/chat"
)

// MemoryStyle selects how a persona's conversation context is shaped before
// generation. Different personas retain different subsets and orderings of the
// transcript; this is a characterization device, not a token-budget mechanism.
type MemoryStyle string

const (
	// MemoryDefault keeps the opening starter message plus the most recent
	// window.
	MemoryDefault MemoryStyle = "default"

	// MemoryKeywordFiltered keeps the starter, middle messages touching
	// philosophical themes, and the recent window. Suits contemplative
	// personas that call back to earlier threads.
	MemoryKeywordFiltered MemoryStyle = "keyword_filtered"

	// MemoryRecent keeps only the freshest messages for timing-sensitive
	// personas, plus the starter when it sets something up.
	MemoryRecent MemoryStyle = "recent"

	// MemoryFactual keeps the starter, messages carrying factual claims, and
	// the recent window, for personas that validate or correct prior claims.
	MemoryFactual MemoryStyle = "factual"
)

var philosophicalKeywords = []string{
	"meaning", "existence", "conscious", "free will", "morality", "ethics",
	"reality", "truth", "purpose", "human nature", "mind", "soul",
}

var setupKeywords = []string{
	"joke", "funny", "laugh", "ridiculous", "absurd", "weird",
	"prefer", "instead", "rather", "kitchen appliance",
}

var factualKeywords = []string{
	"research", "study", "evidence", "data", "fact", "prove",
	"scientifically", "according to", "study shows", "facts show",
}

// ShapeContext applies style to the transcript and returns the retained
// messages in order. The input must not contain system messages; the caller
// prepends the persona's system prompt afterwards.
func ShapeContext(messages []chat.Message, style MemoryStyle) []chat.Message {
	switch style {
	case MemoryKeywordFiltered:
		return shapeKeywordFiltered(messages)
	case MemoryRecent:
		return shapeRecent(messages)
	case MemoryFactual:
		return shapeFactual(messages)
	default:
		return shapeDefault(messages)
	}
}

// shapeDefault keeps the starter message and the last 9 messages.
func shapeDefault(messages []chat.Message) []chat.Message {
	if len(messages) <= 10 {
		return append([]chat.Message(nil), messages...)
	}
	shaped := make([]chat.Message, 0, 10)
	shaped = append(shaped, messages[0])
	shaped = append(shaped, messages[len(messages)-9:]...)
	return shaped
}

// shapeKeywordFiltered keeps the starter, up to 3 thematically relevant middle
// messages, and the last 6, deduplicated and capped at 12.
func shapeKeywordFiltered(messages []chat.Message) []chat.Message {
	if len(messages) <= 5 {
		return append([]chat.Message(nil), messages...)
	}

	shaped := []chat.Message{messages[0]}

	var relevant []chat.Message
	middle := messages[1:]
	if len(middle) > 4 {
		middle = middle[:len(middle)-4]
	}
	for _, m := range middle {
		if containsAny(m.Content, philosophicalKeywords) {
			relevant = append(relevant, m)
		}
	}
	if len(relevant) > 3 {
		relevant = relevant[len(relevant)-3:]
	}
	shaped = append(shaped, relevant...)

	recent := messages
	if len(recent) > 6 {
		recent = recent[len(recent)-6:]
	}
	shaped = append(shaped, recent...)

	return dedupe(shaped, 12)
}

// shapeRecent keeps the last 8 messages, prepending the starter when it sets
// up humor.
func shapeRecent(messages []chat.Message) []chat.Message {
	if len(messages) < 3 {
		return append([]chat.Message(nil), messages...)
	}

	shaped := messages
	if len(shaped) > 8 {
		shaped = shaped[len(shaped)-8:]
	}
	out := append([]chat.Message(nil), shaped...)

	if containsAny(messages[0].Content, setupKeywords) && messages[0] != out[0] {
		out = append([]chat.Message{messages[0]}, out...)
	}
	return out
}

// shapeFactual keeps the starter, up to 3 messages carrying factual claims,
// and the last 4, deduplicated and capped at 10.
func shapeFactual(messages []chat.Message) []chat.Message {
	if len(messages) <= 3 {
		return append([]chat.Message(nil), messages...)
	}

	shaped := []chat.Message{messages[0]}

	var claims []chat.Message
	for _, m := range messages[1:] {
		if containsAny(m.Content, factualKeywords) {
			claims = append(claims, m)
		}
	}
	if len(claims) > 3 {
		claims = claims[len(claims)-3:]
	}
	shaped = append(shaped, claims...)

	recent := messages
	if len(recent) > 4 {
		recent = recent[len(recent)-4:]
	}
	shaped = append(shaped, recent...)

	return dedupe(shaped, 10)
}

// containsAny reports whether content contains any keyword, case-insensitively.
func containsAny(content string, keywords []string) bool {
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// dedupe removes messages with duplicate content, preserving first-seen order,
// and caps the result at limit entries.
func dedupe(messages []chat.Message, limit int) []chat.Message {
	seen := make(map[string]struct{}, len(messages))
	out := make([]chat.Message, 0, len(messages))
	for _, m := range messages {
		if _, ok := seen[m.Content]; ok {
			continue
		}
		seen[m.Content] = struct{}{}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out
}
