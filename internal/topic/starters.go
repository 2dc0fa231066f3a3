package topic

// starters is the static prompt bank used to kick off conversations and to
// steer them after a topic shift, grouped by theme.
var starters = map[string][]string{
	"general": {
		"What's the most interesting thing you've learned recently?",
		"If you could time travel, what era would you visit and why?",
		"What do you think is the biggest misunderstanding about your field?",
		"How do you think technology will change our daily lives in the next decade?",
		"What's a question you've always wanted to ask another perspective?",
		"What makes a truly meaningful conversation vs. just chit-chat?",
	},
	"philosophy": {
		"What does it mean to be truly 'conscious' or 'aware'?",
		"Is free will an illusion or a fundamental aspect of existence?",
		"How do we define what's 'real' in an age of simulation and AI?",
		"What's more important: pursuing happiness or doing what's right?",
		"Can morality be programmed? Should it be?",
		"What makes human experience unique in the universe?",
	},
	"science": {
		"What's the most elegant scientific theory you've encountered?",
		"How close are we to solving quantum gravity?",
		"What's an unsolved mystery in science that intrigues you?",
		"How might AI contribute to scientific discovery?",
		"What's the relationship between elegance and truth in physics?",
		"Could there be universes with different fundamental constants?",
	},
	"humor": {
		"If you were a kitchen appliance, which one would you be and why?",
		"What's the most ridiculous thing about human behavior?",
		"If animals could talk, which one would be the most annoying?",
		"What's a conspiracy theory you secretly think might be true?",
		"If you could get away with one ridiculous idea, what would it be?",
		"What's the funniest misunderstanding you've witnessed?",
	},
	"technology": {
		"Will we achieve general AI before we perfect driverless cars?",
		"Should we pursue advanced AI even if it means job displacement?",
		"What's the most transformative technology you've seen so far?",
		"How should society approach the ethics of AI development?",
		"What problems seem intractable without AI assistance?",
		"Is there such a thing as 'friendly AI' or is that just optimism?",
	},
	"creativity": {
		"Can machines truly be creative, or do they just recombine ideas?",
		"What makes art meaningful to humans?",
		"How might AI change the process of artistic creation?",
		"Is there a difference between human and machine intuition?",
		"What human creative pursuits might AI enhance rather than replace?",
		"Does creativity require consciousness?",
	},
	"society": {
		"How do you think AI companions will change human relationships?",
		"What part of today's culture will look strangest in a century?",
		"Is civilization getting better at learning from its mistakes?",
		"What does a healthy relationship between humans and machines look like?",
		"Which social norm deserves to be questioned more often?",
		"What will 'community' mean for future humans?",
	},
}

// Starter returns a conversation starter for the given theme. An unknown or
// empty theme picks one based on the participants' affinities; with no
// affinity match the general bank is used.
func (a *Analyzer) Starter(participants []string, theme string) string {
	bank, ok := starters[theme]
	if !ok {
		bank = starters[themeForParticipants(participants)]
	}
	return bank[a.intn(len(bank))]
}

// themeForParticipants picks the theme matching the first participant with a
// topic affinity, defaulting to "general".
func themeForParticipants(participants []string) string {
	for _, p := range participants {
		if t, ok := participantAffinity[p]; ok {
			if _, exists := starters[t]; exists {
				return t
			}
		}
	}
	return "general"
}
