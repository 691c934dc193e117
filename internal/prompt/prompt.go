package prompt

import (
	"regexp"
	"strconv"
	"strings"

	"darkhold/internal/chat"
)

// ContextWindow is how many trailing log entries are quoted in the prompt.
const ContextWindow = 6

const persona = "Darkhold"

const preamble = "You are Darkhold, a mystical Marvel AI assistant with deep knowledge of Marvel comics, movies, and characters. " +
	"You speak in a mystical, wise tone with occasional dramatic flair. You have access to all Marvel knowledge up to 2023.\n\n"

var rules = []string{
	"NEVER say you don't know something - always provide an answer even if speculative",
	"Never ask clarifying questions unless absolutely necessary",
	"Maintain a confident, knowledgeable tone",
	"Use Marvel-themed language and references",
	"If unsure, make an educated guess and indicate it's your interpretation",
}

const closing = "Respond naturally as Darkhold, considering the conversation context. " +
	"Keep responses conversational and engaging, not just informational. " +
	"Use emojis sparingly but appropriately. " +
	"If asked about non-Marvel topics, relate them to Marvel concepts when possible."

// Focus adds a topic directive when the query names a high-priority character.
type Focus struct {
	Pattern   *regexp.Regexp
	Directive string
}

var Focuses = []Focus{
	{
		Pattern: regexp.MustCompile(`(?i)\biron\s*man\b|\btony\s*stark\b|\bshellhead\b|\barmored\s*avenger\b`),
		Directive: "Focus specifically on Iron Man (Tony Stark): suit models, tech, story arcs, MCU appearances, " +
			"notable comic issues, allies, enemies, and character development. " +
			"Provide concise, authoritative answers with relevant dates and sources where possible.",
	},
}

// Build assembles the instruction payload for the generative backend from the
// tail of the conversation log and the current query.
func Build(history []chat.Message, query string) string {
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("IMPORTANT RULES:\n")
	for i, r := range rules {
		b.WriteString(strconv.Itoa(i+1) + ". " + r + "\n")
	}
	b.WriteString("\n")

	recent := history
	if len(recent) > ContextWindow {
		recent = recent[len(recent)-ContextWindow:]
	}
	if len(recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range recent {
			switch {
			case m.From == chat.FromUser:
				b.WriteString("User: " + m.Text + "\n")
			case m.From == chat.FromBot && !m.IsGreeting:
				b.WriteString(persona + ": " + chat.FormatText(m.Text) + "\n")
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("Current question: " + query + "\n\n")
	for _, f := range Focuses {
		if f.Pattern.MatchString(query) {
			b.WriteString(f.Directive + "\n\n")
		}
	}
	b.WriteString(closing)
	return b.String()
}
