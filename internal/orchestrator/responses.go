package orchestrator

import (
	"fmt"
	"math/rand/v2"

	"darkhold/internal/marvel"
)

// GreetingMessages are unsolicited onboarding lines shown on a fresh log.
var GreetingMessages = []string{
	"🔮 Welcome to the Darkhold Archives 🔮\n\nI am your mystical guide through the Marvel multiverse. Ask me about any hero, villain, movie, or cosmic secret!\n\nWhat mysteries shall we uncover?",
	"📜 The Darkhold awakens... 📜\n\nI contain forbidden knowledge of the Marvel universe. Seek answers about heroes, villains, or hidden truths.\n\nWhat knowledge do you desire?",
	"🌌 The Book of Sins opens... 🌌\n\nI am the Darkhold, keeper of Marvel's deepest secrets. Ask me anything about the multiverse and its inhabitants.",
	"⚡ By the Vishanti! ⚡\n\nThe Darkhold responds to your presence. I hold knowledge of all things Marvel - heroes, villains, and cosmic events.\n\nWhat would you know?",
}

// GreetingResponses answer a user's greeting without calling any backend.
var GreetingResponses = []string{
	"Greetings, seeker of knowledge. What Marvel mysteries can I unveil for you today?",
	"Hello, fellow explorer of the multiverse. How may I assist you with Marvel's secrets?",
	"Salutations! The Darkhold pulses with energy at your presence. What would you like to know about the Marvel universe?",
	"The ancient pages stir... Ask your question, and I shall reveal what I know of Marvel's vast tapestry.",
	"By the Hoary Hosts of Hoggoth! A new reader approaches. What knowledge do you seek from the Darkhold today?",
}

const (
	// DisruptedText replaces a reply when generation failed on every model.
	DisruptedText = "⚠️ The mystical energies are disrupted. Please try your question again."
	// UnstableText replaces a reply when dispatch failed unexpectedly.
	UnstableText = "⚠️ The mystical energies are unstable... Please try your question again."
)

// Picker chooses an index in [0, n). *rand.Rand from math/rand/v2 satisfies it.
type Picker interface {
	IntN(n int) int
}

type globalPicker struct{}

func (globalPicker) IntN(n int) int { return rand.IntN(n) }

func pick(p Picker, lines []string) string {
	return lines[p.IntN(len(lines))]
}

func formatCharacter(ch marvel.Character) string {
	out := fmt.Sprintf("🦸‍♂️ %s 🦸‍♂️\n\n%s", ch.Name, ch.Description)
	if ch.HasAvailability {
		out += fmt.Sprintf("\n\n📚 Comics: %s • 📺 Series: %s", ch.Comics, ch.Series)
	}
	return out
}
