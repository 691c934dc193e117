package classifier

import (
	"regexp"
	"strings"
)

type Intent string

const (
	Greeting      Intent = "greeting"
	Character     Intent = "character"
	Movies        Intent = "movies"
	Comics        Intent = "comics"
	GeneralMarvel Intent = "general_marvel"
	GeneralChat   Intent = "general_chat"
)

// Intents lists every intent in classification priority order.
var Intents = []Intent{Greeting, Character, Movies, Comics, GeneralMarvel, GeneralChat}

// CharacterMatcher resolves free text to a canonical character name.
type CharacterMatcher interface {
	Match(text string) (string, bool)
}

var greetingRe = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|greetings|sup|what's up)\b`)

var keywordRules = []struct {
	intent   Intent
	keywords []string
}{
	{Movies, []string{"movie", "film", "mcu", "cinema", "upcoming", "release", "trailer"}},
	{Comics, []string{"comic", "comics", "issue", "series", "storyline", "writer"}},
	{GeneralMarvel, []string{"marvel", "superhero", "hero", "villain", "power", "ability"}},
}

type Classifier struct {
	matcher CharacterMatcher
}

func New(m CharacterMatcher) *Classifier {
	return &Classifier{matcher: m}
}

// Classify maps text to an intent. It never fails; unmatched text is
// general chat. Rules are checked in priority order, so a greeting that also
// names a character is still a greeting.
func (c *Classifier) Classify(text string) Intent {
	if greetingRe.MatchString(text) {
		return Greeting
	}
	if c.matcher != nil {
		if _, ok := c.matcher.Match(text); ok {
			return Character
		}
	}
	lower := strings.ToLower(text)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.intent
			}
		}
	}
	return GeneralChat
}
