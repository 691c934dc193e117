package chat

import (
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Sender string

const (
	FromUser Sender = "user"
	FromBot  Sender = "bot"
)

// Message is a single transcript entry. Messages are only ever appended to a
// log; the ID stays stable for the lifetime of the message and is the target
// of reaction updates.
type Message struct {
	ID         string         `json:"id"`
	From       Sender         `json:"from"`
	Text       string         `json:"text"`
	Timestamp  time.Time      `json:"timestamp"`
	HasImage   bool           `json:"hasImage,omitempty"`
	ImageURL   string         `json:"imageUrl,omitempty"`
	IsGreeting bool           `json:"isGreeting,omitempty"`
	Reactions  map[string]int `json:"reactions,omitempty"`
	Intent     string         `json:"intent,omitempty"`
}

// Reactions is the fixed set of emoji a bot reply can collect.
var Reactions = []string{"⚡", "🛡️", "🕷️", "💥", "🔥", "❤️"}

func IsReaction(emoji string) bool {
	for _, r := range Reactions {
		if r == emoji {
			return true
		}
	}
	return false
}

// NewID returns an identifier made of the creation time in milliseconds and a
// random suffix, so two messages created in the same millisecond still differ.
func NewID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()
}

func NewUserMessage(text string, now time.Time) Message {
	return Message{ID: NewID(now), From: FromUser, Text: text, Timestamp: now}
}

// NewBotMessage builds a bot reply with its text already cleaned of markdown.
func NewBotMessage(text string, now time.Time) Message {
	return Message{ID: NewID(now), From: FromBot, Text: FormatText(text), Timestamp: now}
}

// Clone returns a deep copy, so callers cannot mutate a log through it.
func (m Message) Clone() Message {
	if m.Reactions != nil {
		r := make(map[string]int, len(m.Reactions))
		for k, v := range m.Reactions {
			r[k] = v
		}
		m.Reactions = r
	}
	return m
}

func CloneAll(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

var (
	boldRe   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicRe = regexp.MustCompile(`\*(.*?)\*`)
	headerRe = regexp.MustCompile(`#{1,6}\s?`)
	codeRe   = regexp.MustCompile("`{1,3}(.*?)`{1,3}")
)

// FormatText strips markdown emphasis, header and code markers.
func FormatText(text string) string {
	if text == "" {
		return ""
	}
	text = boldRe.ReplaceAllString(text, "$1")
	text = italicRe.ReplaceAllString(text, "$1")
	text = headerRe.ReplaceAllString(text, "")
	text = codeRe.ReplaceAllString(text, "$1")
	return text
}
