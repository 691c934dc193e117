package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"darkhold/internal/chat"
)

// DailyStats summarizes one UTC-aligned day across all conversation logs.
type DailyStats struct {
	Date           string                  `json:"date"`
	UserMessages   int                     `json:"user_messages"`
	BotReplies     int                     `json:"bot_replies"`
	Greetings      int                     `json:"greetings"`
	ImageReplies   int                     `json:"image_replies"`
	ActiveSessions int                     `json:"active_sessions"`
	Intents        map[string]int          `json:"intents"`
	Reactions      map[string]int          `json:"reactions"`
	Sessions       map[string]SessionStats `json:"sessions"`
}

type SessionStats struct {
	Session      string `json:"session"`
	UserMessages int    `json:"user_messages"`
	BotReplies   int    `json:"bot_replies"`
	Reactions    int    `json:"reactions"`
}

// AnalyzeDay counts the messages created on day, keyed by session.
// Reactions are attributed to the day their message was created.
func AnalyzeDay(logs map[string][]chat.Message, day time.Time) *DailyStats {
	startOfDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	stats := &DailyStats{
		Date:      startOfDay.Format("2006-01-02"),
		Intents:   make(map[string]int),
		Reactions: make(map[string]int),
		Sessions:  make(map[string]SessionStats),
	}

	for session, msgs := range logs {
		ss := SessionStats{Session: session}
		for _, m := range msgs {
			if m.Timestamp.Before(startOfDay) || !m.Timestamp.Before(endOfDay) {
				continue
			}
			switch {
			case m.From == chat.FromUser:
				stats.UserMessages++
				ss.UserMessages++
			case m.IsGreeting:
				stats.Greetings++
			default:
				stats.BotReplies++
				ss.BotReplies++
				if m.HasImage {
					stats.ImageReplies++
				}
				if m.Intent != "" {
					stats.Intents[m.Intent]++
				}
				for emoji, n := range m.Reactions {
					stats.Reactions[emoji] += n
					ss.Reactions += n
				}
			}
		}
		if ss.UserMessages > 0 {
			stats.ActiveSessions++
			stats.Sessions[session] = ss
		}
	}
	return stats
}

// GenerateReportSummary renders the stats as a short plain-text report.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Darkhold activity for %s:\n\n", ds.Date)
	fmt.Fprintf(&b, "- Questions asked: %d\n", ds.UserMessages)
	fmt.Fprintf(&b, "- Replies given: %d (%d with portraits)\n", ds.BotReplies, ds.ImageReplies)
	fmt.Fprintf(&b, "- Greetings shown: %d\n", ds.Greetings)
	fmt.Fprintf(&b, "- Active conversations: %d\n", ds.ActiveSessions)

	if len(ds.Intents) > 0 {
		b.WriteString("\nReplies by intent:\n")
		for _, k := range sortedKeys(ds.Intents) {
			fmt.Fprintf(&b, "- %s: %d\n", k, ds.Intents[k])
		}
	}
	if len(ds.Reactions) > 0 {
		b.WriteString("\nReactions:\n")
		for _, k := range sortedKeys(ds.Reactions) {
			fmt.Fprintf(&b, "- %s %d\n", k, ds.Reactions[k])
		}
	}
	return b.String()
}

func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
