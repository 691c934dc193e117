package orchestrator

import (
	"context"
	"iter"
	"strings"
	"time"

	"darkhold/internal/chat"
)

// Stream reveals an already complete reply one word at a time.
type Stream struct {
	words []string
	delay time.Duration
}

func NewStream(text string, delay time.Duration) Stream {
	return Stream{words: strings.Fields(text), delay: delay}
}

func (s Stream) Len() int { return len(s.words) }

// Chunks yields the formatted text revealed so far, one word longer each
// step, pausing between words. Every call starts over from the first word.
// Iteration ends early when ctx is done or the consumer stops.
func (s Stream) Chunks(ctx context.Context) iter.Seq[string] {
	return func(yield func(string) bool) {
		var b strings.Builder
		for i, w := range s.words {
			if ctx.Err() != nil {
				return
			}
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(w)
			if !yield(chat.FormatText(b.String())) {
				return
			}
			if i < len(s.words)-1 && !sleep(ctx, s.delay) {
				return
			}
		}
	}
}

// sleep waits for d and reports whether it was not interrupted by ctx.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
