package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"darkhold/internal/chat"
	"darkhold/internal/classifier"
	"darkhold/internal/llm"
	"darkhold/internal/marvel"
	"darkhold/internal/metrics"
	"darkhold/internal/prompt"
)

type State int

const (
	Idle State = iota
	Sending
	Dispatching
	Streaming
	Committing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Dispatching:
		return "dispatching"
	case Streaming:
		return "streaming"
	case Committing:
		return "committing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrEmptyDraft      = errors.New("draft is empty")
	ErrBusy            = errors.New("a reply is still in flight")
	ErrUnknownMessage  = errors.New("no reactable message with that id")
	ErrUnknownReaction = errors.New("reaction is not in the allowed set")
)

type Classifier interface {
	Classify(text string) classifier.Intent
}

type CharacterMatcher interface {
	Match(text string) (string, bool)
}

type CharacterLookup interface {
	Lookup(ctx context.Context, name string) (marvel.Character, error)
}

type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (llm.Result, error)
}

// ConversationStore persists one session's log and greeting flag.
// *history.Store implements it.
type ConversationStore interface {
	Load() ([]chat.Message, error)
	Save(msgs []chat.Message) error
	Clear() error
	GreetingShown() (bool, error)
	MarkGreetingShown() error
}

// Observer receives presentation updates. Typing carries the transient
// partial reply and is never persisted; Committed fires once per message
// appended to the log, in log order.
type Observer interface {
	Typing(partial string)
	Committed(msg chat.Message)
}

type Deps struct {
	Store      ConversationStore
	Classifier Classifier
	Matcher    CharacterMatcher
	// Lookup may be nil, in which case character queries go straight to
	// the generator.
	Lookup    CharacterLookup
	Generator TextGenerator
	Observer  Observer
	Picker    Picker
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type Timing struct {
	InitialGreeting time.Duration
	ClearGreeting   time.Duration
	Greeting        time.Duration
	CharacterReply  time.Duration
	StreamWord      time.Duration
	// Backend bounds the character lookup. Zero disables the bound.
	Backend time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		InitialGreeting: time.Second,
		ClearGreeting:   800 * time.Millisecond,
		Greeting:        time.Second,
		CharacterReply:  1200 * time.Millisecond,
		StreamWord:      40 * time.Millisecond,
		Backend:         30 * time.Second,
	}
}

// Session owns one conversation: the draft, the log and the single reply in
// flight. All methods are safe for concurrent use.
type Session struct {
	deps   Deps
	timing Timing
	log    *zap.Logger

	mu       sync.Mutex
	state    State
	draft    string
	messages []chat.Message
	started  bool
	closed   bool
	greet    *time.Timer
	greetGen uint64
}

func New(deps Deps, timing Timing) *Session {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Picker == nil {
		deps.Picker = globalPicker{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Session{deps: deps, timing: timing, log: deps.Logger, messages: []chat.Message{}}
}

// Start loads the persisted log. On a first-ever load with an empty log it
// schedules the onboarding greeting. Calling Start again is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	msgs, err := s.deps.Store.Load()
	if err != nil {
		s.log.Warn("history_load_failed", zap.Error(err))
		return fmt.Errorf("load conversation: %w", err)
	}
	s.messages = msgs

	shown, err := s.deps.Store.GreetingShown()
	if err != nil {
		s.log.Warn("greeting_flag_read_failed", zap.Error(err))
		return fmt.Errorf("load conversation: %w", err)
	}
	if !shown && len(s.messages) == 0 {
		s.scheduleGreetingLocked(s.timing.InitialGreeting)
	}
	return nil
}

// Close cancels a pending greeting. The session must not be used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cancelGreetingLocked()
}

func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the log.
func (s *Session) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chat.CloneAll(s.messages)
}

// Submit replaces the draft with text and sends it.
func (s *Session) Submit(ctx context.Context, text string) error {
	s.SetDraft(text)
	return s.Send(ctx)
}

// Send commits the draft as a user message and blocks until exactly one bot
// reply has been appended. Backend failures become apology replies, so the
// only errors are ErrEmptyDraft and ErrBusy.
func (s *Session) Send(ctx context.Context) error {
	started := s.deps.Now()

	s.mu.Lock()
	text := strings.TrimSpace(s.draft)
	if text == "" {
		s.mu.Unlock()
		return ErrEmptyDraft
	}
	if s.state != Idle {
		s.mu.Unlock()
		return ErrBusy
	}
	var committed []chat.Message
	if g, ok := s.flushGreetingLocked(); ok {
		committed = append(committed, g)
	}
	user := chat.NewUserMessage(text, s.deps.Now())
	s.appendLocked(user)
	history := chat.CloneAll(s.messages)
	committed = append(committed, user)
	s.draft = ""
	s.state = Sending
	s.mu.Unlock()
	s.notify(committed...)

	defer s.setState(Idle)
	reply := s.respond(ctx, text, history)

	s.mu.Lock()
	s.state = Committing
	s.appendLocked(reply)
	s.mu.Unlock()
	s.notify(reply)

	s.deps.Metrics.Turn(s.deps.Now().Sub(started))
	return nil
}

// Clear empties the log and the greeting flag, then schedules a fresh
// greeting. A clear while a reply is in flight is refused with ErrBusy.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ErrBusy
	}
	s.cancelGreetingLocked()
	s.messages = []chat.Message{}
	err := s.deps.Store.Clear()
	if err != nil {
		s.log.Error("history_clear_failed", zap.Error(err))
	}
	if !s.closed {
		s.scheduleGreetingLocked(s.timing.ClearGreeting)
	}
	if err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

// AddReaction increments the count for emoji on a bot reply and returns the
// updated message. Greetings and user messages do not take reactions.
func (s *Session) AddReaction(id, emoji string) (chat.Message, error) {
	if !chat.IsReaction(emoji) {
		return chat.Message{}, ErrUnknownReaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		m := &s.messages[i]
		if m.ID != id {
			continue
		}
		if m.From != chat.FromBot || m.IsGreeting {
			break
		}
		if m.Reactions == nil {
			m.Reactions = make(map[string]int)
		}
		m.Reactions[emoji]++
		s.persistLocked()
		return m.Clone(), nil
	}
	return chat.Message{}, ErrUnknownMessage
}

func (s *Session) respond(ctx context.Context, text string, history []chat.Message) (reply chat.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("dispatch_panic", zap.Any("panic", r), zap.Stack("stack"))
			reply = s.apology(UnstableText)
		}
	}()

	s.setState(Dispatching)
	intent := s.deps.Classifier.Classify(text)
	s.deps.Metrics.Intent(string(intent))
	s.log.Debug("intent_classified", zap.String("intent", string(intent)))

	switch intent {
	case classifier.Greeting:
		line := pick(s.deps.Picker, GreetingResponses)
		sleep(ctx, s.timing.Greeting)
		return s.botMessage(line, intent)
	case classifier.Character:
		if msg, ok := s.characterReply(ctx, text); ok {
			return msg
		}
	}
	return s.generatedReply(ctx, text, history, intent)
}

func (s *Session) characterReply(ctx context.Context, text string) (chat.Message, bool) {
	if s.deps.Lookup == nil || s.deps.Matcher == nil {
		return chat.Message{}, false
	}
	name, ok := s.deps.Matcher.Match(text)
	if !ok {
		return chat.Message{}, false
	}

	lctx := ctx
	if s.timing.Backend > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, s.timing.Backend)
		defer cancel()
	}
	ch, err := s.deps.Lookup.Lookup(lctx, name)
	if err != nil {
		s.log.Warn("character_lookup_failed", zap.String("name", name), zap.Error(err))
		s.deps.Metrics.Backend(metrics.BackendMarvel, metrics.OutcomeError)
		return chat.Message{}, false
	}
	s.deps.Metrics.Backend(metrics.BackendMarvel, metrics.OutcomeOK)

	sleep(ctx, s.timing.CharacterReply)
	msg := s.botMessage(formatCharacter(ch), classifier.Character)
	msg.ImageURL = ch.ImageURL
	msg.HasImage = ch.ImageURL != ""
	return msg, true
}

func (s *Session) generatedReply(ctx context.Context, text string, history []chat.Message, intent classifier.Intent) chat.Message {
	res, err := s.deps.Generator.Generate(ctx, prompt.Build(history, text))
	if err != nil {
		s.log.Error("generation_failed", zap.String("intent", string(intent)), zap.Error(err))
		return s.apology(DisruptedText)
	}
	if res.Fallback {
		s.log.Info("generation_used_fallback", zap.String("model", res.Model))
	}

	s.setState(Streaming)
	for partial := range NewStream(res.Text, s.timing.StreamWord).Chunks(ctx) {
		if s.deps.Observer != nil {
			s.deps.Observer.Typing(partial)
		}
	}
	return s.botMessage(res.Text, intent)
}

func (s *Session) botMessage(text string, intent classifier.Intent) chat.Message {
	msg := chat.NewBotMessage(text, s.deps.Now())
	msg.Intent = string(intent)
	return msg
}

func (s *Session) apology(text string) chat.Message {
	s.deps.Metrics.Apology()
	return chat.NewBotMessage(text, s.deps.Now())
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) notify(msgs ...chat.Message) {
	if s.deps.Observer == nil {
		return
	}
	for _, m := range msgs {
		s.deps.Observer.Committed(m.Clone())
	}
}

func (s *Session) appendLocked(msg chat.Message) {
	s.messages = append(s.messages, msg)
	s.persistLocked()
}

// persistLocked writes the whole log. Failures leave the in-memory log
// authoritative for the rest of the process.
func (s *Session) persistLocked() {
	if err := s.deps.Store.Save(s.messages); err != nil {
		s.log.Warn("history_save_failed", zap.Error(err))
	}
}

func (s *Session) scheduleGreetingLocked(delay time.Duration) {
	s.greetGen++
	gen := s.greetGen
	s.greet = time.AfterFunc(delay, func() { s.fireGreeting(gen) })
}

func (s *Session) cancelGreetingLocked() {
	if s.greet != nil {
		s.greet.Stop()
		s.greet = nil
	}
	s.greetGen++
}

func (s *Session) fireGreeting(gen uint64) {
	s.mu.Lock()
	if s.closed || s.greet == nil || gen != s.greetGen {
		s.mu.Unlock()
		return
	}
	s.greet = nil
	msg := s.appendGreetingLocked()
	s.mu.Unlock()
	s.notify(msg)
}

// flushGreetingLocked emits a scheduled greeting immediately so that it
// precedes the user message that raced it.
func (s *Session) flushGreetingLocked() (chat.Message, bool) {
	if s.greet == nil {
		return chat.Message{}, false
	}
	s.cancelGreetingLocked()
	return s.appendGreetingLocked(), true
}

func (s *Session) appendGreetingLocked() chat.Message {
	msg := chat.NewBotMessage(pick(s.deps.Picker, GreetingMessages), s.deps.Now())
	msg.IsGreeting = true
	s.appendLocked(msg)
	if err := s.deps.Store.MarkGreetingShown(); err != nil {
		s.log.Warn("greeting_flag_save_failed", zap.Error(err))
	}
	return msg
}
