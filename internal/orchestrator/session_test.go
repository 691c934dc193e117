package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"darkhold/internal/chat"
	"darkhold/internal/classifier"
	"darkhold/internal/history"
	"darkhold/internal/llm"
	"darkhold/internal/marvel"
	"darkhold/internal/matcher"
	"darkhold/internal/storage"
)

func TestMain(m *testing.M) {
	// genai's transport starts an opencensus stats worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type fakeLookup struct {
	mu    sync.Mutex
	ch    marvel.Character
	err   error
	names []string
	trace *[]string
}

func (f *fakeLookup) Lookup(ctx context.Context, name string) (marvel.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	if f.trace != nil {
		*f.trace = append(*f.trace, "lookup")
	}
	return f.ch, f.err
}

type fakeGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	panics  bool
	prompts []string
	trace   *[]string
	started chan struct{}
	release chan struct{}
}

func (f *fakeGenerator) Generate(ctx context.Context, p string) (llm.Result, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, p)
	if f.trace != nil {
		*f.trace = append(*f.trace, "generate")
	}
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	if f.panics {
		panic("generator exploded")
	}
	if f.err != nil {
		return llm.Result{}, f.err
	}
	return llm.Result{Text: f.text, Model: "primary"}, nil
}

type recorder struct {
	mu        sync.Mutex
	typing    []string
	committed []chat.Message
	onTyping  func()
}

func (r *recorder) Typing(partial string) {
	r.mu.Lock()
	r.typing = append(r.typing, partial)
	hook := r.onTyping
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (r *recorder) Committed(msg chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msg)
}

func (r *recorder) Typed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.typing...)
}

type firstPicker struct{}

func (firstPicker) IntN(int) int { return 0 }

type harness struct {
	kv    *storage.MemoryStore
	store *history.Store
	look  *fakeLookup
	gen   *fakeGenerator
	obs   *recorder
	sess  *Session
}

func newHarness(t *testing.T, timing Timing) *harness {
	t.Helper()
	kv := storage.NewMemoryStore()
	h := &harness{
		kv:    kv,
		store: history.NewStore(kv, "s1"),
		look:  &fakeLookup{},
		gen:   &fakeGenerator{text: "The multiverse is vast."},
		obs:   &recorder{},
	}
	m := matcher.Default()
	h.sess = New(Deps{
		Store:      h.store,
		Classifier: classifier.New(m),
		Matcher:    m,
		Lookup:     h.look,
		Generator:  h.gen,
		Observer:   h.obs,
		Picker:     firstPicker{},
	}, timing)
	t.Cleanup(h.sess.Close)
	return h
}

func noDelays() Timing { return Timing{} }

func ironMan() marvel.Character {
	return marvel.Character{
		Name:            "Iron Man",
		Description:     "Genius. Billionaire.",
		ImageURL:        "http://i.annihil.us/u/prod/marvel/i/mg/9/c0/527bb7b37ff55.jpg",
		Comics:          "2575",
		Series:          "612",
		HasAvailability: true,
	}
}

func TestSession_GreetingReplyCallsNoBackend(t *testing.T) {
	h := newHarness(t, noDelays())
	require.NoError(t, h.sess.Submit(context.Background(), "hello"))

	msgs := h.sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.FromUser, msgs[0].From)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, chat.FromBot, msgs[1].From)
	assert.Contains(t, GreetingResponses, msgs[1].Text)
	assert.Equal(t, string(classifier.Greeting), msgs[1].Intent)
	assert.Empty(t, h.look.names)
	assert.Empty(t, h.gen.prompts)
	assert.Equal(t, Idle, h.sess.State())
}

func TestSession_CharacterReplyFromLookup(t *testing.T) {
	h := newHarness(t, noDelays())
	h.look.ch = ironMan()
	require.NoError(t, h.sess.Submit(context.Background(), "tell me about tony stark"))

	assert.Equal(t, []string{"iron man"}, h.look.names)
	assert.Empty(t, h.gen.prompts)
	msgs := h.sess.Messages()
	require.Len(t, msgs, 2)
	reply := msgs[1]
	assert.True(t, reply.HasImage)
	assert.Equal(t, ironMan().ImageURL, reply.ImageURL)
	assert.Equal(t, "🦸‍♂️ Iron Man 🦸‍♂️\n\nGenius. Billionaire.\n\n📚 Comics: 2575 • 📺 Series: 612", reply.Text)
}

func TestSession_CharacterWithoutAvailabilityOmitsCounts(t *testing.T) {
	h := newHarness(t, noDelays())
	h.look.ch = marvel.Character{Name: "Thor", Description: marvel.NoDescription, ImageURL: "x.jpg"}
	require.NoError(t, h.sess.Submit(context.Background(), "who is thor"))

	reply := h.sess.Messages()[1]
	assert.Equal(t, "🦸‍♂️ Thor 🦸‍♂️\n\n"+marvel.NoDescription, reply.Text)
}

func TestSession_LookupFailureFallsBackToGenerator(t *testing.T) {
	h := newHarness(t, noDelays())
	var trace []string
	h.look.err = marvel.ErrNotFound
	h.look.trace = &trace
	h.gen.trace = &trace
	require.NoError(t, h.sess.Submit(context.Background(), "tell me about tony stark"))

	assert.Equal(t, []string{"lookup", "generate"}, trace)
	require.Len(t, h.gen.prompts, 1)
	assert.Contains(t, h.gen.prompts[0], "Current question: tell me about tony stark")
	msgs := h.sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "The multiverse is vast.", msgs[1].Text)
	assert.False(t, msgs[1].HasImage)
}

func TestSession_GeneratorFailureIsOneApology(t *testing.T) {
	h := newHarness(t, noDelays())
	h.gen.err = llm.ErrGenerationFailed
	require.NoError(t, h.sess.Submit(context.Background(), "what is the best mcu movie"))

	msgs := h.sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, DisruptedText, msgs[1].Text)
	assert.Empty(t, h.obs.Typed())
}

func TestSession_GatewayFallbackAnswersOnce(t *testing.T) {
	h := newHarness(t, noDelays())
	gen := &scriptedModels{replies: map[string]string{"fallback": "Answered by fallback."}, errs: map[string]error{"primary": errors.New("503")}}
	h.sess.deps.Generator = llm.NewGateway(gen, "primary", "fallback")
	require.NoError(t, h.sess.Submit(context.Background(), "how does magic work"))

	msgs := h.sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Answered by fallback.", msgs[1].Text)
	assert.Equal(t, []string{"primary", "fallback"}, gen.calls)
}

func TestSession_GatewayBothFailIsOneApology(t *testing.T) {
	h := newHarness(t, noDelays())
	gen := &scriptedModels{errs: map[string]error{"primary": errors.New("a"), "fallback": errors.New("b")}}
	h.sess.deps.Generator = llm.NewGateway(gen, "primary", "fallback")
	require.NoError(t, h.sess.Submit(context.Background(), "how does magic work"))

	msgs := h.sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, DisruptedText, msgs[1].Text)
	assert.Len(t, gen.calls, 2)
}

type scriptedModels struct {
	replies map[string]string
	errs    map[string]error
	calls   []string
}

func (s *scriptedModels) Generate(_ context.Context, model, _ string) (string, error) {
	s.calls = append(s.calls, model)
	if err := s.errs[model]; err != nil {
		return "", err
	}
	return s.replies[model], nil
}

func TestSession_StreamsWordsThenCommits(t *testing.T) {
	h := newHarness(t, noDelays())
	h.gen.text = "Thor is **mighty**"
	require.NoError(t, h.sess.Submit(context.Background(), "how does magic work"))

	assert.Equal(t, []string{"Thor", "Thor is", "Thor is mighty"}, h.obs.Typed())
	msgs := h.sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Thor is mighty", msgs[1].Text)

	stored, err := h.store.Load()
	require.NoError(t, err)
	require.Len(t, stored, 2, "partial text is never persisted")
	assert.Equal(t, "Thor is mighty", stored[1].Text)
}

func TestSession_CancelledStreamStillCommitsFullText(t *testing.T) {
	h := newHarness(t, noDelays())
	h.gen.text = "one two three four"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.obs.onTyping = cancel

	require.NoError(t, h.sess.Submit(ctx, "how does magic work"))
	assert.Equal(t, []string{"one"}, h.obs.Typed())
	assert.Equal(t, "one two three four", h.sess.Messages()[1].Text)
}

func TestSession_EmptyDraftRejected(t *testing.T) {
	h := newHarness(t, noDelays())
	assert.ErrorIs(t, h.sess.Submit(context.Background(), "   \n\t"), ErrEmptyDraft)
	assert.Empty(t, h.sess.Messages())
}

func TestSession_SendWhileBusyRejected(t *testing.T) {
	h := newHarness(t, noDelays())
	h.gen.started = make(chan struct{})
	h.gen.release = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.sess.Submit(context.Background(), "how does magic work") }()
	<-h.gen.started

	assert.Equal(t, Dispatching, h.sess.State())
	assert.ErrorIs(t, h.sess.Submit(context.Background(), "second"), ErrBusy)
	assert.Equal(t, "second", h.sess.Draft(), "draft stays editable while busy")
	assert.ErrorIs(t, h.sess.Clear(), ErrBusy)

	close(h.gen.release)
	require.NoError(t, <-done)
	assert.Equal(t, Idle, h.sess.State())
	assert.Len(t, h.sess.Messages(), 2)
}

func TestSession_IdenticalSendsGetDistinctIDs(t *testing.T) {
	h := newHarness(t, noDelays())
	fixed := time.UnixMilli(1700000000000)
	h.sess.deps.Now = func() time.Time { return fixed }
	require.NoError(t, h.sess.Submit(context.Background(), "hello"))
	require.NoError(t, h.sess.Submit(context.Background(), "hello"))

	seen := map[string]bool{}
	for _, m := range h.sess.Messages() {
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
	assert.Len(t, seen, 4)
}

func TestSession_PanicBecomesApology(t *testing.T) {
	h := newHarness(t, noDelays())
	h.gen.panics = true
	require.NoError(t, h.sess.Submit(context.Background(), "how does magic work"))

	msgs := h.sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, UnstableText, msgs[1].Text)
	assert.Equal(t, Idle, h.sess.State())
}

func TestSession_PersistenceFailureKeepsSessionUsable(t *testing.T) {
	h := newHarness(t, noDelays())
	require.NoError(t, h.kv.Close())
	require.NoError(t, h.sess.Submit(context.Background(), "hello"))
	assert.Len(t, h.sess.Messages(), 2)
}

func TestSession_FirstStartShowsOneGreeting(t *testing.T) {
	h := newHarness(t, noDelays())
	require.NoError(t, h.sess.Start(context.Background()))

	require.Eventually(t, func() bool { return len(h.sess.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	g := h.sess.Messages()[0]
	assert.True(t, g.IsGreeting)
	assert.Equal(t, GreetingMessages[0], g.Text)
	shown, err := h.store.GreetingShown()
	require.NoError(t, err)
	assert.True(t, shown)

	// A restart with the flag set and an emptied log stays quiet.
	require.NoError(t, h.store.Save(nil))
	again := New(Deps{Store: h.store, Classifier: classifier.New(matcher.Default()), Generator: h.gen}, noDelays())
	defer again.Close()
	require.NoError(t, again.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, again.Messages())
}

func TestSession_StartRestoresPersistedLog(t *testing.T) {
	h := newHarness(t, noDelays())
	prior := []chat.Message{chat.NewUserMessage("hi", time.Now()), chat.NewBotMessage("hello", time.Now())}
	require.NoError(t, h.store.Save(prior))
	require.NoError(t, h.sess.Start(context.Background()))

	time.Sleep(20 * time.Millisecond)
	msgs := h.sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, prior[0].ID, msgs[0].ID)
}

func TestSession_SendFlushesPendingGreetingFirst(t *testing.T) {
	timing := noDelays()
	timing.InitialGreeting = time.Hour
	timing.ClearGreeting = time.Hour
	h := newHarness(t, timing)
	require.NoError(t, h.sess.Start(context.Background()))
	require.NoError(t, h.sess.Submit(context.Background(), "hello"))

	msgs := h.sess.Messages()
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].IsGreeting)
	assert.Equal(t, chat.FromUser, msgs[1].From)
	assert.Equal(t, chat.FromBot, msgs[2].From)
	assert.False(t, msgs[2].IsGreeting)

	h.obs.mu.Lock()
	committed := len(h.obs.committed)
	h.obs.mu.Unlock()
	assert.Equal(t, 3, committed)
}

func TestSession_ClearResetsAndGreetsAgain(t *testing.T) {
	h := newHarness(t, noDelays())
	require.NoError(t, h.sess.Submit(context.Background(), "hello"))
	require.NoError(t, h.store.MarkGreetingShown())

	h.sess.timing.ClearGreeting = time.Hour
	require.NoError(t, h.sess.Clear())
	assert.Empty(t, h.sess.Messages())
	stored, err := h.store.Load()
	require.NoError(t, err)
	assert.Empty(t, stored)
	shown, err := h.store.GreetingShown()
	require.NoError(t, err)
	assert.False(t, shown)

	require.NoError(t, h.sess.Submit(context.Background(), "what is the best mcu movie"))
	msgs := h.sess.Messages()
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].IsGreeting)
	greetings := 0
	for _, m := range msgs {
		if m.IsGreeting {
			greetings++
		}
	}
	assert.Equal(t, 1, greetings)
}

func TestSession_AddReaction(t *testing.T) {
	h := newHarness(t, noDelays())
	require.NoError(t, h.sess.Submit(context.Background(), "how does magic work"))
	msgs := h.sess.Messages()
	bot := msgs[1]

	updated, err := h.sess.AddReaction(bot.ID, "🔥")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Reactions["🔥"])
	updated, err = h.sess.AddReaction(bot.ID, "🔥")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Reactions["🔥"])

	stored, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, stored[1].Reactions["🔥"])

	_, err = h.sess.AddReaction(bot.ID, "👍")
	assert.ErrorIs(t, err, ErrUnknownReaction)
	_, err = h.sess.AddReaction(msgs[0].ID, "🔥")
	assert.ErrorIs(t, err, ErrUnknownMessage)
	_, err = h.sess.AddReaction("nope", "🔥")
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestSession_GreetingTakesNoReactions(t *testing.T) {
	h := newHarness(t, noDelays())
	require.NoError(t, h.sess.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.sess.Messages()) == 1 }, time.Second, 5*time.Millisecond)

	_, err := h.sess.AddReaction(h.sess.Messages()[0].ID, "⚡")
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestSession_PromptCarriesHistoryWithoutGreetings(t *testing.T) {
	timing := noDelays()
	timing.InitialGreeting = time.Hour
	h := newHarness(t, timing)
	require.NoError(t, h.sess.Start(context.Background()))
	require.NoError(t, h.sess.Submit(context.Background(), "how does magic work"))
	require.NoError(t, h.sess.Submit(context.Background(), "and the infinity stones?"))

	require.Len(t, h.gen.prompts, 2)
	last := h.gen.prompts[1]
	assert.Contains(t, last, "User: how does magic work")
	assert.Contains(t, last, "Darkhold: The multiverse is vast.")
	assert.False(t, strings.Contains(last, "Welcome to the Darkhold Archives"))
}

func TestSession_PromptWindowEndsWithCurrentQuery(t *testing.T) {
	timing := noDelays()
	timing.InitialGreeting = time.Hour
	h := newHarness(t, timing)
	require.NoError(t, h.sess.Start(context.Background()))
	for i := 1; i <= 4; i++ {
		require.NoError(t, h.sess.Submit(context.Background(), fmt.Sprintf("how does magic work %d", i)))
	}

	require.Len(t, h.gen.prompts, 4)
	last := h.gen.prompts[3]
	assert.NotContains(t, last, "User: how does magic work 1\n")
	assert.Contains(t, last, "Recent conversation:\n"+
		"Darkhold: The multiverse is vast.\n"+
		"User: how does magic work 2\n"+
		"Darkhold: The multiverse is vast.\n"+
		"User: how does magic work 3\n"+
		"Darkhold: The multiverse is vast.\n"+
		"User: how does magic work 4\n\n"+
		"Current question: how does magic work 4\n")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "streaming", Streaming.String())
	assert.Equal(t, "state(9)", State(9).String())
}
