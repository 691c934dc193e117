package telegram

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"darkhold/internal/auth"
	"darkhold/internal/orchestrator"
)

// SessionFactory builds the conversation session for a chat. The observer
// must be wired into the session's Deps.
type SessionFactory func(chatID int64, obs orchestrator.Observer) *orchestrator.Session

type Bot struct {
	api *tgbotapi.BotAPI
	s   sender
	log *zap.Logger

	authSvc        *auth.Service
	newSession     SessionFactory
	editsPerSecond float64

	mu       sync.Mutex
	sessions map[int64]*orchestrator.Session
	wg       sync.WaitGroup
}

func New(botToken string, log *zap.Logger, authSvc *auth.Service, factory SessionFactory, editsPerSecond float64) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	b := newBot(botAPISender{api: api}, log, authSvc, factory, editsPerSecond)
	b.api = api
	return b, nil
}

func newBot(s sender, log *zap.Logger, authSvc *auth.Service, factory SessionFactory, editsPerSecond float64) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	if editsPerSecond <= 0 {
		editsPerSecond = 1
	}
	return &Bot{
		s:              s,
		log:            log,
		authSvc:        authSvc,
		newSession:     factory,
		editsPerSecond: editsPerSecond,
		sessions:       make(map[int64]*orchestrator.Session),
	}
}

// Start polls for updates until ctx is done. Each update is handled on its
// own goroutine, so a second message from a chat with a reply in flight is
// refused rather than queued.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	b.log.Info("bot_started", zap.String("username", b.api.Self.UserName))
	for update := range updates {
		b.dispatch(ctx, update)
	}
	b.wg.Wait()
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		msg := update.Message
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleIncomingMessage(ctx, msg)
		}()
	case update.CallbackQuery != nil:
		b.handleCallback(update.CallbackQuery)
	}
}

// Close releases every session's pending timers.
func (b *Bot) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sess := range b.sessions {
		sess.Close()
		delete(b.sessions, id)
	}
}

// Notify sends text to every allowlisted user. Open access does not add
// recipients.
func (b *Bot) Notify(text string) {
	users := b.authSvc.List()
	if len(users) == 0 {
		b.log.Warn("report_no_recipients", zap.Bool("open_access", b.authSvc.Open()))
		return
	}
	for _, u := range users {
		b.sendMessage(u.ID, text)
	}
}

// session returns the chat's session, creating and starting it on first use.
func (b *Bot) session(ctx context.Context, chatID int64) *orchestrator.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sess, ok := b.sessions[chatID]; ok {
		return sess
	}
	view := newChatView(b.s, chatID, b.log, b.editsPerSecond)
	sess := b.newSession(chatID, view)
	if err := sess.Start(ctx); err != nil {
		b.log.Warn("session_start_failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	b.sessions[chatID] = sess
	return sess
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.s.Send(msg); err != nil {
		b.log.Warn("send_failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
