package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"darkhold/internal/chat"
)

const (
	reactionPrefix = "r|"
	captionLimit   = 1024
)

// chatView renders one session into a Telegram chat. The streamed partial
// reply lives in a single placeholder message that is edited in place, at
// most as often as the limiter allows, and replaced by the committed text.
type chatView struct {
	s       sender
	chatID  int64
	log     *zap.Logger
	limiter *rate.Limiter

	mu          sync.Mutex
	placeholder int
}

func newChatView(s sender, chatID int64, log *zap.Logger, editsPerSecond float64) *chatView {
	return &chatView{
		s:       s,
		chatID:  chatID,
		log:     log.With(zap.Int64("chat_id", chatID)),
		limiter: rate.NewLimiter(rate.Limit(editsPerSecond), 1),
	}
}

func (v *chatView) Typing(partial string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.placeholder == 0 {
		sent, err := v.s.Send(tgbotapi.NewMessage(v.chatID, partial))
		if err != nil {
			v.log.Warn("typing_send_failed", zap.Error(err))
			return
		}
		v.placeholder = sent.MessageID
		return
	}
	if !v.limiter.Allow() {
		return
	}
	if _, err := v.s.Send(tgbotapi.NewEditMessageText(v.chatID, v.placeholder, partial)); err != nil {
		v.log.Debug("typing_edit_failed", zap.Error(err))
	}
}

func (v *chatView) Committed(msg chat.Message) {
	if msg.From == chat.FromUser {
		if _, err := v.s.Request(tgbotapi.NewChatAction(v.chatID, tgbotapi.ChatTyping)); err != nil {
			v.log.Debug("chat_action_failed", zap.Error(err))
		}
		return
	}

	v.mu.Lock()
	placeholder := v.placeholder
	v.placeholder = 0
	v.mu.Unlock()

	var kb *tgbotapi.InlineKeyboardMarkup
	if !msg.IsGreeting {
		k := reactionKeyboard(msg)
		kb = &k
	}

	switch {
	case msg.HasImage:
		v.sendPhoto(msg, kb)
	case placeholder != 0:
		edit := tgbotapi.NewEditMessageText(v.chatID, placeholder, msg.Text)
		edit.ReplyMarkup = kb
		if _, err := v.s.Send(edit); err != nil {
			v.log.Warn("reply_edit_failed", zap.Error(err))
		}
	default:
		out := tgbotapi.NewMessage(v.chatID, msg.Text)
		if kb != nil {
			out.ReplyMarkup = *kb
		}
		if _, err := v.s.Send(out); err != nil {
			v.log.Warn("reply_send_failed", zap.Error(err))
		}
	}
}

func (v *chatView) sendPhoto(msg chat.Message, kb *tgbotapi.InlineKeyboardMarkup) {
	photo := tgbotapi.NewPhoto(v.chatID, tgbotapi.FileURL(msg.ImageURL))
	fits := utf8.RuneCountInString(msg.Text) <= captionLimit
	if fits {
		photo.Caption = msg.Text
		if kb != nil {
			photo.ReplyMarkup = *kb
		}
	}
	if _, err := v.s.Send(photo); err != nil {
		v.log.Warn("photo_send_failed", zap.String("url", msg.ImageURL), zap.Error(err))
		fits = false
	}
	if fits {
		return
	}
	out := tgbotapi.NewMessage(v.chatID, msg.Text)
	if kb != nil {
		out.ReplyMarkup = *kb
	}
	if _, err := v.s.Send(out); err != nil {
		v.log.Warn("reply_send_failed", zap.Error(err))
	}
}

func reactionKeyboard(msg chat.Message) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(chat.Reactions))
	for i, emoji := range chat.Reactions {
		label := emoji
		if n := msg.Reactions[emoji]; n > 0 {
			label = fmt.Sprintf("%s %d", emoji, n)
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, reactionData(msg.ID, i)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func reactionData(id string, idx int) string {
	return reactionPrefix + id + "|" + strconv.Itoa(idx)
}

func parseReactionData(data string) (id, emoji string, ok bool) {
	rest, found := strings.CutPrefix(data, reactionPrefix)
	if !found {
		return "", "", false
	}
	sep := strings.LastIndexByte(rest, '|')
	if sep <= 0 {
		return "", "", false
	}
	idx, err := strconv.Atoi(rest[sep+1:])
	if err != nil || idx < 0 || idx >= len(chat.Reactions) {
		return "", "", false
	}
	return rest[:sep], chat.Reactions[idx], true
}
