package telegram

import (
	"context"
	"errors"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"darkhold/internal/analytics"
	"darkhold/internal/chat"
	"darkhold/internal/orchestrator"
)

const (
	helpText = "🔮 Ask me about any Marvel hero, villain, movie or comic.\n\n" +
		"/clear wipes our conversation\n/stats shows today's activity"
	deniedText  = "🚫 The Darkhold does not open for you."
	busyText    = "⏳ The Darkhold is still answering your previous question."
	clearedText = "🧹 The pages have been wiped clean."
	clearFailed = "⚠️ The pages resist. The conversation could not be fully cleared."
)

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	if !b.authSvc.IsAllowed(msg.From.ID) {
		b.log.Warn("unauthorized_access", zap.Int64("user_id", msg.From.ID), zap.String("username", msg.From.UserName))
		b.sendMessage(msg.Chat.ID, deniedText)
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if msg.Text == "" {
		return
	}

	b.log.Debug("incoming_message", zap.Int64("chat_id", msg.Chat.ID), zap.Int("len", len(msg.Text)))
	sess := b.session(ctx, msg.Chat.ID)
	switch err := sess.Submit(ctx, msg.Text); {
	case errors.Is(err, orchestrator.ErrBusy):
		b.sendMessage(msg.Chat.ID, busyText)
	case errors.Is(err, orchestrator.ErrEmptyDraft):
	case err != nil:
		b.log.Error("submit_failed", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	sess := b.session(ctx, msg.Chat.ID)
	switch msg.Command() {
	case "start":
		if len(sess.Messages()) > 0 {
			b.sendMessage(msg.Chat.ID, helpText)
		}
	case "clear":
		switch err := sess.Clear(); {
		case errors.Is(err, orchestrator.ErrBusy):
			b.sendMessage(msg.Chat.ID, busyText)
		case err != nil:
			b.sendMessage(msg.Chat.ID, clearFailed)
		default:
			b.sendMessage(msg.Chat.ID, clearedText)
		}
	case "stats":
		logs := map[string][]chat.Message{strconv.FormatInt(msg.Chat.ID, 10): sess.Messages()}
		b.sendMessage(msg.Chat.ID, analytics.AnalyzeDay(logs, time.Now().UTC()).GenerateReportSummary())
	default:
		b.sendMessage(msg.Chat.ID, helpText)
	}
}

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	id, emoji, ok := parseReactionData(cb.Data)
	if !ok || cb.Message == nil || cb.Message.Chat == nil {
		b.answerCallback(cb.ID, "")
		return
	}
	if cb.From != nil && !b.authSvc.IsAllowed(cb.From.ID) {
		b.answerCallback(cb.ID, "")
		return
	}

	sess := b.session(context.Background(), cb.Message.Chat.ID)
	updated, err := sess.AddReaction(id, emoji)
	if err != nil {
		b.log.Debug("reaction_rejected", zap.String("message_id", id), zap.Error(err))
		b.answerCallback(cb.ID, "")
		return
	}
	b.answerCallback(cb.ID, emoji)

	edit := tgbotapi.NewEditMessageReplyMarkup(cb.Message.Chat.ID, cb.Message.MessageID, reactionKeyboard(updated))
	if _, err := b.s.Send(edit); err != nil {
		b.log.Warn("reaction_markup_edit_failed", zap.Error(err))
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.s.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Debug("callback_answer_failed", zap.Error(err))
	}
}
