package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"crmsync/internal/models"
)

// TelegramSender is satisfied by *tgbotapi.BotAPI.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramAlerter struct {
	Bot    TelegramSender
	ChatID int64
}

// NewTelegramAlerter logs the bot in, which checks the token.
func NewTelegramAlerter(token string, chatID int64) (*TelegramAlerter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return &TelegramAlerter{Bot: bot, ChatID: chatID}, nil
}

func (a *TelegramAlerter) DeadLetter(_ context.Context, e *models.OutboxEntry) error {
	if a.ChatID == 0 {
		return nil
	}
	msg := tgbotapi.NewMessage(a.ChatID, "⚠️ "+FormatDeadLetter(e))
	msg.DisableWebPagePreview = true
	if _, err := a.Bot.Send(msg); err != nil {
		return fmt.Errorf("telegram sendMessage failed: %w", err)
	}
	return nil
}
