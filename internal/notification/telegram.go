package notification

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Alerter posts short operational messages to administrators.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter sends admin alerts to a single Telegram chat.
type TelegramAlerter struct {
	bot    botSender
	chatID int64
}

// NewTelegramAlerter authenticates the bot token against the Telegram API.
func NewTelegramAlerter(token string, chatID int64) (*TelegramAlerter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramAlerter{bot: bot, chatID: chatID}, nil
}

// Alert implements Alerter.
func (a *TelegramAlerter) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(a.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := a.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
