// Package notify alerts an operator about terminal pipeline failures.
// Alerts are fire-and-forget: a failed alert is logged and dropped,
// never surfaced into the pipeline.
package notify

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram sends alerts to a fixed operator chat. The bot is send-only;
// no update polling.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	logger.Info("telegram notifier ready", "bot", bot.Self.UserName, "chat_id", chatID)
	return &Telegram{bot: bot, chatID: chatID, logger: logger}, nil
}

func (t *Telegram) Alert(ctx context.Context, text string) {
	go func() {
		msg := tgbotapi.NewMessage(t.chatID, text)
		if _, err := t.bot.Send(msg); err != nil {
			t.logger.Warn("operator alert not delivered", "error", err)
		}
	}()
}

// Nop is the notifier used when operator alerts are disabled.
type Nop struct{}

func (Nop) Alert(context.Context, string) {}
