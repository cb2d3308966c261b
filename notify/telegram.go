package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramProvider sends messages through the Telegram Bot API.
type TelegramProvider struct {
	api *tgbotapi.BotAPI
}

// NewTelegramProvider wraps an authenticated bot client.
func NewTelegramProvider(api *tgbotapi.BotAPI) *TelegramProvider {
	return &TelegramProvider{api: api}
}

// Send delivers text to a single chat. Link previews are disabled so the
// booking URL does not expand into a page snapshot.
func (p *TelegramProvider) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := p.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}
