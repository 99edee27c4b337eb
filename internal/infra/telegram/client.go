// internal/infra/telegram/client.go
package telegram

import (
	"gopkg.in/telebot.v3"
)

// TelebotAdapter sends business notices through a telebot.v3 bot.
type TelebotAdapter struct {
	bot      *telebot.Bot
	defaults telebot.SendOptions
}

// NewTelebotAdapter sends plain text with link previews off, so signed download URLs
// are not fetched by Telegram's unfurler.
func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{
		bot:      b,
		defaults: telebot.SendOptions{DisableWebPagePreview: true},
	}
}

// SendMessage posts text to a chat id. Business chats may be groups, not users.
func (tba *TelebotAdapter) SendMessage(chatID int64, text string, options *telebot.SendOptions) error {
	opts := tba.defaults
	if options != nil {
		opts = *options
	}
	_, err := tba.bot.Send(telebot.ChatID(chatID), text, &opts)
	return err
}
