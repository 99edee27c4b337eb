package telegram

import (
	"unicode/utf8"

	"gopkg.in/telebot.v3"
)

// MaxMessageLength is the Telegram limit for one text message, in characters.
const MaxMessageLength = 4096

// Client sends text messages to Telegram chats. Business chats may be groups,
// so recipients are chat ids rather than users.
type Client interface {
	SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error
}

// ChatLinked reports whether a business has connected a chat. Zero means not linked.
func ChatLinked(chatID int64) bool {
	return chatID != 0
}

// Truncate cuts text to MaxMessageLength characters, ending with an ellipsis when cut.
func Truncate(text string) string {
	if utf8.RuneCountInString(text) <= MaxMessageLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxMessageLength-1]) + "…"
}
