// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"fmt"
	"strings"

	"reward_verification_service/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterBotCommands wires /start and /help. Businesses use /start to learn the chat id
// that support links to their account.
func RegisterBotCommands(b *telebot.Bot, adminService *app.AdminService, baseLogger *logrus.Entry) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if adminService.IsAdmin(senderID) {
			logCtx.Info("User identified as Admin")
			return c.Send(fmt.Sprintf("Hello, %s! Reward verification admin commands are ready. Use /help for the list.", c.Sender().FirstName))
		}

		return c.Send(fmt.Sprintf(
			"Hello! This bot delivers weekly verification databases, invoices and feedback downloads to businesses.\n"+
				"To receive them here, give platform support this chat id: %d",
			c.Chat().ID,
		))
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if !adminService.IsAdmin(senderID) {
			return c.Send("Notices arrive here automatically once support has linked this chat to your business. Use /start to see your chat id.")
		}

		var helpText strings.Builder
		helpText.WriteString("Admin commands:\n\n")
		helpText.WriteString("`/cycles [n]`\n - Latest verification cycles with invoice counts (default 5).\n\n")
		helpText.WriteString("`/open_invoices [n]`\n - Overdue and pending invoices.\n\n")
		helpText.WriteString("`/invoice <InvoiceID>`\n - Invoice details with a resend button.\n\n")
		helpText.WriteString("`/resend <InvoiceID>`\n - Resend the invoice notice to the business.\n\n")
		helpText.WriteString("`/help`\n - Show this message.")
		return c.Send(helpText.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}
