package telegram

import (
	"context"

	"reward_verification_service/internal/domain/business"
	domainTelegram "reward_verification_service/internal/domain/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// BusinessNotifier sends workflow notices to a business's linked Telegram chat.
type BusinessNotifier struct {
	client domainTelegram.Client
	logger *logrus.Entry
}

func NewBusinessNotifier(client domainTelegram.Client, logger *logrus.Entry) *BusinessNotifier {
	return &BusinessNotifier{client: client, logger: logger.WithField("component", "telegram_notifier")}
}

// NotifyBusiness skips businesses without a linked chat.
func (n *BusinessNotifier) NotifyBusiness(ctx context.Context, b *business.Business, text string) error {
	logCtx := n.logger.WithField("business_id", b.ID)
	if !domainTelegram.ChatLinked(b.TelegramChatID) {
		logCtx.Debug("Business has no linked Telegram chat; notice skipped")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := &telebot.SendOptions{DisableWebPagePreview: true}
	if err := n.client.SendMessage(b.TelegramChatID, domainTelegram.Truncate(text), opts); err != nil {
		logCtx.WithError(err).Error("Failed to send Telegram notice")
		return err
	}
	logCtx.Info("Telegram notice sent")
	return nil
}

// LogNotifier stands in when no bot token is configured: notices are logged, not sent.
type LogNotifier struct {
	logger *logrus.Entry
}

func NewLogNotifier(logger *logrus.Entry) *LogNotifier {
	return &LogNotifier{logger: logger.WithField("component", "log_notifier")}
}

func (n *LogNotifier) NotifyBusiness(_ context.Context, b *business.Business, text string) error {
	n.logger.WithFields(logrus.Fields{
		"business_id": b.ID,
		"business":    b.Name,
		"text":        text,
	}).Info("Notification not sent: Telegram is not configured")
	return nil
}
