package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"reward_verification_service/internal/app"
	"reward_verification_service/internal/domain/payment"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const (
	defaultListSize = 5
	maxListSize     = 20

	resendCallbackPrefix = "inv_resend_"
)

// RegisterAdminHandlers registers the admin chat commands and the invoice resend button.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, baseLogger *logrus.Entry) {
	b.Handle("/cycles", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/cycles",
			"sender_id": c.Sender().ID,
		})
		n, err := listSizeArg(c.Args())
		if err != nil {
			return c.Send("Invalid format. Use: /cycles [n]")
		}

		overviews, err := adminService.RecentCycles(ctx, c.Sender().ID, n)
		if err != nil {
			return replyError(c, handlerLogger, err)
		}
		if len(overviews) == 0 {
			return c.Send("No verification cycles yet.")
		}

		var response strings.Builder
		response.WriteString("--- Verification cycles ---\n")
		for _, o := range overviews {
			response.WriteString(fmt.Sprintf("%s  %s  databases: %d, invoices: %d (open %d)\n  id: %s\n",
				o.Cycle.CycleWeek.Format("2006-01-02"),
				o.Cycle.Status,
				o.Cycle.TotalDatabases,
				o.Invoices,
				o.OpenInvoices,
				o.Cycle.ID))
		}
		return c.Send(response.String())
	})

	b.Handle("/open_invoices", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/open_invoices",
			"sender_id": c.Sender().ID,
		})
		n, err := listSizeArg(c.Args())
		if err != nil {
			return c.Send("Invalid format. Use: /open_invoices [n]")
		}

		invoices, err := adminService.OpenInvoices(ctx, c.Sender().ID, n)
		if err != nil {
			return replyError(c, handlerLogger, err)
		}
		if len(invoices) == 0 {
			return c.Send("No open invoices.")
		}
		var response strings.Builder
		response.WriteString("--- Open invoices ---\n")
		for _, inv := range invoices {
			response.WriteString(fmt.Sprintf("%s  %s  total %s  due %s\n",
				inv.ID, inv.Status, payment.FormatAmount(inv.TotalAmount), inv.DueDate.Format("2006-01-02")))
		}
		return c.Send(response.String())
	})

	b.Handle("/invoice", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/invoice",
			"sender_id": c.Sender().ID,
		})
		id, ok := invoiceIDArg(c.Args())
		if !ok {
			return c.Send("Invalid format. Use: /invoice <InvoiceID>")
		}

		inv, err := adminService.Invoice(ctx, c.Sender().ID, id)
		if err != nil {
			return replyError(c, handlerLogger.WithField("invoice_id", id), err)
		}

		text := fmt.Sprintf("Invoice %s\nStatus: %s\nVerified rewards: %d\nRewards: %s\nService fee: %s\nTotal: %s\nDue: %s",
			inv.ID, inv.Status, inv.VerifiedCount,
			payment.FormatAmount(inv.RewardAmount), payment.FormatAmount(inv.ServiceFee), payment.FormatAmount(inv.TotalAmount),
			inv.DueDate.Format("2006-01-02"))
		if inv.LastNotifiedAt != nil {
			text += "\nLast notified: " + inv.LastNotifiedAt.Format("2006-01-02 15:04")
		}
		if !inv.Status.AllowsReminder() {
			return c.Send(text)
		}
		markup := &telebot.ReplyMarkup{}
		markup.Inline(markup.Row(markup.Data("Resend notice", "resend", resendCallbackPrefix+inv.ID.String())))
		return c.Send(text, markup)
	})

	b.Handle("/resend", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/resend",
			"sender_id": c.Sender().ID,
		})
		id, ok := invoiceIDArg(c.Args())
		if !ok {
			return c.Send("Invalid format. Use: /resend <InvoiceID>")
		}
		inv, err := adminService.ResendInvoice(ctx, c.Sender().ID, id)
		if err != nil {
			return replyError(c, handlerLogger.WithField("invoice_id", id), err)
		}
		handlerLogger.WithField("invoice_id", inv.ID).Info("Invoice notice resent")
		return c.Send(fmt.Sprintf("Invoice notice for %s resent.", inv.ID))
	})

	b.Handle(telebot.OnCallback, func(c telebot.Context) error {
		// telebot prefixes button data with "\f<unique>|".
		data := c.Callback().Data
		if i := strings.LastIndex(data, "|"); i >= 0 {
			data = data[i+1:]
		}
		if !strings.HasPrefix(data, resendCallbackPrefix) {
			c.Bot().OnError(fmt.Errorf("unhandled callback data: %s", data), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Unknown action."})
		}
		id, err := uuid.Parse(strings.TrimPrefix(data, resendCallbackPrefix))
		if err != nil {
			c.Bot().OnError(fmt.Errorf("invalid invoice id in callback %q: %w", data, err), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Invalid invoice id."})
		}

		if _, err := adminService.ResendInvoice(ctx, c.Sender().ID, id); err != nil {
			baseLogger.WithError(err).WithFields(logrus.Fields{"invoice_id": id, "sender_id": c.Sender().ID}).Warn("Resend from button failed")
			return c.Respond(&telebot.CallbackResponse{Text: userMessage(err)})
		}
		return c.Respond(&telebot.CallbackResponse{Text: "Notice resent."})
	})
}

func listSizeArg(args []string) (int, error) {
	if len(args) == 0 {
		return defaultListSize, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid list size %q", args[0])
	}
	if n > maxListSize {
		n = maxListSize
	}
	return n, nil
}

func invoiceIDArg(args []string) (uuid.UUID, bool) {
	if len(args) != 1 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(args[0])
	return id, err == nil
}

// userMessage turns a service error into chat text. Internal details stay in the log.
func userMessage(err error) string {
	if errors.Is(err, app.ErrAdminNotAuthorized) {
		return "Error: you are not allowed to run this command."
	}
	if appErr, ok := app.AsError(err); ok {
		return appErr.Message
	}
	return "Something went wrong. Please try again later."
}

func replyError(c telebot.Context, logCtx *logrus.Entry, err error) error {
	logWithError := logCtx.WithError(err)
	if errors.Is(err, app.ErrAdminNotAuthorized) {
		logWithError.Warn("Unauthorized access attempt")
	} else if _, ok := app.AsError(err); ok {
		logWithError.Info("Command rejected")
	} else {
		logWithError.Error("Command failed")
	}
	return c.Send(userMessage(err))
}
