package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/fluxvpn/flux-bot/internal/i18n"
	"github.com/fluxvpn/flux-bot/internal/providers"
	"github.com/fluxvpn/flux-bot/types"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

func validInvoicePayload(payload string) bool {
	_, err := providers.StarsEvent(1, "precheckout", 0, "XTR", payload)
	return err == nil
}

func (bh *Handlers) HandlePreCheckout(ctx context.Context, b *bot.Bot, update *models.Update) {
	q := update.PreCheckoutQuery
	lang := i18n.FromLanguageCode(q.From.LanguageCode)

	ok := validInvoicePayload(strings.TrimSpace(q.InvoicePayload))
	_, _ = b.AnswerPreCheckoutQuery(ctx, &bot.AnswerPreCheckoutQueryParams{
		PreCheckoutQueryID: q.ID,
		OK:                 ok,
		ErrorMessage: func() string {
			if ok {
				return ""
			}
			if lang == i18n.RU {
				return "Некорректный платеж"
			}
			return "Invalid payment"
		}(),
	})
}

// HandleSuccessfulPayment feeds a Telegram Stars payment into the same
// reconciliation path as every webhook provider. The confirmation message is
// sent by the notifier after the ledger commit.
func (bh *Handlers) HandleSuccessfulPayment(ctx context.Context, b *bot.Bot, update *models.Update) {
	from := getUserFromUpdate(update)
	if from == nil {
		return
	}
	p := update.Message.SuccessfulPayment

	ev, err := providers.StarsEvent(from.ID, p.TelegramPaymentChargeID, int64(p.TotalAmount), p.Currency, p.InvoicePayload)
	if err != nil {
		bh.log.Error().Err(err).Int64("user_id", from.ID).Str("payload", p.InvoicePayload).Msg("unparseable stars payment")
		return
	}

	if err := bh.reconciler.ProcessPayment(ctx, *ev); err != nil {
		if errors.Is(err, types.ErrDuplicateEvent) || errors.Is(err, types.ErrEventInFlight) {
			return
		}
		bh.log.Error().Err(err).Int64("user_id", from.ID).Str("event_id", ev.EventID).Msg("stars payment processing failed")
	}
}
