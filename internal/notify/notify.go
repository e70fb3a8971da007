package notify

import (
	"context"
	"time"

	"github.com/fluxvpn/flux-bot/internal/i18n"
	"github.com/fluxvpn/flux-bot/internal/messages"
	"github.com/fluxvpn/flux-bot/types"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
)

// TelegramNotifier delivers user-facing notifications through the bot. Every
// method is fire-and-forget: a delivery failure is logged, never returned, so
// reconciliation cannot stall on Telegram.
type TelegramNotifier struct {
	bot            *bot.Bot
	ledger         types.Ledger
	operatorChatID int64
	log            zerolog.Logger
}

func NewTelegramNotifier(b *bot.Bot, ledger types.Ledger, operatorChatID int64, log zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{bot: b, ledger: ledger, operatorChatID: operatorChatID, log: log}
}

func (n *TelegramNotifier) send(userID int64, render func(lang i18n.Lang) string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user, err := n.ledger.GetUser(ctx, userID)
	if err != nil {
		n.log.Warn().Err(err).Int64("user_id", userID).Msg("notification skipped, user lookup failed")
		return
	}
	lang := i18n.FromLanguageCode(user.LanguageCode)

	_, err = n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    user.ChatID,
		Text:      render(lang),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		n.log.Warn().Err(err).Int64("user_id", userID).Msg("notification delivery failed")
	}
}

func (n *TelegramNotifier) PaymentProcessed(userID int64, amountKopeks int64, until time.Time) {
	n.send(userID, func(lang i18n.Lang) string {
		return messages.PaymentProcessed(lang, amountKopeks, until)
	})
}

func (n *TelegramNotifier) TrialStarted(userID int64, until time.Time) {
	n.send(userID, func(lang i18n.Lang) string {
		return messages.TrialStarted(lang, until)
	})
}

func (n *TelegramNotifier) SubscriptionExpiring(userID int64, until time.Time) {
	n.send(userID, func(lang i18n.Lang) string {
		return messages.SubscriptionExpiring(lang, until)
	})
}

func (n *TelegramNotifier) SubscriptionExpired(userID int64) {
	n.send(userID, messages.SubscriptionExpired)
}

func (n *TelegramNotifier) RenewalFailed(userID int64) {
	n.send(userID, messages.RenewalFailed)
}

func (n *TelegramNotifier) BonusApplied(userID int64, days int, reason string) {
	n.send(userID, func(lang i18n.Lang) string {
		return messages.BonusApplied(lang, days, reason)
	})
}

func (n *TelegramNotifier) BalanceToppedUp(userID int64, amountKopeks, balanceKopeks int64) {
	n.send(userID, func(lang i18n.Lang) string {
		return messages.BalanceToppedUp(lang, amountKopeks, balanceKopeks)
	})
}

func (n *TelegramNotifier) PaymentRefunded(userID int64, amountKopeks int64) {
	n.send(userID, func(lang i18n.Lang) string {
		return messages.PaymentRefunded(lang, amountKopeks)
	})
}

func (n *TelegramNotifier) OperatorAlert(text string) {
	if n.operatorChatID == 0 {
		n.log.Warn().Str("alert", text).Msg("operator alert dropped, no operator chat configured")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.operatorChatID,
		Text:   "🛎 " + text,
	})
	if err != nil {
		n.log.Warn().Err(err).Msg("operator alert delivery failed")
	}
}
