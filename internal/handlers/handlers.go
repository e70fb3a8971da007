package handlers

import (
	"context"

	"github.com/fluxvpn/flux-bot/internal/config"
	"github.com/fluxvpn/flux-bot/internal/i18n"
	"github.com/fluxvpn/flux-bot/internal/messages"
	"github.com/fluxvpn/flux-bot/internal/reconcile"
	"github.com/fluxvpn/flux-bot/types"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
)

type Handlers struct {
	cfg        config.Config
	ledger     types.Ledger
	reconciler *reconcile.Reconciler
	log        zerolog.Logger
}

func NewHandlers(cfg config.Config, ledger types.Ledger, rec *reconcile.Reconciler, log zerolog.Logger) *Handlers {
	return &Handlers{cfg: cfg, ledger: ledger, reconciler: rec, log: log}
}

func (bh *Handlers) MainHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}
	switch {
	case update.PreCheckoutQuery != nil:
		bh.HandlePreCheckout(ctx, b, update)
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		bh.HandleSuccessfulPayment(ctx, b, update)
	case update.Message != nil && update.Message.Text != "":
		bh.HandleCommand(ctx, b, update)
	}
}

func getChatIDFromUpdate(update *models.Update) int64 {
	if update == nil {
		return 0
	}
	if update.Message != nil && update.Message.Chat.ID != 0 {
		return update.Message.Chat.ID
	}
	if update.CallbackQuery != nil && update.CallbackQuery.Message.Message != nil {
		return update.CallbackQuery.Message.Message.Chat.ID
	}
	return 0
}

func getUserFromUpdate(update *models.Update) *models.User {
	if update == nil {
		return nil
	}
	if update.Message != nil && update.Message.From != nil {
		return update.Message.From
	}
	if update.PreCheckoutQuery != nil {
		return update.PreCheckoutQuery.From
	}
	return nil
}

func (bh *Handlers) langFor(ctx context.Context, userID int64, fallback string) i18n.Lang {
	user, err := bh.ledger.GetUser(ctx, userID)
	if err == nil && user.LanguageCode != "" {
		return i18n.FromLanguageCode(user.LanguageCode)
	}
	return i18n.FromLanguageCode(fallback)
}

func (bh *Handlers) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	if chatID == 0 {
		return
	}
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		bh.log.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to send reply")
	}
}
