package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fluxvpn/flux-bot/internal/i18n"
	"github.com/fluxvpn/flux-bot/internal/messages"
	"github.com/fluxvpn/flux-bot/types"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

func (bh *Handlers) HandleCommand(ctx context.Context, b *bot.Bot, update *models.Update) {
	from := getUserFromUpdate(update)
	if from == nil {
		return
	}
	chatID := getChatIDFromUpdate(update)
	text := strings.TrimSpace(update.Message.Text)
	cmd, args, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")

	switch cmd {
	case "/start":
		bh.handleStart(ctx, b, from, chatID, strings.TrimSpace(args))
	case "/buy":
		bh.handleBuy(ctx, b, from, chatID)
	case "/status":
		bh.handleStatus(ctx, b, from, chatID)
	case "/balance":
		bh.handleBalance(ctx, b, from, chatID)
	case "/gift":
		bh.handleGift(ctx, b, from, chatID, strings.TrimSpace(args))
	case "/history":
		bh.handleHistory(ctx, b, from, chatID)
	case "/promo":
		bh.handlePromo(ctx, b, from, chatID, strings.TrimSpace(args))
	default:
		lang := bh.langFor(ctx, from.ID, from.LanguageCode)
		bh.reply(ctx, b, chatID, messages.ErrorUnknownCommand(lang))
	}
}

// handleStart registers the user, binds the referral deep link if present
// ("/start ref_<referrer_id>") and starts the one-time trial.
func (bh *Handlers) handleStart(ctx context.Context, b *bot.Bot, from *models.User, chatID int64, args string) {
	lang := i18n.FromLanguageCode(from.LanguageCode)

	err := bh.ledger.UpsertUser(ctx, types.User{
		UserID:       from.ID,
		ChatID:       chatID,
		Username:     from.Username,
		FirstName:    from.FirstName,
		LanguageCode: from.LanguageCode,
	})
	if err != nil {
		bh.log.Error().Err(err).Int64("user_id", from.ID).Msg("failed to upsert user")
		bh.reply(ctx, b, chatID, messages.ErrorDefault(lang))
		return
	}

	if ref, ok := strings.CutPrefix(args, "ref_"); ok {
		referrerID, err := strconv.ParseInt(ref, 10, 64)
		if err == nil && referrerID != 0 && referrerID != from.ID {
			// First binding wins; a later deep link never rewrites it.
			if err := bh.ledger.SetReferrer(ctx, from.ID, referrerID); err != nil {
				bh.log.Warn().Err(err).Int64("user_id", from.ID).Int64("referrer_id", referrerID).Msg("referral binding skipped")
			}
		}
	}

	bh.reply(ctx, b, chatID, messages.StartWelcome(lang))

	_, err = bh.reconciler.StartTrial(ctx, from.ID)
	if err != nil {
		if !errors.Is(err, types.ErrDuplicateEvent) {
			bh.log.Error().Err(err).Int64("user_id", from.ID).Msg("failed to start trial")
		}
		return
	}
	// Trial confirmation is sent by the notifier.
}

func (bh *Handlers) handleBuy(ctx context.Context, b *bot.Bot, from *models.User, chatID int64) {
	const days = 30
	priceKopeks := bh.cfg.PlanPriceKopeks[days]
	// Stars invoices price in XTR units; the ruble price maps 1:1 onto the
	// configured Stars amount.
	_, err := b.SendInvoice(ctx, &bot.SendInvoiceParams{
		ChatID:      chatID,
		Title:       "FluxVPN subscription",
		Description: "30 days of access to all servers",
		Payload:     "sub:" + strconv.Itoa(days),
		Currency:    "XTR",
		Prices: []models.LabeledPrice{
			{Label: "30 days", Amount: int(priceKopeks / 100)},
		},
	})
	if err != nil {
		lang := bh.langFor(ctx, from.ID, from.LanguageCode)
		bh.log.Error().Err(err).Int64("user_id", from.ID).Msg("failed to send invoice")
		bh.reply(ctx, b, chatID, messages.ErrorDefault(lang))
	}
}

func (bh *Handlers) handleStatus(ctx context.Context, b *bot.Bot, from *models.User, chatID int64) {
	lang := bh.langFor(ctx, from.ID, from.LanguageCode)
	sub, err := bh.ledger.GetSubscription(ctx, from.ID)
	if err != nil {
		if errors.Is(err, types.ErrUnknownSubscription) {
			bh.reply(ctx, b, chatID, messages.NoSubscription(lang))
			return
		}
		bh.log.Error().Err(err).Int64("user_id", from.ID).Msg("failed to load subscription")
		bh.reply(ctx, b, chatID, messages.ErrorDefault(lang))
		return
	}
	bh.reply(ctx, b, chatID, messages.SubscriptionStatus(lang, string(sub.Status), sub.ExpiresAt))
}

func (bh *Handlers) handleBalance(ctx context.Context, b *bot.Bot, from *models.User, chatID int64) {
	lang := bh.langFor(ctx, from.ID, from.LanguageCode)
	user, err := bh.ledger.GetUser(ctx, from.ID)
	if err != nil {
		bh.log.Error().Err(err).Int64("user_id", from.ID).Msg("failed to load user")
		bh.reply(ctx, b, chatID, messages.ErrorDefault(lang))
		return
	}
	bh.reply(ctx, b, chatID, messages.Balance(lang, user.BalanceKopeks))
}

func (bh *Handlers) handleHistory(ctx context.Context, b *bot.Bot, from *models.User, chatID int64) {
	lang := bh.langFor(ctx, from.ID, from.LanguageCode)
	txs, err := bh.ledger.ListTransactions(ctx, from.ID, "", 10, 0)
	if err != nil {
		bh.log.Error().Err(err).Int64("user_id", from.ID).Msg("failed to load transactions")
		bh.reply(ctx, b, chatID, messages.ErrorDefault(lang))
		return
	}
	if len(txs) == 0 {
		bh.reply(ctx, b, chatID, messages.HistoryEmpty(lang))
		return
	}
	lines := make([]string, 0, len(txs)+1)
	lines = append(lines, messages.HistoryHeader(lang))
	for _, tx := range txs {
		lines = append(lines, messages.HistoryLine(tx.CreatedAt, tx.AmountKopeks, tx.Reason))
	}
	bh.reply(ctx, b, chatID, strings.Join(lines, "\n"))
}

// handlePromo checks a code without consuming a use; redemption happens on
// payment.
func (bh *Handlers) handlePromo(ctx context.Context, b *bot.Bot, from *models.User, chatID int64, args string) {
	lang := bh.langFor(ctx, from.ID, from.LanguageCode)
	code := strings.ToUpper(strings.TrimSpace(args))
	if code == "" {
		bh.reply(ctx, b, chatID, messages.PromoUsage(lang))
		return
	}
	pc, err := bh.ledger.GetPromoCode(ctx, code)
	now := time.Now().UTC()
	if err != nil || !pc.Active || pc.UsedCount >= pc.MaxUses ||
		now.Before(pc.ValidFrom) || (!pc.ValidUntil.IsZero() && now.After(pc.ValidUntil)) {
		bh.reply(ctx, b, chatID, messages.PromoInvalid(lang))
		return
	}
	bh.reply(ctx, b, chatID, messages.PromoInfo(lang, pc.Code, pc.BonusDays, pc.BonusKopeks))
}

// handleGift transfers balance to another user: /gift <user_id> <rubles>.
func (bh *Handlers) handleGift(ctx context.Context, b *bot.Bot, from *models.User, chatID int64, args string) {
	lang := bh.langFor(ctx, from.ID, from.LanguageCode)

	fields := strings.Fields(args)
	if len(fields) != 2 {
		bh.reply(ctx, b, chatID, messages.GiftUsage(lang))
		return
	}
	toUserID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || toUserID == 0 || toUserID == from.ID {
		bh.reply(ctx, b, chatID, messages.GiftUsage(lang))
		return
	}
	rubles, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || rubles <= 0 {
		bh.reply(ctx, b, chatID, messages.GiftUsage(lang))
		return
	}
	amountKopeks := int64(rubles * 100)

	err = bh.ledger.GiftBalance(ctx, from.ID, toUserID, amountKopeks, "gift from "+strconv.FormatInt(from.ID, 10))
	if err != nil {
		switch {
		case errors.Is(err, types.ErrInsufficientBalance):
			bh.reply(ctx, b, chatID, messages.InsufficientBalance(lang))
		case errors.Is(err, types.ErrUnknownUser):
			bh.reply(ctx, b, chatID, messages.GiftUsage(lang))
		default:
			bh.log.Error().Err(err).Int64("user_id", from.ID).Msg("gift transfer failed")
			bh.reply(ctx, b, chatID, messages.ErrorDefault(lang))
		}
		return
	}

	bh.reply(ctx, b, chatID, messages.GiftSent(lang, amountKopeks, toUserID))
	if to, err := bh.ledger.GetUser(ctx, toUserID); err == nil && to.ChatID != 0 {
		toLang := i18n.FromLanguageCode(to.LanguageCode)
		bh.reply(ctx, b, to.ChatID, messages.GiftReceived(toLang, amountKopeks))
	}
}
