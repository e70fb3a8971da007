package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxvpn/flux-bot/internal/config"
	"github.com/fluxvpn/flux-bot/types"
	"github.com/rs/zerolog"
)

// BonusEngine computes and applies referral and promo-code bonuses inside
// the same transaction as the triggering payment. A bonus that cannot be
// applied (cap reached, already granted) never fails the payment.
type BonusEngine struct {
	referrerDaysPerMonth int
	refereeDaysPerMonth  int
	oneBonusPerReferee   bool
	log                  zerolog.Logger
}

func NewBonusEngine(cfg config.Config, log zerolog.Logger) *BonusEngine {
	return &BonusEngine{
		referrerDaysPerMonth: cfg.ReferrerBonusDaysPerMonth,
		refereeDaysPerMonth:  cfg.RefereeBonusDaysPerMonth,
		oneBonusPerReferee:   cfg.OneBonusPerReferee,
		log:                  log,
	}
}

// BonusGrant describes one applied bonus, for post-commit notifications.
type BonusGrant struct {
	UserID int64
	Days   int
	Kopeks int64
	Reason string
}

// bonusDays scales a per-month bonus by the purchased duration.
func bonusDays(perMonth, durationDays int) int {
	if perMonth <= 0 || durationDays <= 0 {
		return 0
	}
	months := (durationDays + 29) / 30
	return perMonth * months
}

// Apply grants the promo-code bonus to the buyer and the referral bonuses to
// buyer and referrer. The buyer's subscription row is already locked by the
// caller; the referrer's row is locked here.
func (b *BonusEngine) Apply(ctx context.Context, tx types.LedgerTx, sm *StateMachine, buyer *types.User, sub *types.Subscription, ev types.PaymentEvent, now time.Time) ([]BonusGrant, error) {
	grants := make([]BonusGrant, 0, 3)

	if ev.PromoCode != "" {
		grant, err := b.applyPromo(ctx, tx, sm, buyer, sub, ev.PromoCode, now)
		if err != nil {
			return grants, err
		}
		if grant != nil {
			grants = append(grants, *grant)
		}
	}

	if buyer.ReferrerID != nil {
		refGrants, err := b.applyReferral(ctx, tx, sm, buyer, sub, ev, now)
		if err != nil {
			return grants, err
		}
		grants = append(grants, refGrants...)
	}
	return grants, nil
}

func (b *BonusEngine) applyPromo(ctx context.Context, tx types.LedgerTx, sm *StateMachine, buyer *types.User, sub *types.Subscription, code string, now time.Time) (*BonusGrant, error) {
	pc, err := tx.RedeemPromoCode(ctx, code, now)
	if err != nil {
		if errors.Is(err, types.ErrCapExceeded) {
			b.log.Warn().Str("code", code).Int64("user_id", buyer.UserID).Msg("promo code not applied")
			return nil, nil
		}
		return nil, err
	}

	grant := BonusGrant{UserID: buyer.UserID, Reason: fmt.Sprintf("promo code %s", pc.Code)}
	if pc.BonusDays > 0 && sub != nil {
		sm.ExtendBonus(sub, now, pc.BonusDays)
		grant.Days = pc.BonusDays
	}
	// Day bonuses never touch the balance, so they leave no transaction;
	// only a money bonus is part of the balance fold.
	if pc.BonusKopeks > 0 {
		if _, err := tx.AddBalance(ctx, buyer.UserID, pc.BonusKopeks); err != nil {
			return nil, err
		}
		if err := tx.InsertTransaction(ctx, &types.Transaction{
			UserID:       buyer.UserID,
			AmountKopeks: pc.BonusKopeks,
			Kind:         types.KindBalanceAdd,
			Reason:       grant.Reason,
		}); err != nil {
			return nil, err
		}
		grant.Kopeks = pc.BonusKopeks
	}
	return &grant, nil
}

func (b *BonusEngine) applyReferral(ctx context.Context, tx types.LedgerTx, sm *StateMachine, buyer *types.User, sub *types.Subscription, ev types.PaymentEvent, now time.Time) ([]BonusGrant, error) {
	referrerID := *buyer.ReferrerID

	if b.oneBonusPerReferee {
		granted, err := tx.MarkReferralRewarded(ctx, referrerID, buyer.UserID)
		if err != nil {
			return nil, err
		}
		if !granted {
			return nil, nil
		}
	}

	grants := make([]BonusGrant, 0, 2)

	refDays := bonusDays(b.referrerDaysPerMonth, ev.DurationDays)
	if refDays > 0 {
		refSub, err := tx.GetSubscriptionForUpdate(ctx, referrerID)
		if err != nil {
			return nil, err
		}
		if refSub != nil {
			sm.ExtendBonus(refSub, now, refDays)
			if err := tx.SaveSubscription(ctx, refSub); err != nil {
				return nil, err
			}
			reason := fmt.Sprintf("referral bonus for inviting %d", buyer.UserID)
			grants = append(grants, BonusGrant{UserID: referrerID, Days: refDays, Reason: reason})
		} else {
			b.log.Info().Int64("referrer_id", referrerID).Msg("referrer has no open subscription, bonus skipped")
		}
	}

	refereeDays := bonusDays(b.refereeDaysPerMonth, ev.DurationDays)
	if refereeDays > 0 && sub != nil {
		sm.ExtendBonus(sub, now, refereeDays)
		grants = append(grants, BonusGrant{UserID: buyer.UserID, Days: refereeDays, Reason: "referral welcome bonus"})
	}
	return grants, nil
}
