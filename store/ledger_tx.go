package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fluxvpn/flux-bot/types"
	"github.com/jackc/pgx/v5"
)

// ledgerTx implements types.LedgerTx on top of one open pgx transaction.
type ledgerTx struct {
	tx pgx.Tx
}

func (l *ledgerTx) GetUser(ctx context.Context, userID int64) (*types.User, error) {
	u, err := scanUser(l.tx.QueryRow(ctx, selectUserSQL+` WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrUnknownUser
		}
		return nil, err
	}
	return u, nil
}

func (l *ledgerTx) AddBalance(ctx context.Context, userID, deltaKopeks int64) (int64, error) {
	var balance int64
	err := l.tx.QueryRow(ctx, `
UPDATE users SET balance_kopeks = balance_kopeks + $2, updated_at = NOW()
WHERE user_id = $1
RETURNING balance_kopeks
`, userID, deltaKopeks).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, types.ErrUnknownUser
		}
		return 0, err
	}
	return balance, nil
}

// DeductBalance is a conditional write: the balance never goes negative even
// under concurrent deductions.
func (l *ledgerTx) DeductBalance(ctx context.Context, userID, amountKopeks int64) (int64, error) {
	var balance int64
	err := l.tx.QueryRow(ctx, `
UPDATE users SET balance_kopeks = balance_kopeks - $2, updated_at = NOW()
WHERE user_id = $1 AND balance_kopeks >= $2
RETURNING balance_kopeks
`, userID, amountKopeks).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	var exists bool
	if err := l.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, types.ErrUnknownUser
	}
	return 0, types.ErrInsufficientBalance
}

func (l *ledgerTx) MarkTrialUsed(ctx context.Context, userID int64) (bool, error) {
	tag, err := l.tx.Exec(ctx, `
UPDATE users SET trial_used = TRUE, updated_at = NOW()
WHERE user_id = $1 AND trial_used = FALSE
`, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertPayment inserts the payment row keyed by (provider, event_id).
// A terminal row is never overwritten; inserted=false means the event was
// seen before.
func (l *ledgerTx) UpsertPayment(ctx context.Context, p *types.Payment) (bool, error) {
	tag, err := l.tx.Exec(ctx, `
INSERT INTO payments (user_id, provider, event_id, amount_kopeks, currency, status, promo_code, duration_days, needs_review)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (provider, event_id) DO NOTHING
`, p.UserID, string(p.Provider), strings.TrimSpace(p.EventID), p.AmountKopeks, strings.TrimSpace(p.Currency), string(p.Status), strings.TrimSpace(p.PromoCode), p.DurationDays, p.NeedsReview)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (l *ledgerTx) MarkPaymentRefunded(ctx context.Context, provider types.Provider, eventID string) (*types.Payment, error) {
	var p types.Payment
	err := l.tx.QueryRow(ctx, `
UPDATE payments SET status = 'refunded', updated_at = NOW()
WHERE provider = $1 AND event_id = $2 AND status = 'succeeded'
RETURNING id, user_id, provider, event_id, amount_kopeks, currency, status, promo_code, duration_days, needs_review, created_at, updated_at
`, string(provider), strings.TrimSpace(eventID)).Scan(
		&p.ID, &p.UserID, &p.Provider, &p.EventID, &p.AmountKopeks, &p.Currency, &p.Status, &p.PromoCode, &p.DurationDays, &p.NeedsReview, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrUnknownPayment
		}
		return nil, err
	}
	return &p, nil
}

func (l *ledgerTx) InsertTransaction(ctx context.Context, t *types.Transaction) error {
	_, err := l.tx.Exec(ctx, `
INSERT INTO transactions (user_id, amount_kopeks, kind, reason)
VALUES ($1, $2, $3, $4)
`, t.UserID, t.AmountKopeks, string(t.Kind), strings.TrimSpace(t.Reason))
	return err
}

func (l *ledgerTx) GetSubscriptionForUpdate(ctx context.Context, userID int64) (*types.Subscription, error) {
	sub, err := scanSubscription(l.tx.QueryRow(ctx, selectSubscriptionSQL+` WHERE user_id = $1 AND status <> 'cancelled' FOR UPDATE`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

func (l *ledgerTx) SaveSubscription(ctx context.Context, sub *types.Subscription) error {
	if sub.ID == 0 {
		return l.tx.QueryRow(ctx, `
INSERT INTO subscriptions (user_id, status, expires_at, traffic_limit_mb, traffic_reset, panel_user_id, provider, auto_renew, cancelled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id
`, sub.UserID, string(sub.Status), sub.ExpiresAt, sub.TrafficLimitMB, string(sub.TrafficReset), strings.TrimSpace(sub.PanelUserID), string(sub.Provider), sub.AutoRenew, sub.CancelledAt).Scan(&sub.ID)
	}
	_, err := l.tx.Exec(ctx, `
UPDATE subscriptions SET
  status = $2,
  expires_at = $3,
  traffic_limit_mb = $4,
  traffic_reset = $5,
  panel_user_id = $6,
  provider = $7,
  auto_renew = $8,
  cancelled_at = $9,
  updated_at = NOW()
WHERE id = $1
`, sub.ID, string(sub.Status), sub.ExpiresAt, sub.TrafficLimitMB, string(sub.TrafficReset), strings.TrimSpace(sub.PanelUserID), string(sub.Provider), sub.AutoRenew, sub.CancelledAt)
	return err
}

// RedeemPromoCode is an atomic increment-if-below-cap. Under concurrent
// activations the counter can never pass max_uses.
func (l *ledgerTx) RedeemPromoCode(ctx context.Context, code string, now time.Time) (*types.PromoCode, error) {
	var pc types.PromoCode
	err := l.tx.QueryRow(ctx, `
UPDATE promo_codes SET used_count = used_count + 1
WHERE code = $1
  AND active
  AND valid_from <= $2
  AND valid_until >= $2
  AND used_count < max_uses
RETURNING id, code, bonus_days, bonus_kopeks, max_uses, used_count, valid_from, valid_until, active, created_at
`, strings.TrimSpace(code), now).Scan(&pc.ID, &pc.Code, &pc.BonusDays, &pc.BonusKopeks, &pc.MaxUses, &pc.UsedCount, &pc.ValidFrom, &pc.ValidUntil, &pc.Active, &pc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrCapExceeded
		}
		return nil, err
	}
	return &pc, nil
}

func (l *ledgerTx) EnsureReferral(ctx context.Context, referrerID, refereeID int64) error {
	_, err := l.tx.Exec(ctx, `
INSERT INTO referrals (referrer_id, referee_id)
VALUES ($1, $2)
ON CONFLICT (referee_id) DO NOTHING
`, referrerID, refereeID)
	return err
}

// MarkReferralRewarded flips the one-shot bonus flag; only the first caller
// per (referrer, referee) pair wins.
func (l *ledgerTx) MarkReferralRewarded(ctx context.Context, referrerID, refereeID int64) (bool, error) {
	tag, err := l.tx.Exec(ctx, `
UPDATE referrals SET bonus_granted = TRUE, status = 'rewarded'
WHERE referrer_id = $1 AND referee_id = $2 AND bonus_granted = FALSE
`, referrerID, refereeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
