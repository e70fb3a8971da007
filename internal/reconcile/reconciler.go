package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxvpn/flux-bot/internal/config"
	"github.com/fluxvpn/flux-bot/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reconciler turns verified, deduplicated provider and panel events into
// exactly-once ledger mutations. Signature verification and idempotency
// marking happen before the ledger transaction opens; panel sync and
// notifications happen after commit as best-effort side effects.
type Reconciler struct {
	cfg      config.Config
	ledger   types.Ledger
	dedup    types.DedupStore
	syncer   types.PanelSyncer
	notifier types.Notifier
	sm       *StateMachine
	bonus    *BonusEngine
	log      zerolog.Logger
}

func NewReconciler(cfg config.Config, ledger types.Ledger, dedup types.DedupStore, syncer types.PanelSyncer, notifier types.Notifier, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		ledger:   ledger,
		dedup:    dedup,
		syncer:   syncer,
		notifier: notifier,
		sm:       NewStateMachine(cfg),
		bonus:    NewBonusEngine(cfg, log),
		log:      log,
	}
}

// outcome accumulates the post-commit side effects of one event.
type outcome struct {
	deltas []types.SubscriptionDelta
	notify []func(n types.Notifier)
}

func (o *outcome) emit(r *Reconciler) {
	for _, d := range o.deltas {
		r.syncer.SyncAsync(d)
	}
	for _, fn := range o.notify {
		fn(r.notifier)
	}
}

// IsFatal reports whether retrying the event can never succeed. Fatal events
// are acknowledged to the provider so its retry loop stops.
func IsFatal(err error) bool {
	return errors.Is(err, types.ErrUnknownUser) ||
		errors.Is(err, types.ErrUnknownSubscription) ||
		errors.Is(err, types.ErrUnknownPayment) ||
		errors.Is(err, types.ErrMalformedEvent)
}

// ProcessPayment handles one verified payment-provider event end to end.
func (r *Reconciler) ProcessPayment(ctx context.Context, ev types.PaymentEvent) error {
	return r.guarded(ctx, ev.Provider, ev.EventID, func(ctx context.Context) (*outcome, error) {
		return r.applyPaymentEvent(ctx, ev)
	})
}

// ProcessPanelEvent handles one verified panel lifecycle event end to end.
func (r *Reconciler) ProcessPanelEvent(ctx context.Context, ev types.PanelEvent) error {
	return r.guarded(ctx, types.ProviderPanel, ev.EventID, func(ctx context.Context) (*outcome, error) {
		return r.applyPanelEvent(ctx, ev)
	})
}

// guarded wraps event processing in the idempotency guard: acquire before
// any side effect, complete only after the ledger commit, release on
// transient failure so the provider's retry can reprocess safely.
func (r *Reconciler) guarded(ctx context.Context, provider types.Provider, eventID string, process func(ctx context.Context) (*outcome, error)) error {
	status, err := r.dedup.Acquire(ctx, provider, eventID)
	if err != nil {
		return fmt.Errorf("idempotency guard: %w", err)
	}
	switch status {
	case types.DedupCompleted:
		return types.ErrDuplicateEvent
	case types.DedupInFlight:
		return types.ErrEventInFlight
	}

	out, err := process(ctx)
	if err != nil {
		if errors.Is(err, types.ErrDuplicateEvent) || IsFatal(err) {
			// Retrying cannot change the result; stop the provider's retries.
			if cErr := r.dedup.Complete(ctx, provider, eventID); cErr != nil {
				r.log.Warn().Err(cErr).Str("provider", string(provider)).Str("event_id", eventID).Msg("failed to complete dedup key")
			}
			return err
		}
		if rErr := r.dedup.Release(ctx, provider, eventID); rErr != nil {
			r.log.Warn().Err(rErr).Str("provider", string(provider)).Str("event_id", eventID).Msg("failed to release dedup key")
		}
		return err
	}

	if err := r.dedup.Complete(ctx, provider, eventID); err != nil {
		// The ledger commit is durable; the payments unique key is the
		// backstop if the marker is lost and the provider replays.
		r.log.Warn().Err(err).Str("provider", string(provider)).Str("event_id", eventID).Msg("failed to complete dedup key")
	}
	out.emit(r)
	return nil
}

func (r *Reconciler) applyPaymentEvent(ctx context.Context, ev types.PaymentEvent) (*outcome, error) {
	now := time.Now().UTC()
	out := &outcome{}

	err := r.ledger.InTx(ctx, func(tx types.LedgerTx) error {
		switch ev.Kind {
		case types.EventRefund:
			return r.applyRefund(ctx, tx, ev, out)
		case types.EventCancellation:
			return r.applyProviderCancellation(ctx, tx, ev, now, out)
		}

		user, err := tx.GetUser(ctx, ev.UserID)
		if err != nil {
			return err
		}

		needsReview := false
		if ev.Kind == types.EventPurchase && ev.Currency == "RUB" {
			expected := r.cfg.PlanPriceKopeks[ev.DurationDays]
			if expected > 0 && ev.AmountKopeks != expected {
				// Observed policy: the user is not punished for a provider
				// rounding artifact, the payment is flagged for review and
				// the subscription still activates.
				needsReview = true
				r.log.Warn().
					Str("provider", string(ev.Provider)).
					Str("event_id", ev.EventID).
					Int64("declared", ev.AmountKopeks).
					Int64("expected", expected).
					Msg("amount mismatch, payment flagged for review")
				out.notify = append(out.notify, func(n types.Notifier) {
					n.OperatorAlert(fmt.Sprintf("amount mismatch: %s/%s declared=%d expected=%d", ev.Provider, ev.EventID, ev.AmountKopeks, expected))
				})
			}
		}

		inserted, err := tx.UpsertPayment(ctx, &types.Payment{
			UserID:       user.UserID,
			Provider:     ev.Provider,
			EventID:      ev.EventID,
			AmountKopeks: ev.AmountKopeks,
			Currency:     ev.Currency,
			Status:       types.PaymentSucceeded,
			PromoCode:    ev.PromoCode,
			DurationDays: ev.DurationDays,
			NeedsReview:  needsReview,
		})
		if err != nil {
			return err
		}
		if !inserted {
			// Database backstop behind the guard: the row already exists,
			// nothing more to do.
			return types.ErrDuplicateEvent
		}

		switch ev.Kind {
		case types.EventTopUp:
			balance, err := tx.AddBalance(ctx, user.UserID, ev.AmountKopeks)
			if err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, &types.Transaction{
				UserID:       user.UserID,
				AmountKopeks: ev.AmountKopeks,
				Kind:         types.KindBalanceAdd,
				Reason:       fmt.Sprintf("top-up via %s", ev.Provider),
			}); err != nil {
				return err
			}
			amount := ev.AmountKopeks
			out.notify = append(out.notify, func(n types.Notifier) {
				n.BalanceToppedUp(user.UserID, amount, balance)
			})
			return nil

		case types.EventPurchase:
			return r.applyPurchase(ctx, tx, user, ev, now, out)
		}
		return types.ErrMalformedEvent
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reconciler) applyPurchase(ctx context.Context, tx types.LedgerTx, user *types.User, ev types.PaymentEvent, now time.Time, out *outcome) error {
	if ev.DurationDays <= 0 {
		return types.ErrMalformedEvent
	}

	// The provider purchase flows through the balance ledger so the cached
	// balance always equals the fold over transactions.
	if err := tx.InsertTransaction(ctx, &types.Transaction{
		UserID:       user.UserID,
		AmountKopeks: ev.AmountKopeks,
		Kind:         types.KindBalanceAdd,
		Reason:       fmt.Sprintf("payment received via %s (%s)", ev.Provider, ev.EventID),
	}); err != nil {
		return err
	}
	if err := tx.InsertTransaction(ctx, &types.Transaction{
		UserID:       user.UserID,
		AmountKopeks: -ev.AmountKopeks,
		Kind:         types.KindSubscriptionPurchase,
		Reason:       fmt.Sprintf("subscription purchase, %d days", ev.DurationDays),
	}); err != nil {
		return err
	}

	sub, err := tx.GetSubscriptionForUpdate(ctx, user.UserID)
	if err != nil {
		return err
	}
	syncType := types.SyncUpdate
	if sub == nil {
		syncType = types.SyncCreate
	}
	sub = r.sm.PlanActivation(sub, user.UserID, now, ev.DurationDays, ev.Provider, ev.AutoRenew)

	grants, err := r.bonus.Apply(ctx, tx, r.sm, user, sub, ev, now)
	if err != nil {
		return err
	}
	if err := tx.SaveSubscription(ctx, sub); err != nil {
		return err
	}

	out.deltas = append(out.deltas, r.sm.Delta(sub, syncType))
	amount, until := ev.AmountKopeks, sub.ExpiresAt
	out.notify = append(out.notify, func(n types.Notifier) {
		n.PaymentProcessed(user.UserID, amount, until)
	})
	for _, g := range grants {
		g := g
		out.notify = append(out.notify, func(n types.Notifier) {
			n.BonusApplied(g.UserID, g.Days, g.Reason)
		})
	}
	return nil
}

func (r *Reconciler) applyRefund(ctx context.Context, tx types.LedgerTx, ev types.PaymentEvent, out *outcome) error {
	if ev.RefEventID == "" {
		return types.ErrMalformedEvent
	}
	p, err := tx.MarkPaymentRefunded(ctx, ev.Provider, ev.RefEventID)
	if err != nil {
		return err
	}
	if err := tx.InsertTransaction(ctx, &types.Transaction{
		UserID:       p.UserID,
		AmountKopeks: -p.AmountKopeks,
		Kind:         types.KindRefund,
		Reason:       fmt.Sprintf("refund of %s payment %s", p.Provider, p.EventID),
	}); err != nil {
		return err
	}
	out.notify = append(out.notify, func(n types.Notifier) {
		n.PaymentRefunded(p.UserID, p.AmountKopeks)
		n.OperatorAlert(fmt.Sprintf("refund processed: %s/%s user=%d amount=%d", p.Provider, p.EventID, p.UserID, p.AmountKopeks))
	})
	return nil
}

func (r *Reconciler) applyProviderCancellation(ctx context.Context, tx types.LedgerTx, ev types.PaymentEvent, now time.Time, out *outcome) error {
	sub, err := tx.GetSubscriptionForUpdate(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if sub == nil {
		return types.ErrUnknownSubscription
	}
	plan := r.sm.PlanPanelEvent(sub, types.PanelCancelled)
	return r.applyPlan(ctx, tx, sub, plan, now, out)
}

func (r *Reconciler) applyPanelEvent(ctx context.Context, ev types.PanelEvent) (*outcome, error) {
	now := time.Now().UTC()
	out := &outcome{}

	known, err := r.ledger.GetSubscriptionByPanelID(ctx, ev.PanelUserID)
	if err != nil {
		return nil, err
	}

	err = r.ledger.InTx(ctx, func(tx types.LedgerTx) error {
		sub, err := tx.GetSubscriptionForUpdate(ctx, known.UserID)
		if err != nil {
			return err
		}
		if sub == nil {
			return types.ErrUnknownSubscription
		}

		plan := r.sm.PlanPanelEvent(sub, ev.Name)
		if plan.AttemptRenewal {
			renewed, err := r.attemptRenewal(ctx, tx, sub, now, out)
			if err != nil {
				return err
			}
			if renewed {
				return nil
			}
			// Failed renewal at expiry degrades to the normal expiry path.
		}
		return r.applyPlan(ctx, tx, sub, plan, now, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reconciler) applyPlan(ctx context.Context, tx types.LedgerTx, sub *types.Subscription, plan PanelPlan, now time.Time, out *outcome) error {
	userID := sub.UserID
	switch plan.Action {
	case ActionMarkExpiring:
		r.sm.ApplyExpiring(sub)
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		out.deltas = append(out.deltas, r.sm.Delta(sub, types.SyncUpdate))
	case ActionExpire:
		r.sm.ApplyExpired(sub)
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		out.deltas = append(out.deltas, r.sm.Delta(sub, types.SyncDisable))
		out.notify = append(out.notify, func(n types.Notifier) {
			n.SubscriptionExpired(userID)
		})
	case ActionGrace:
		r.sm.ApplyGrace(sub, now)
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		out.deltas = append(out.deltas, r.sm.Delta(sub, types.SyncUpdate))
	case ActionCancel:
		r.sm.ApplyCancel(sub, now)
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		out.deltas = append(out.deltas, r.sm.Delta(sub, types.SyncDisable))
	case ActionNone:
	}

	if plan.NotifyExpiring {
		// Every lead-time notice reaches the user, not only the one that
		// flipped the status.
		until := sub.ExpiresAt
		out.notify = append(out.notify, func(n types.Notifier) {
			n.SubscriptionExpiring(userID, until)
		})
	}
	return nil
}

// attemptRenewal charges the renewal from the user's balance and re-runs
// activation, as if a fresh payment event had arrived. Insufficient balance
// is not an error here; the caller falls back to expiry.
func (r *Reconciler) attemptRenewal(ctx context.Context, tx types.LedgerTx, sub *types.Subscription, now time.Time, out *outcome) (bool, error) {
	const renewalDays = 30
	price := r.cfg.PlanPriceKopeks[renewalDays]
	if price <= 0 {
		return false, nil
	}

	if _, err := tx.DeductBalance(ctx, sub.UserID, price); err != nil {
		if errors.Is(err, types.ErrInsufficientBalance) {
			r.log.Info().Int64("user_id", sub.UserID).Msg("renewal skipped, insufficient balance")
			userID := sub.UserID
			out.notify = append(out.notify, func(n types.Notifier) {
				n.RenewalFailed(userID)
			})
			return false, nil
		}
		return false, err
	}

	eventID := "renewal:" + uuid.New().String()
	if _, err := tx.UpsertPayment(ctx, &types.Payment{
		UserID:       sub.UserID,
		Provider:     types.ProviderBalance,
		EventID:      eventID,
		AmountKopeks: price,
		Currency:     "RUB",
		Status:       types.PaymentSucceeded,
		DurationDays: renewalDays,
	}); err != nil {
		return false, err
	}
	if err := tx.InsertTransaction(ctx, &types.Transaction{
		UserID:       sub.UserID,
		AmountKopeks: -price,
		Kind:         types.KindSubscriptionPurchase,
		Reason:       "automatic renewal from balance",
	}); err != nil {
		return false, err
	}

	sub = r.sm.PlanActivation(sub, sub.UserID, now, renewalDays, sub.Provider, sub.AutoRenew)
	if err := tx.SaveSubscription(ctx, sub); err != nil {
		return false, err
	}

	out.deltas = append(out.deltas, r.sm.Delta(sub, types.SyncUpdate))
	userID, until := sub.UserID, sub.ExpiresAt
	out.notify = append(out.notify, func(n types.Notifier) {
		n.PaymentProcessed(userID, price, until)
	})
	return true, nil
}

// StartTrial creates the one-time trial subscription on first contact.
func (r *Reconciler) StartTrial(ctx context.Context, userID int64) (*types.Subscription, error) {
	now := time.Now().UTC()
	var sub *types.Subscription

	err := r.ledger.InTx(ctx, func(tx types.LedgerTx) error {
		ok, err := tx.MarkTrialUsed(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrDuplicateEvent
		}
		existing, err := tx.GetSubscriptionForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return types.ErrDuplicateEvent
		}
		sub = r.sm.PlanTrial(userID, now)
		return tx.SaveSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	r.syncer.SyncAsync(r.sm.Delta(sub, types.SyncCreate))
	r.notifier.TrialStarted(userID, sub.ExpiresAt)
	return sub, nil
}
