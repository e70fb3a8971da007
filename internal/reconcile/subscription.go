package reconcile

import (
	"time"

	"github.com/fluxvpn/flux-bot/internal/config"
	"github.com/fluxvpn/flux-bot/types"
	"github.com/google/uuid"
)

// StateMachine owns the lifecycle of a single subscription. It only plans
// transitions on in-memory values; persistence happens in the surrounding
// ledger transaction.
type StateMachine struct {
	trialDays      int
	trialTrafficMB int64
	paidTrafficMB  int64
	graceHours     int
}

func NewStateMachine(cfg config.Config) *StateMachine {
	return &StateMachine{
		trialDays:      cfg.TrialDays,
		trialTrafficMB: cfg.TrialTrafficMB,
		paidTrafficMB:  cfg.PaidTrafficMB,
		graceHours:     cfg.GraceHours,
	}
}

// ExtendExpiry stacks a purchased duration on top of the remaining time:
// the new expiry is max(now, current) + duration, never a reset.
func ExtendExpiry(now, current time.Time, days int) time.Time {
	base := now
	if current.After(base) {
		base = current
	}
	return base.Add(time.Duration(days) * 24 * time.Hour)
}

// PlanTrial builds the one-time trial subscription. Trial eligibility
// (trial_used flag) is checked by the caller inside the transaction.
func (m *StateMachine) PlanTrial(userID int64, now time.Time) *types.Subscription {
	return &types.Subscription{
		UserID:         userID,
		Status:         types.SubscriptionTrial,
		ExpiresAt:      now.Add(time.Duration(m.trialDays) * 24 * time.Hour),
		TrafficLimitMB: m.trialTrafficMB,
		TrafficReset:   types.TrafficResetNever,
		PanelUserID:    uuid.New().String(),
	}
}

// PlanActivation activates a new subscription or extends an existing
// non-cancelled one after a successful payment.
func (m *StateMachine) PlanActivation(sub *types.Subscription, userID int64, now time.Time, days int, provider types.Provider, autoRenew bool) *types.Subscription {
	if sub == nil {
		sub = &types.Subscription{
			UserID:       userID,
			ExpiresAt:    now,
			TrafficReset: types.TrafficResetMonthly,
			PanelUserID:  uuid.New().String(),
		}
	}
	sub.ExpiresAt = ExtendExpiry(now, sub.ExpiresAt, days)
	sub.Status = types.SubscriptionActive
	sub.TrafficLimitMB = m.paidTrafficMB
	sub.Provider = provider
	sub.AutoRenew = autoRenew
	if autoRenew {
		sub.CancelledAt = nil
	}
	return sub
}

// ExtendBonus stacks bonus days without touching status or provider.
func (m *StateMachine) ExtendBonus(sub *types.Subscription, now time.Time, days int) {
	sub.ExpiresAt = ExtendExpiry(now, sub.ExpiresAt, days)
}

// PanelPlan is the planned reaction to one panel lifecycle event.
type PanelPlan struct {
	Action         PanelAction
	AttemptRenewal bool
	NotifyExpiring bool
}

type PanelAction int

const (
	ActionNone PanelAction = iota
	ActionMarkExpiring
	ActionExpire
	ActionGrace
	ActionCancel
)

// PlanPanelEvent maps a panel lifecycle event onto a transition for the
// current subscription state. Re-cancelling a cancelled subscription is a
// no-op. The lead-time notices are informational: each one notifies the
// user again, even when an earlier notice already marked the subscription
// expiring.
func (m *StateMachine) PlanPanelEvent(sub *types.Subscription, name types.PanelEventName) PanelPlan {
	if sub == nil || sub.Status == types.SubscriptionCancelled {
		return PanelPlan{Action: ActionNone}
	}
	renewable := sub.AutoRenew && sub.CancelledAt == nil

	switch name {
	case types.PanelExpiresIn72h, types.PanelExpiresIn48h:
		switch sub.Status {
		case types.SubscriptionTrial, types.SubscriptionActive:
			return PanelPlan{Action: ActionMarkExpiring, NotifyExpiring: true}
		case types.SubscriptionExpiring:
			return PanelPlan{Action: ActionNone, NotifyExpiring: true}
		}
		return PanelPlan{Action: ActionNone}
	case types.PanelExpiresIn24h:
		plan := PanelPlan{Action: ActionNone, AttemptRenewal: renewable}
		switch sub.Status {
		case types.SubscriptionTrial, types.SubscriptionActive:
			plan.Action = ActionMarkExpiring
			plan.NotifyExpiring = true
		case types.SubscriptionExpiring:
			plan.NotifyExpiring = true
		}
		return plan
	case types.PanelExpired:
		if sub.Status == types.SubscriptionGrace {
			return PanelPlan{Action: ActionExpire}
		}
		return PanelPlan{Action: ActionExpire, AttemptRenewal: renewable}
	case types.PanelExpiredGrace:
		return PanelPlan{Action: ActionExpire}
	case types.PanelCancelled:
		if sub.Status == types.SubscriptionExpired && sub.AutoRenew {
			// Post-expiry cancellation from an auto-renew provider keeps
			// access for one short tolerance window.
			return PanelPlan{Action: ActionGrace}
		}
		return PanelPlan{Action: ActionCancel}
	}
	return PanelPlan{Action: ActionNone}
}

func (m *StateMachine) ApplyExpiring(sub *types.Subscription) {
	sub.Status = types.SubscriptionExpiring
}

func (m *StateMachine) ApplyExpired(sub *types.Subscription) {
	sub.Status = types.SubscriptionExpired
}

func (m *StateMachine) ApplyGrace(sub *types.Subscription, now time.Time) {
	sub.Status = types.SubscriptionGrace
	sub.ExpiresAt = now.Add(time.Duration(m.graceHours) * time.Hour)
}

func (m *StateMachine) ApplyCancel(sub *types.Subscription, now time.Time) {
	if sub.Status == types.SubscriptionCancelled {
		return
	}
	sub.Status = types.SubscriptionCancelled
	t := now
	sub.CancelledAt = &t
	sub.AutoRenew = false
}

// Delta computes the panel-facing projection of the subscription after a
// transition.
func (m *StateMachine) Delta(sub *types.Subscription, syncType string) types.SubscriptionDelta {
	return types.SubscriptionDelta{
		UserID:         sub.UserID,
		PanelUserID:    sub.PanelUserID,
		Status:         string(sub.Status),
		ExpiresAt:      sub.ExpiresAt.UTC(),
		TrafficLimitMB: sub.TrafficLimitMB,
		SyncType:       syncType,
	}
}
