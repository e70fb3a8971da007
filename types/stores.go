package types

import (
	"context"
	"time"
)

// Ledger is the durable transactional store of users, subscriptions,
// payments, transactions, promo codes, referrals and panel sync records.
type Ledger interface {
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error

	UpsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, userID int64) (*User, error)
	SetReferrer(ctx context.Context, refereeID, referrerID int64) error

	GetSubscription(ctx context.Context, userID int64) (*Subscription, error)
	GetSubscriptionByPanelID(ctx context.Context, panelUserID string) (*Subscription, error)

	ListTransactions(ctx context.Context, userID int64, kind TransactionKind, limit, offset int) ([]*Transaction, error)
	GiftBalance(ctx context.Context, fromUserID, toUserID, amountKopeks int64, reason string) error

	GetPromoCode(ctx context.Context, code string) (*PromoCode, error)
	InsertPanelSyncLog(ctx context.Context, rec PanelSyncLog) error
}

// LedgerTx is the set of mutations available inside one ledger transaction.
// All writes triggered by a single inbound event go through one LedgerTx.
type LedgerTx interface {
	GetUser(ctx context.Context, userID int64) (*User, error)
	AddBalance(ctx context.Context, userID, deltaKopeks int64) (int64, error)
	DeductBalance(ctx context.Context, userID, amountKopeks int64) (int64, error)
	MarkTrialUsed(ctx context.Context, userID int64) (bool, error)

	UpsertPayment(ctx context.Context, p *Payment) (inserted bool, err error)
	MarkPaymentRefunded(ctx context.Context, provider Provider, eventID string) (*Payment, error)
	InsertTransaction(ctx context.Context, t *Transaction) error

	GetSubscriptionForUpdate(ctx context.Context, userID int64) (*Subscription, error)
	SaveSubscription(ctx context.Context, sub *Subscription) error

	RedeemPromoCode(ctx context.Context, code string, now time.Time) (*PromoCode, error)
	EnsureReferral(ctx context.Context, referrerID, refereeID int64) error
	MarkReferralRewarded(ctx context.Context, referrerID, refereeID int64) (granted bool, err error)
}

type DedupStatus int

const (
	DedupAcquired DedupStatus = iota
	DedupCompleted
	DedupInFlight
)

// DedupStore is the idempotency guard shared by all engine instances.
type DedupStore interface {
	Acquire(ctx context.Context, provider Provider, eventID string) (DedupStatus, error)
	Complete(ctx context.Context, provider Provider, eventID string) error
	Release(ctx context.Context, provider Provider, eventID string) error
}

// PanelQueue holds subscription deltas whose panel sync attempts were
// exhausted, until the background sweep picks them up again.
type PanelQueue interface {
	Enqueue(ctx context.Context, d SubscriptionDelta) error
	Dequeue(ctx context.Context, timeout time.Duration) (*SubscriptionDelta, error)
}

// PanelSyncer pushes a subscription delta to the access-control panel
// without blocking the caller.
type PanelSyncer interface {
	SyncAsync(d SubscriptionDelta)
}

// Notifier emits user-facing messages as a best-effort side effect of state
// changes. Implementations must never block reconciliation on delivery.
type Notifier interface {
	PaymentProcessed(userID int64, amountKopeks int64, until time.Time)
	TrialStarted(userID int64, until time.Time)
	SubscriptionExpiring(userID int64, until time.Time)
	SubscriptionExpired(userID int64)
	RenewalFailed(userID int64)
	BonusApplied(userID int64, days int, reason string)
	BalanceToppedUp(userID int64, amountKopeks, balanceKopeks int64)
	PaymentRefunded(userID int64, amountKopeks int64)
	OperatorAlert(text string)
}
