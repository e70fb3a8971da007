package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxvpn/flux-bot/types"
)

// fakeLedger is an in-memory Ledger/LedgerTx good enough to exercise the
// reconciler's composition logic without Postgres.
type fakeLedger struct {
	mu           sync.Mutex
	users        map[int64]*types.User
	subs         map[int64]*types.Subscription
	payments     map[string]*types.Payment
	transactions []*types.Transaction
	promos       map[string]*types.PromoCode
	referrals    map[string]*types.Referral
	syncLogs     []types.PanelSyncLog
	nextSubID    int64

	failTx error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		users:     make(map[int64]*types.User),
		subs:      make(map[int64]*types.Subscription),
		payments:  make(map[string]*types.Payment),
		promos:    make(map[string]*types.PromoCode),
		referrals: make(map[string]*types.Referral),
	}
}

func paymentKey(provider types.Provider, eventID string) string {
	return string(provider) + ":" + eventID
}

func referralKey(referrerID, refereeID int64) string {
	return fmt.Sprintf("%d:%d", referrerID, refereeID)
}

func (l *fakeLedger) InTx(ctx context.Context, fn func(tx types.LedgerTx) error) error {
	if l.failTx != nil {
		return l.failTx
	}
	return fn(l)
}

func (l *fakeLedger) UpsertUser(ctx context.Context, u types.User) error {
	l.users[u.UserID] = &u
	return nil
}

func (l *fakeLedger) GetUser(ctx context.Context, userID int64) (*types.User, error) {
	u, ok := l.users[userID]
	if !ok {
		return nil, types.ErrUnknownUser
	}
	cp := *u
	return &cp, nil
}

func (l *fakeLedger) SetReferrer(ctx context.Context, refereeID, referrerID int64) error {
	u, ok := l.users[refereeID]
	if !ok {
		return types.ErrUnknownUser
	}
	if u.ReferrerID == nil {
		u.ReferrerID = &referrerID
		l.referrals[referralKey(referrerID, refereeID)] = &types.Referral{ReferrerID: referrerID, RefereeID: refereeID}
	}
	return nil
}

func (l *fakeLedger) GetSubscription(ctx context.Context, userID int64) (*types.Subscription, error) {
	s, ok := l.subs[userID]
	if !ok || s.Status == types.SubscriptionCancelled {
		return nil, types.ErrUnknownSubscription
	}
	cp := *s
	return &cp, nil
}

func (l *fakeLedger) GetSubscriptionByPanelID(ctx context.Context, panelUserID string) (*types.Subscription, error) {
	for _, s := range l.subs {
		if s.PanelUserID == panelUserID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, types.ErrUnknownSubscription
}

func (l *fakeLedger) ListTransactions(ctx context.Context, userID int64, kind types.TransactionKind, limit, offset int) ([]*types.Transaction, error) {
	var out []*types.Transaction
	for _, t := range l.transactions {
		if t.UserID == userID && (kind == "" || t.Kind == kind) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (l *fakeLedger) GiftBalance(ctx context.Context, fromUserID, toUserID, amountKopeks int64, reason string) error {
	if _, err := l.DeductBalance(ctx, fromUserID, amountKopeks); err != nil {
		return err
	}
	_, err := l.AddBalance(ctx, toUserID, amountKopeks)
	return err
}

func (l *fakeLedger) GetPromoCode(ctx context.Context, code string) (*types.PromoCode, error) {
	p, ok := l.promos[code]
	if !ok {
		return nil, types.ErrCapExceeded
	}
	cp := *p
	return &cp, nil
}

func (l *fakeLedger) InsertPanelSyncLog(ctx context.Context, rec types.PanelSyncLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.syncLogs = append(l.syncLogs, rec)
	return nil
}

func (l *fakeLedger) AddBalance(ctx context.Context, userID, deltaKopeks int64) (int64, error) {
	u, ok := l.users[userID]
	if !ok {
		return 0, types.ErrUnknownUser
	}
	u.BalanceKopeks += deltaKopeks
	return u.BalanceKopeks, nil
}

func (l *fakeLedger) DeductBalance(ctx context.Context, userID, amountKopeks int64) (int64, error) {
	u, ok := l.users[userID]
	if !ok {
		return 0, types.ErrUnknownUser
	}
	if u.BalanceKopeks < amountKopeks {
		return 0, types.ErrInsufficientBalance
	}
	u.BalanceKopeks -= amountKopeks
	return u.BalanceKopeks, nil
}

func (l *fakeLedger) MarkTrialUsed(ctx context.Context, userID int64) (bool, error) {
	u, ok := l.users[userID]
	if !ok || u.TrialUsed {
		return false, nil
	}
	u.TrialUsed = true
	return true, nil
}

func (l *fakeLedger) UpsertPayment(ctx context.Context, p *types.Payment) (bool, error) {
	key := paymentKey(p.Provider, p.EventID)
	if _, exists := l.payments[key]; exists {
		return false, nil
	}
	cp := *p
	l.payments[key] = &cp
	return true, nil
}

func (l *fakeLedger) MarkPaymentRefunded(ctx context.Context, provider types.Provider, eventID string) (*types.Payment, error) {
	p, ok := l.payments[paymentKey(provider, eventID)]
	if !ok || p.Status != types.PaymentSucceeded {
		return nil, types.ErrUnknownPayment
	}
	p.Status = types.PaymentRefunded
	cp := *p
	return &cp, nil
}

func (l *fakeLedger) InsertTransaction(ctx context.Context, t *types.Transaction) error {
	cp := *t
	l.transactions = append(l.transactions, &cp)
	return nil
}

func (l *fakeLedger) GetSubscriptionForUpdate(ctx context.Context, userID int64) (*types.Subscription, error) {
	s, ok := l.subs[userID]
	if !ok || s.Status == types.SubscriptionCancelled {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (l *fakeLedger) SaveSubscription(ctx context.Context, sub *types.Subscription) error {
	if sub.ID == 0 {
		l.nextSubID++
		sub.ID = l.nextSubID
	}
	cp := *sub
	l.subs[sub.UserID] = &cp
	return nil
}

func (l *fakeLedger) RedeemPromoCode(ctx context.Context, code string, now time.Time) (*types.PromoCode, error) {
	p, ok := l.promos[code]
	if !ok || !p.Active || p.UsedCount >= p.MaxUses {
		return nil, types.ErrCapExceeded
	}
	p.UsedCount++
	cp := *p
	return &cp, nil
}

func (l *fakeLedger) EnsureReferral(ctx context.Context, referrerID, refereeID int64) error {
	key := referralKey(referrerID, refereeID)
	if _, ok := l.referrals[key]; !ok {
		l.referrals[key] = &types.Referral{ReferrerID: referrerID, RefereeID: refereeID}
	}
	return nil
}

func (l *fakeLedger) MarkReferralRewarded(ctx context.Context, referrerID, refereeID int64) (bool, error) {
	r, ok := l.referrals[referralKey(referrerID, refereeID)]
	if !ok || r.BonusGranted {
		return false, nil
	}
	r.BonusGranted = true
	return true, nil
}

func (l *fakeLedger) transactionsOfKind(kind types.TransactionKind) []*types.Transaction {
	var out []*types.Transaction
	for _, t := range l.transactions {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// fakeDedup scripts the guard status and records completions and releases.
type fakeDedup struct {
	status    types.DedupStatus
	acquired  []string
	completed []string
	released  []string
}

func (d *fakeDedup) key(provider types.Provider, eventID string) string {
	return string(provider) + ":" + eventID
}

func (d *fakeDedup) Acquire(ctx context.Context, provider types.Provider, eventID string) (types.DedupStatus, error) {
	d.acquired = append(d.acquired, d.key(provider, eventID))
	return d.status, nil
}

func (d *fakeDedup) Complete(ctx context.Context, provider types.Provider, eventID string) error {
	d.completed = append(d.completed, d.key(provider, eventID))
	return nil
}

func (d *fakeDedup) Release(ctx context.Context, provider types.Provider, eventID string) error {
	d.released = append(d.released, d.key(provider, eventID))
	return nil
}

// memoryDedup mirrors the redis guard's key lifecycle: a completed key keeps
// answering DedupCompleted for the retention window, a released key is free
// to acquire again.
type memoryDedup struct {
	state map[string]types.DedupStatus
}

func newMemoryDedup() *memoryDedup {
	return &memoryDedup{state: make(map[string]types.DedupStatus)}
}

func (d *memoryDedup) key(provider types.Provider, eventID string) string {
	return string(provider) + ":" + eventID
}

func (d *memoryDedup) Acquire(ctx context.Context, provider types.Provider, eventID string) (types.DedupStatus, error) {
	key := d.key(provider, eventID)
	if s, ok := d.state[key]; ok {
		return s, nil
	}
	d.state[key] = types.DedupInFlight
	return types.DedupAcquired, nil
}

func (d *memoryDedup) Complete(ctx context.Context, provider types.Provider, eventID string) error {
	d.state[d.key(provider, eventID)] = types.DedupCompleted
	return nil
}

func (d *memoryDedup) Release(ctx context.Context, provider types.Provider, eventID string) error {
	delete(d.state, d.key(provider, eventID))
	return nil
}

type fakeSyncer struct {
	mu     sync.Mutex
	deltas []types.SubscriptionDelta
}

func (s *fakeSyncer) SyncAsync(d types.SubscriptionDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, d)
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *fakeNotifier) record(format string, args ...any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, fmt.Sprintf(format, args...))
}

func (n *fakeNotifier) PaymentProcessed(userID int64, amountKopeks int64, until time.Time) {
	n.record("payment_processed:%d:%d", userID, amountKopeks)
}

func (n *fakeNotifier) TrialStarted(userID int64, until time.Time) {
	n.record("trial_started:%d", userID)
}

func (n *fakeNotifier) SubscriptionExpiring(userID int64, until time.Time) {
	n.record("subscription_expiring:%d", userID)
}

func (n *fakeNotifier) SubscriptionExpired(userID int64) {
	n.record("subscription_expired:%d", userID)
}

func (n *fakeNotifier) RenewalFailed(userID int64) {
	n.record("renewal_failed:%d", userID)
}

func (n *fakeNotifier) BonusApplied(userID int64, days int, reason string) {
	n.record("bonus_applied:%d:%d", userID, days)
}

func (n *fakeNotifier) BalanceToppedUp(userID int64, amountKopeks, balanceKopeks int64) {
	n.record("balance_topped_up:%d:%d:%d", userID, amountKopeks, balanceKopeks)
}

func (n *fakeNotifier) PaymentRefunded(userID int64, amountKopeks int64) {
	n.record("payment_refunded:%d:%d", userID, amountKopeks)
}

func (n *fakeNotifier) OperatorAlert(text string) {
	n.record("operator_alert")
}
