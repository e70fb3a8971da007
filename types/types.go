package types

import "time"

type User struct {
	UserID        int64
	ChatID        int64
	Username      string
	FirstName     string
	LanguageCode  string
	BalanceKopeks int64
	TrialUsed     bool
	Banned        bool
	ReferrerID    *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Subscription struct {
	ID             int64
	UserID         int64
	Status         SubscriptionStatus
	ExpiresAt      time.Time
	TrafficLimitMB int64
	TrafficReset   TrafficResetStrategy
	PanelUserID    string
	Provider       Provider
	AutoRenew      bool
	CancelledAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether the subscription still grants access at the given moment.
func (s *Subscription) Active(now time.Time) bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case SubscriptionTrial, SubscriptionActive, SubscriptionExpiring, SubscriptionGrace:
		return s.ExpiresAt.After(now)
	default:
		return false
	}
}

type Payment struct {
	ID           int64
	UserID       int64
	Provider     Provider
	EventID      string
	AmountKopeks int64
	Currency     string
	Status       PaymentStatus
	PromoCode    string
	DurationDays int
	NeedsReview  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Transaction struct {
	ID           int64
	UserID       int64
	AmountKopeks int64
	Kind         TransactionKind
	Reason       string
	CreatedAt    time.Time
}

type PromoCode struct {
	ID          int64
	Code        string
	BonusDays   int
	BonusKopeks int64
	MaxUses     int
	UsedCount   int
	ValidFrom   time.Time
	ValidUntil  time.Time
	Active      bool
	CreatedAt   time.Time
}

type Referral struct {
	ID           int64
	ReferrerID   int64
	RefereeID    int64
	Status       string
	BonusGranted bool
	CreatedAt    time.Time
}

type PanelSyncLog struct {
	ID          int64
	UserID      int64
	SyncType    string
	PayloadHash string
	StatusCode  int
	Error       string
	CreatedAt   time.Time
}

// PaymentEvent is a verified, parsed provider notification. EventID is the
// provider-native identifier; (Provider, EventID) is the dedup key. A refund
// carries its own EventID and references the reversed payment in RefEventID,
// so it is never deduplicated against the payment it reverses.
type PaymentEvent struct {
	Provider     Provider
	EventID      string
	RefEventID   string
	Kind         PaymentEventKind
	UserID       int64
	AmountKopeks int64
	Currency     string
	DurationDays int
	PromoCode    string
	AutoRenew    bool
}

// PanelEvent is a lifecycle notification originated by the access-control panel.
type PanelEvent struct {
	EventID     string
	Name        PanelEventName
	PanelUserID string
	OccurredAt  time.Time
}

// SubscriptionDelta is the panel-facing projection of a state transition.
type SubscriptionDelta struct {
	UserID         int64     `json:"user_id"`
	PanelUserID    string    `json:"panel_user_id"`
	Status         string    `json:"status"`
	ExpiresAt      time.Time `json:"expires_at"`
	TrafficLimitMB int64     `json:"traffic_limit_mb"`
	SyncType       string    `json:"sync_type"`
	Attempts       int       `json:"attempts,omitempty"`
}
