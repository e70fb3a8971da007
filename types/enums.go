package types

type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpiring  SubscriptionStatus = "expiring"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionGrace     SubscriptionStatus = "grace"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type TransactionKind string

const (
	KindBalanceAdd           TransactionKind = "balance_add"
	KindBalanceDeduct        TransactionKind = "balance_deduct"
	KindSubscriptionPurchase TransactionKind = "subscription_purchase"
	KindRefund               TransactionKind = "refund"
	KindGiftSent             TransactionKind = "gift_sent"
	KindGiftReceived         TransactionKind = "gift_received"
)

type Provider string

const (
	ProviderYooKassa  Provider = "yookassa"
	ProviderCryptoPay Provider = "cryptopay"
	ProviderFreeKassa Provider = "freekassa"
	ProviderTribute   Provider = "tribute"
	ProviderStars     Provider = "stars"
	ProviderBalance   Provider = "balance"
	ProviderPanel     Provider = "panel"
)

type PaymentEventKind string

const (
	EventPurchase     PaymentEventKind = "purchase"
	EventTopUp        PaymentEventKind = "topup"
	EventRefund       PaymentEventKind = "refund"
	EventCancellation PaymentEventKind = "cancellation"
)

type PanelEventName string

const (
	PanelExpiresIn72h PanelEventName = "expires_in_72h"
	PanelExpiresIn48h PanelEventName = "expires_in_48h"
	PanelExpiresIn24h PanelEventName = "expires_in_24h"
	PanelExpired      PanelEventName = "expired"
	PanelExpiredGrace PanelEventName = "expired_grace_period"
	PanelCancelled    PanelEventName = "cancelled"
)

type TrafficResetStrategy string

const (
	TrafficResetNever   TrafficResetStrategy = "no_reset"
	TrafficResetMonthly TrafficResetStrategy = "monthly"
)

const (
	SyncCreate  string = "create"
	SyncUpdate  string = "update"
	SyncDisable string = "disable"
)
