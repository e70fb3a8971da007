package providers

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/fluxvpn/flux-bot/types"
)

const tributeSignatureHeader = "X-Tribute-Signature"

// TributeProvider verifies an HMAC-SHA256 signature over the raw body.
// Tribute subscriptions auto-renew on the provider side, so purchases are
// flagged accordingly and explicit cancellation notices are forwarded.
type TributeProvider struct {
	secret string
}

func NewTributeProvider(secret string) *TributeProvider {
	return &TributeProvider{secret: secret}
}

func (p *TributeProvider) Tag() types.Provider {
	return types.ProviderTribute
}

func (p *TributeProvider) Verify(req *Request) error {
	if p.secret == "" {
		return types.ErrInvalidSignature
	}
	got := strings.TrimSpace(req.Header.Get(tributeSignatureHeader))
	if got == "" {
		return types.ErrInvalidSignature
	}
	if !hmacEqualHex(hmacSHA256Hex(p.secret, req.Body), got) {
		return types.ErrInvalidSignature
	}
	return nil
}

type tributeWebhook struct {
	Name    string `json:"name"`
	Payload struct {
		SubscriptionID int64  `json:"subscription_id"`
		PeriodID       int64  `json:"period_id"`
		TelegramUserID int64  `json:"telegram_user_id"`
		Amount         int64  `json:"amount"`
		Currency       string `json:"currency"`
		PeriodDays     int    `json:"period_days"`
	} `json:"payload"`
}

func (p *TributeProvider) Parse(req *Request) (*types.PaymentEvent, error) {
	var w tributeWebhook
	if err := json.Unmarshal(req.Body, &w); err != nil {
		return nil, types.ErrMalformedEvent
	}
	if w.Payload.SubscriptionID == 0 || w.Payload.TelegramUserID == 0 {
		return nil, types.ErrMalformedEvent
	}

	ev := &types.PaymentEvent{
		Provider:  types.ProviderTribute,
		UserID:    w.Payload.TelegramUserID,
		Currency:  strings.ToUpper(strings.TrimSpace(w.Payload.Currency)),
		AutoRenew: true,
	}

	switch w.Name {
	case "new_subscription", "renewed_subscription":
		// Each billing period is its own payment; the period id keeps
		// renewals distinct under the (provider, event_id) key.
		ev.EventID = strconv.FormatInt(w.Payload.SubscriptionID, 10) + ":" + strconv.FormatInt(w.Payload.PeriodID, 10)
		ev.Kind = types.EventPurchase
		ev.AmountKopeks = w.Payload.Amount
		ev.DurationDays = w.Payload.PeriodDays
		if ev.DurationDays == 0 {
			ev.DurationDays = 30
		}
	case "cancelled_subscription":
		ev.EventID = strconv.FormatInt(w.Payload.SubscriptionID, 10) + ":cancel:" + strconv.FormatInt(w.Payload.PeriodID, 10)
		ev.Kind = types.EventCancellation
	default:
		return nil, types.ErrMalformedEvent
	}
	return ev, nil
}
