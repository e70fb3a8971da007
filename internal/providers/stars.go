package providers

import (
	"crypto/subtle"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/fluxvpn/flux-bot/types"
)

const starsSecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// StarsProvider covers Telegram Stars payments delivered over the bot
// webhook. Telegram does not sign the body; authenticity comes from a
// constant-time comparison of the secret token header.
type StarsProvider struct {
	secretToken string
}

func NewStarsProvider(secretToken string) *StarsProvider {
	return &StarsProvider{secretToken: secretToken}
}

func (p *StarsProvider) Tag() types.Provider {
	return types.ProviderStars
}

func (p *StarsProvider) Verify(req *Request) error {
	if p.secretToken == "" {
		return types.ErrInvalidSignature
	}
	got := strings.TrimSpace(req.Header.Get(starsSecretTokenHeader))
	if subtle.ConstantTimeCompare([]byte(got), []byte(p.secretToken)) != 1 {
		return types.ErrInvalidSignature
	}
	return nil
}

type starsPayment struct {
	TelegramPaymentChargeID string `json:"telegram_payment_charge_id"`
	TotalAmount             int64  `json:"total_amount"`
	Currency                string `json:"currency"`
	InvoicePayload          string `json:"invoice_payload"`
	UserID                  int64  `json:"user_id"`
}

func (p *StarsProvider) Parse(req *Request) (*types.PaymentEvent, error) {
	var sp starsPayment
	if err := json.Unmarshal(req.Body, &sp); err != nil {
		return nil, types.ErrMalformedEvent
	}
	return StarsEvent(sp.UserID, sp.TelegramPaymentChargeID, sp.TotalAmount, sp.Currency, sp.InvoicePayload)
}

// StarsEvent builds a payment event from a successful_payment update. The
// invoice payload is "sub:<days>" or "topup", optionally ":<promo>".
func StarsEvent(userID int64, chargeID string, totalAmount int64, currency, invoicePayload string) (*types.PaymentEvent, error) {
	chargeID = strings.TrimSpace(chargeID)
	if userID == 0 || chargeID == "" {
		return nil, types.ErrMalformedEvent
	}
	ev := &types.PaymentEvent{
		Provider:     types.ProviderStars,
		EventID:      chargeID,
		UserID:       userID,
		AmountKopeks: totalAmount,
		Currency:     strings.ToUpper(strings.TrimSpace(currency)),
	}
	parts := strings.Split(strings.TrimSpace(invoicePayload), ":")
	switch parts[0] {
	case "sub":
		if len(parts) < 2 {
			return nil, types.ErrMalformedEvent
		}
		days, err := strconv.Atoi(parts[1])
		if err != nil || days <= 0 {
			return nil, types.ErrMalformedEvent
		}
		ev.Kind = types.EventPurchase
		ev.DurationDays = days
		if len(parts) > 2 {
			ev.PromoCode = parts[2]
		}
	case "topup":
		ev.Kind = types.EventTopUp
	default:
		return nil, types.ErrMalformedEvent
	}
	return ev, nil
}
