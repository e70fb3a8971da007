package providers

import (
	"encoding/json"
	"strings"

	"github.com/fluxvpn/flux-bot/types"
)

const yooKassaSignatureHeader = "X-YooKassa-Signature"

// YooKassaProvider verifies an HMAC-SHA256 signature computed over the raw
// request body and carried in a custom header.
type YooKassaProvider struct {
	secret string
}

func NewYooKassaProvider(secret string) *YooKassaProvider {
	return &YooKassaProvider{secret: secret}
}

func (p *YooKassaProvider) Tag() types.Provider {
	return types.ProviderYooKassa
}

func (p *YooKassaProvider) Verify(req *Request) error {
	if p.secret == "" {
		return types.ErrInvalidSignature
	}
	got := strings.TrimSpace(req.Header.Get(yooKassaSignatureHeader))
	if got == "" {
		return types.ErrInvalidSignature
	}
	if !hmacEqualHex(hmacSHA256Hex(p.secret, req.Body), got) {
		return types.ErrInvalidSignature
	}
	return nil
}

type yooKassaNotification struct {
	Event  string `json:"event"`
	Object struct {
		ID        string `json:"id"`
		PaymentID string `json:"payment_id"`
		Status    string `json:"status"`
		Amount    struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"amount"`
		Metadata eventMeta `json:"metadata"`
	} `json:"object"`
}

func (p *YooKassaProvider) Parse(req *Request) (*types.PaymentEvent, error) {
	var n yooKassaNotification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return nil, types.ErrMalformedEvent
	}
	if n.Object.ID == "" {
		return nil, types.ErrMalformedEvent
	}

	ev := &types.PaymentEvent{
		Provider: types.ProviderYooKassa,
		Currency: strings.ToUpper(strings.TrimSpace(n.Object.Amount.Currency)),
	}

	switch n.Event {
	case "payment.succeeded":
		ev.EventID = n.Object.ID
	case "refund.succeeded":
		// The refund is its own event: it gets its own dedup identity and
		// references the reversed payment separately. Reusing the payment id
		// as the dedup key would drop any refund arriving inside the
		// completed-marker retention window.
		if n.Object.PaymentID == "" {
			return nil, types.ErrMalformedEvent
		}
		ev.EventID = "refund:" + n.Object.ID
		ev.RefEventID = n.Object.PaymentID
		ev.Kind = types.EventRefund
	default:
		return nil, types.ErrMalformedEvent
	}

	amount, err := parseDecimalKopeks(n.Object.Amount.Value)
	if err != nil {
		return nil, err
	}
	ev.AmountKopeks = amount

	if ev.Kind == types.EventRefund {
		return ev, nil
	}
	if err := n.Object.Metadata.fill(ev); err != nil {
		return nil, err
	}
	return ev, nil
}
