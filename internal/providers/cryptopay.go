package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/fluxvpn/flux-bot/types"
)

const cryptoPaySignatureHeader = "Crypto-Pay-Api-Signature"

// CryptoPayProvider reproduces the SDK-internal scheme: HMAC-SHA256 over the
// raw body, keyed with the SHA-256 digest of the API token.
type CryptoPayProvider struct {
	token string
}

func NewCryptoPayProvider(token string) *CryptoPayProvider {
	return &CryptoPayProvider{token: token}
}

func (p *CryptoPayProvider) Tag() types.Provider {
	return types.ProviderCryptoPay
}

func (p *CryptoPayProvider) Verify(req *Request) error {
	if p.token == "" {
		return types.ErrInvalidSignature
	}
	got := strings.TrimSpace(req.Header.Get(cryptoPaySignatureHeader))
	if got == "" {
		return types.ErrInvalidSignature
	}
	key := sha256.Sum256([]byte(p.token))
	mac := hmac.New(sha256.New, key[:])
	mac.Write(req.Body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmacEqualHex(expected, got) {
		return types.ErrInvalidSignature
	}
	return nil
}

type cryptoPayUpdate struct {
	UpdateID   int64  `json:"update_id"`
	UpdateType string `json:"update_type"`
	Payload    struct {
		InvoiceID int64  `json:"invoice_id"`
		Status    string `json:"status"`
		Amount    string `json:"amount"`
		Asset     string `json:"asset"`
		// Payload is the free-form string we attached when creating the
		// invoice; it carries the purchase metadata as JSON.
		Payload string `json:"payload"`
	} `json:"payload"`
}

func (p *CryptoPayProvider) Parse(req *Request) (*types.PaymentEvent, error) {
	var u cryptoPayUpdate
	if err := json.Unmarshal(req.Body, &u); err != nil {
		return nil, types.ErrMalformedEvent
	}
	if u.UpdateType != "invoice_paid" || u.Payload.InvoiceID == 0 {
		return nil, types.ErrMalformedEvent
	}

	ev := &types.PaymentEvent{
		Provider: types.ProviderCryptoPay,
		EventID:  strconv.FormatInt(u.Payload.InvoiceID, 10),
		Currency: strings.ToUpper(strings.TrimSpace(u.Payload.Asset)),
	}
	amount, err := parseDecimalKopeks(u.Payload.Amount)
	if err != nil {
		return nil, err
	}
	ev.AmountKopeks = amount

	var meta eventMeta
	if err := json.Unmarshal([]byte(u.Payload.Payload), &meta); err != nil {
		return nil, types.ErrMalformedEvent
	}
	if err := meta.fill(ev); err != nil {
		return nil, err
	}
	return ev, nil
}
