package providers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fluxvpn/flux-bot/internal/config"
	"github.com/fluxvpn/flux-bot/types"
)

// Request carries the exact raw bytes received plus transport metadata.
// Signatures are always computed over Body as delivered, never over a
// re-serialized representation.
type Request struct {
	Body     []byte
	Header   http.Header
	Form     url.Values
	RemoteIP string
}

// Provider is one webhook source: it authenticates a request and turns it
// into a parsed event. Implementations form a closed set resolved once at
// startup.
type Provider interface {
	Tag() types.Provider
	Verify(req *Request) error
	Parse(req *Request) (*types.PaymentEvent, error)
}

type Registry struct {
	byTag map[types.Provider]Provider
	panel *PanelProvider
}

func NewRegistry(cfg config.Config) *Registry {
	r := &Registry{
		byTag: make(map[types.Provider]Provider),
		panel: NewPanelProvider(cfg.PanelWebhookSecret),
	}
	for _, p := range []Provider{
		NewYooKassaProvider(cfg.YooKassaSecret),
		NewCryptoPayProvider(cfg.CryptoPayToken),
		NewFreeKassaProvider(cfg.FreeKassaMerchantID, cfg.FreeKassaSecret, cfg.FreeKassaAllowedIPs),
		NewTributeProvider(cfg.TributeSecret),
		NewStarsProvider(cfg.StarsSecretToken),
	} {
		r.byTag[p.Tag()] = p
	}
	return r
}

func (r *Registry) Lookup(tag string) (Provider, bool) {
	p, ok := r.byTag[types.Provider(strings.ToLower(strings.TrimSpace(tag)))]
	return p, ok
}

func (r *Registry) Panel() *PanelProvider {
	return r.panel
}

// eventMeta is the purchase metadata providers attach to a payment
// (YooKassa metadata object, CryptoPay custom payload, FreeKassa us_ params).
type eventMeta struct {
	UserID       string `json:"user_id"`
	DurationDays string `json:"duration_days"`
	PromoCode    string `json:"promo_code"`
	Kind         string `json:"kind"`
}

func (m eventMeta) fill(ev *types.PaymentEvent) error {
	uid, err := strconv.ParseInt(strings.TrimSpace(m.UserID), 10, 64)
	if err != nil || uid == 0 {
		return types.ErrMalformedEvent
	}
	ev.UserID = uid
	if d := strings.TrimSpace(m.DurationDays); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil {
			return types.ErrMalformedEvent
		}
		ev.DurationDays = n
	}
	ev.PromoCode = strings.TrimSpace(m.PromoCode)
	switch strings.TrimSpace(m.Kind) {
	case "", "purchase":
		ev.Kind = types.EventPurchase
	case "topup":
		ev.Kind = types.EventTopUp
	default:
		return types.ErrMalformedEvent
	}
	return nil
}

// parseDecimalKopeks converts a decimal money string ("199.00") to minor
// currency units.
func parseDecimalKopeks(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, types.ErrMalformedEvent
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, types.ErrMalformedEvent
	}
	if fracPart == "" {
		return whole * 100, nil
	}
	if len(fracPart) > 2 {
		fracPart = fracPart[:2]
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, types.ErrMalformedEvent
	}
	if whole < 0 {
		return whole*100 - frac, nil
	}
	return whole*100 + frac, nil
}
