package providers

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/fluxvpn/flux-bot/types"
)

// FreeKassaProvider handles the classic form-encoded callback. The merchant
// signature is MD5 over merchant_id:amount:secret:order_id; newer callbacks
// carry an HMAC-SHA256 over the sorted, pipe-joined parameter values instead.
// Signing is weak either way, so an IP allowlist is applied as a
// supplementary check when configured.
type FreeKassaProvider struct {
	merchantID string
	secret     string
	allowedIPs map[string]bool
}

func NewFreeKassaProvider(merchantID, secret string, allowedIPs []string) *FreeKassaProvider {
	allow := make(map[string]bool, len(allowedIPs))
	for _, ip := range allowedIPs {
		allow[strings.TrimSpace(ip)] = true
	}
	return &FreeKassaProvider{
		merchantID: merchantID,
		secret:     secret,
		allowedIPs: allow,
	}
}

func (p *FreeKassaProvider) Tag() types.Provider {
	return types.ProviderFreeKassa
}

func (p *FreeKassaProvider) Verify(req *Request) error {
	if p.secret == "" {
		return types.ErrInvalidSignature
	}
	if len(p.allowedIPs) > 0 && !p.allowedIPs[req.RemoteIP] {
		return types.ErrInvalidSignature
	}

	sign := strings.TrimSpace(req.Form.Get("SIGN"))
	if sign == "" {
		return types.ErrInvalidSignature
	}

	merchant := req.Form.Get("MERCHANT_ID")
	amount := req.Form.Get("AMOUNT")
	orderID := req.Form.Get("MERCHANT_ORDER_ID")
	if merchant == "" || amount == "" || orderID == "" {
		return types.ErrInvalidSignature
	}

	legacy := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s:%s", merchant, amount, p.secret, orderID)))
	if constantTimeEqualFold(hex.EncodeToString(legacy[:]), sign) {
		return nil
	}
	if hmacEqualHex(hmacSHA256Hex(p.secret, []byte(sortedPipeJoined(req.Form))), sign) {
		return nil
	}
	return types.ErrInvalidSignature
}

// sortedPipeJoined joins every parameter value except the signature itself,
// sorted by parameter name.
func sortedPipeJoined(form map[string][]string) string {
	names := make([]string, 0, len(form))
	for name := range form {
		if name == "SIGN" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([]string, 0, len(names))
	for _, name := range names {
		values = append(values, form[name]...)
	}
	return strings.Join(values, "|")
}

func constantTimeEqualFold(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(a)), []byte(strings.ToLower(b))) == 1
}

func (p *FreeKassaProvider) Parse(req *Request) (*types.PaymentEvent, error) {
	operationID := strings.TrimSpace(req.Form.Get("intid"))
	if operationID == "" {
		return nil, types.ErrMalformedEvent
	}
	amount, err := parseDecimalKopeks(req.Form.Get("AMOUNT"))
	if err != nil {
		return nil, err
	}

	ev := &types.PaymentEvent{
		Provider:     types.ProviderFreeKassa,
		EventID:      operationID,
		AmountKopeks: amount,
		Currency:     "RUB",
	}
	meta := eventMeta{
		UserID:       req.Form.Get("us_user_id"),
		DurationDays: req.Form.Get("us_duration_days"),
		PromoCode:    req.Form.Get("us_promo_code"),
		Kind:         req.Form.Get("us_kind"),
	}
	if err := meta.fill(ev); err != nil {
		return nil, err
	}
	return ev, nil
}
