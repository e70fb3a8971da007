package providers

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/fluxvpn/flux-bot/internal/config"
	"github.com/fluxvpn/flux-bot/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedRequest(secret, header string, body []byte) *Request {
	h := http.Header{}
	h.Set(header, hmacSHA256Hex(secret, body))
	return &Request{Body: body, Header: h}
}

func TestYooKassaVerify(t *testing.T) {
	p := NewYooKassaProvider("yk-secret")
	body := []byte(`{"event":"payment.succeeded"}`)

	require.NoError(t, p.Verify(signedRequest("yk-secret", "X-YooKassa-Signature", body)))

	bad := signedRequest("wrong-secret", "X-YooKassa-Signature", body)
	assert.ErrorIs(t, p.Verify(bad), types.ErrInvalidSignature)

	missing := &Request{Body: body, Header: http.Header{}}
	assert.ErrorIs(t, p.Verify(missing), types.ErrInvalidSignature)

	unconfigured := NewYooKassaProvider("")
	assert.ErrorIs(t, unconfigured.Verify(signedRequest("", "X-YooKassa-Signature", body)), types.ErrInvalidSignature)
}

func TestYooKassaVerifyBodyTampering(t *testing.T) {
	p := NewYooKassaProvider("yk-secret")
	req := signedRequest("yk-secret", "X-YooKassa-Signature", []byte(`{"amount":"199.00"}`))
	req.Body = []byte(`{"amount":"1.00"}`)
	assert.ErrorIs(t, p.Verify(req), types.ErrInvalidSignature)
}

func TestYooKassaParsePayment(t *testing.T) {
	p := NewYooKassaProvider("yk-secret")
	body := []byte(`{
		"event": "payment.succeeded",
		"object": {
			"id": "2d8e1f6a",
			"status": "succeeded",
			"amount": {"value": "199.00", "currency": "RUB"},
			"metadata": {"user_id": "42", "duration_days": "30", "promo_code": "WELCOME"}
		}
	}`)

	ev, err := p.Parse(&Request{Body: body})
	require.NoError(t, err)
	assert.Equal(t, types.ProviderYooKassa, ev.Provider)
	assert.Equal(t, "2d8e1f6a", ev.EventID)
	assert.Equal(t, types.EventPurchase, ev.Kind)
	assert.Equal(t, int64(42), ev.UserID)
	assert.Equal(t, int64(19900), ev.AmountKopeks)
	assert.Equal(t, "RUB", ev.Currency)
	assert.Equal(t, 30, ev.DurationDays)
	assert.Equal(t, "WELCOME", ev.PromoCode)
}

func TestYooKassaParseRefund(t *testing.T) {
	p := NewYooKassaProvider("yk-secret")
	body := []byte(`{
		"event": "refund.succeeded",
		"object": {
			"id": "rf-1",
			"payment_id": "2d8e1f6a",
			"amount": {"value": "199.00", "currency": "RUB"}
		}
	}`)

	ev, err := p.Parse(&Request{Body: body})
	require.NoError(t, err)
	assert.Equal(t, types.EventRefund, ev.Kind)
	// The refund has its own dedup identity; the reversed payment is only
	// referenced, never reused as the event id.
	assert.Equal(t, "refund:rf-1", ev.EventID)
	assert.Equal(t, "2d8e1f6a", ev.RefEventID)
	assert.NotEqual(t, ev.RefEventID, ev.EventID)
}

func TestYooKassaParseRejectsUnknownEvent(t *testing.T) {
	p := NewYooKassaProvider("yk-secret")
	_, err := p.Parse(&Request{Body: []byte(`{"event":"payment.waiting_for_capture","object":{"id":"x"}}`)})
	assert.ErrorIs(t, err, types.ErrMalformedEvent)
}

func TestCryptoPayVerifyUsesHashedTokenKey(t *testing.T) {
	p := NewCryptoPayProvider("cp-token")
	body := []byte(`{"update_type":"invoice_paid"}`)

	key := sha256.Sum256([]byte("cp-token"))
	mac := hmac.New(sha256.New, key[:])
	mac.Write(body)

	h := http.Header{}
	h.Set("Crypto-Pay-Api-Signature", hex.EncodeToString(mac.Sum(nil)))
	require.NoError(t, p.Verify(&Request{Body: body, Header: h}))

	// Signing with the raw token must fail: the key is the token's digest.
	h.Set("Crypto-Pay-Api-Signature", hmacSHA256Hex("cp-token", body))
	assert.ErrorIs(t, p.Verify(&Request{Body: body, Header: h}), types.ErrInvalidSignature)
}

func TestCryptoPayParse(t *testing.T) {
	p := NewCryptoPayProvider("cp-token")
	body := []byte(`{
		"update_id": 7,
		"update_type": "invoice_paid",
		"payload": {
			"invoice_id": 555,
			"status": "paid",
			"amount": "3.50",
			"asset": "USDT",
			"payload": "{\"user_id\":\"42\",\"duration_days\":\"90\"}"
		}
	}`)

	ev, err := p.Parse(&Request{Body: body})
	require.NoError(t, err)
	assert.Equal(t, "555", ev.EventID)
	assert.Equal(t, int64(42), ev.UserID)
	assert.Equal(t, int64(350), ev.AmountKopeks)
	assert.Equal(t, "USDT", ev.Currency)
	assert.Equal(t, 90, ev.DurationDays)
}

func TestCryptoPayParseRejectsOtherUpdates(t *testing.T) {
	p := NewCryptoPayProvider("cp-token")
	_, err := p.Parse(&Request{Body: []byte(`{"update_type":"invoice_expired","payload":{"invoice_id":1}}`)})
	assert.ErrorIs(t, err, types.ErrMalformedEvent)
}

func freeKassaForm() url.Values {
	return url.Values{
		"MERCHANT_ID":       {"m-1"},
		"AMOUNT":            {"199.00"},
		"MERCHANT_ORDER_ID": {"ord-9"},
		"intid":             {"op-77"},
		"us_user_id":        {"42"},
		"us_duration_days":  {"30"},
	}
}

func TestFreeKassaVerifyLegacyMD5(t *testing.T) {
	p := NewFreeKassaProvider("m-1", "fk-secret", nil)
	form := freeKassaForm()
	sum := md5.Sum([]byte("m-1:199.00:fk-secret:ord-9"))
	form.Set("SIGN", strings.ToUpper(hex.EncodeToString(sum[:])))

	require.NoError(t, p.Verify(&Request{Form: form}))
}

func TestFreeKassaVerifySortedHMAC(t *testing.T) {
	p := NewFreeKassaProvider("m-1", "fk-secret", nil)
	form := freeKassaForm()

	names := make([]string, 0, len(form))
	for name := range form {
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([]string, 0, len(names))
	for _, name := range names {
		values = append(values, form.Get(name))
	}
	form.Set("SIGN", hmacSHA256Hex("fk-secret", []byte(strings.Join(values, "|"))))

	require.NoError(t, p.Verify(&Request{Form: form}))
}

func TestFreeKassaVerifyIPAllowlist(t *testing.T) {
	p := NewFreeKassaProvider("m-1", "fk-secret", []string{"168.119.157.136"})
	form := freeKassaForm()
	sum := md5.Sum([]byte("m-1:199.00:fk-secret:ord-9"))
	form.Set("SIGN", hex.EncodeToString(sum[:]))

	require.NoError(t, p.Verify(&Request{Form: form, RemoteIP: "168.119.157.136"}))
	assert.ErrorIs(t, p.Verify(&Request{Form: form, RemoteIP: "10.0.0.1"}), types.ErrInvalidSignature)
}

func TestFreeKassaVerifyRejectsBadSignature(t *testing.T) {
	p := NewFreeKassaProvider("m-1", "fk-secret", nil)
	form := freeKassaForm()
	form.Set("SIGN", "deadbeef")
	assert.ErrorIs(t, p.Verify(&Request{Form: form}), types.ErrInvalidSignature)
}

func TestFreeKassaParse(t *testing.T) {
	p := NewFreeKassaProvider("m-1", "fk-secret", nil)
	ev, err := p.Parse(&Request{Form: freeKassaForm()})
	require.NoError(t, err)
	assert.Equal(t, "op-77", ev.EventID)
	assert.Equal(t, int64(42), ev.UserID)
	assert.Equal(t, int64(19900), ev.AmountKopeks)
	assert.Equal(t, "RUB", ev.Currency)
	assert.Equal(t, 30, ev.DurationDays)
}

func TestTributeParseRenewal(t *testing.T) {
	p := NewTributeProvider("tr-secret")
	body := []byte(`{
		"name": "renewed_subscription",
		"payload": {
			"subscription_id": 12,
			"period_id": 3,
			"telegram_user_id": 42,
			"amount": 19900,
			"currency": "RUB",
			"period_days": 30
		}
	}`)
	require.NoError(t, p.Verify(signedRequest("tr-secret", "X-Tribute-Signature", body)))

	ev, err := p.Parse(&Request{Body: body})
	require.NoError(t, err)
	assert.Equal(t, "12:3", ev.EventID)
	assert.Equal(t, types.EventPurchase, ev.Kind)
	assert.True(t, ev.AutoRenew)
	assert.Equal(t, 30, ev.DurationDays)
}

func TestTributeParseCancellation(t *testing.T) {
	p := NewTributeProvider("tr-secret")
	body := []byte(`{"name":"cancelled_subscription","payload":{"subscription_id":12,"period_id":4,"telegram_user_id":42}}`)

	ev, err := p.Parse(&Request{Body: body})
	require.NoError(t, err)
	assert.Equal(t, types.EventCancellation, ev.Kind)
	assert.Equal(t, "12:cancel:4", ev.EventID)
}

func TestTributeRenewalPeriodsStayDistinct(t *testing.T) {
	p := NewTributeProvider("tr-secret")
	first := []byte(`{"name":"new_subscription","payload":{"subscription_id":12,"period_id":1,"telegram_user_id":42,"amount":19900}}`)
	second := []byte(`{"name":"renewed_subscription","payload":{"subscription_id":12,"period_id":2,"telegram_user_id":42,"amount":19900}}`)

	ev1, err := p.Parse(&Request{Body: first})
	require.NoError(t, err)
	ev2, err := p.Parse(&Request{Body: second})
	require.NoError(t, err)
	assert.NotEqual(t, ev1.EventID, ev2.EventID)
}

func TestStarsVerifySecretToken(t *testing.T) {
	p := NewStarsProvider("tok-123")

	h := http.Header{}
	h.Set("X-Telegram-Bot-Api-Secret-Token", "tok-123")
	require.NoError(t, p.Verify(&Request{Header: h}))

	h.Set("X-Telegram-Bot-Api-Secret-Token", "tok-456")
	assert.ErrorIs(t, p.Verify(&Request{Header: h}), types.ErrInvalidSignature)
}

func TestStarsEvent(t *testing.T) {
	ev, err := StarsEvent(42, "charge-1", 150, "XTR", "sub:30:WELCOME")
	require.NoError(t, err)
	assert.Equal(t, types.EventPurchase, ev.Kind)
	assert.Equal(t, 30, ev.DurationDays)
	assert.Equal(t, "WELCOME", ev.PromoCode)
	assert.Equal(t, "charge-1", ev.EventID)

	topup, err := StarsEvent(42, "charge-2", 100, "XTR", "topup")
	require.NoError(t, err)
	assert.Equal(t, types.EventTopUp, topup.Kind)

	_, err = StarsEvent(42, "charge-3", 100, "XTR", "sub:abc")
	assert.ErrorIs(t, err, types.ErrMalformedEvent)

	_, err = StarsEvent(0, "charge-4", 100, "XTR", "topup")
	assert.ErrorIs(t, err, types.ErrMalformedEvent)
}

func TestPanelParseEvent(t *testing.T) {
	p := NewPanelProvider("pn-secret")
	body := []byte(`{"event_id":"ev-1","event":"expires_in_24h","panel_user_id":"panel-abc","timestamp":1724500000}`)
	require.NoError(t, p.Verify(signedRequest("pn-secret", "X-Panel-Signature", body)))

	ev, err := p.ParseEvent(body)
	require.NoError(t, err)
	assert.Equal(t, types.PanelExpiresIn24h, ev.Name)
	assert.Equal(t, "panel-abc", ev.PanelUserID)
	assert.Equal(t, int64(1724500000), ev.OccurredAt.Unix())
}

func TestPanelParseEventRejectsUnknownName(t *testing.T) {
	p := NewPanelProvider("pn-secret")
	_, err := p.ParseEvent([]byte(`{"event_id":"ev-1","event":"traffic_reset","panel_user_id":"panel-abc"}`))
	assert.ErrorIs(t, err, types.ErrMalformedEvent)
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(testConfig())
	for _, tag := range []string{"yookassa", "cryptopay", "freekassa", "tribute", "stars"} {
		p, ok := r.Lookup(tag)
		require.True(t, ok, tag)
		assert.Equal(t, tag, string(p.Tag()))
	}
	_, ok := r.Lookup("paypal")
	assert.False(t, ok)
	assert.NotNil(t, r.Panel())
}

func TestParseDecimalKopeks(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"199.00", 19900, true},
		{"199", 19900, true},
		{"199.5", 19950, true},
		{"0.01", 1, true},
		{"-5.25", -525, true},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, c := range cases {
		got, err := parseDecimalKopeks(c.in)
		if !c.ok {
			assert.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestEventMetaFill(t *testing.T) {
	var ev types.PaymentEvent
	err := eventMeta{UserID: "42", DurationDays: "30", Kind: "purchase"}.fill(&ev)
	require.NoError(t, err)
	assert.Equal(t, types.EventPurchase, ev.Kind)

	err = eventMeta{UserID: "42", Kind: "topup"}.fill(&ev)
	require.NoError(t, err)
	assert.Equal(t, types.EventTopUp, ev.Kind)

	assert.ErrorIs(t, eventMeta{UserID: ""}.fill(&ev), types.ErrMalformedEvent)
	assert.ErrorIs(t, eventMeta{UserID: "42", Kind: "chargeback"}.fill(&ev), types.ErrMalformedEvent)
}

func testConfig() config.Config {
	return config.Config{
		YooKassaSecret:      "yk-secret",
		TributeSecret:       "tr-secret",
		CryptoPayToken:      "cp-token",
		FreeKassaMerchantID: "m-1",
		FreeKassaSecret:     "fk-secret",
		StarsSecretToken:    "tok-123",
		PanelWebhookSecret:  "pn-secret",
	}
}
