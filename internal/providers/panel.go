package providers

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/fluxvpn/flux-bot/types"
)

const panelSignatureHeader = "X-Panel-Signature"

// PanelProvider authenticates lifecycle events originated by the
// access-control panel: HMAC-SHA256 over the raw body in a dedicated header.
type PanelProvider struct {
	secret string
}

func NewPanelProvider(secret string) *PanelProvider {
	return &PanelProvider{secret: secret}
}

func (p *PanelProvider) Tag() types.Provider {
	return types.ProviderPanel
}

func (p *PanelProvider) Verify(req *Request) error {
	if p.secret == "" {
		return types.ErrInvalidSignature
	}
	got := strings.TrimSpace(req.Header.Get(panelSignatureHeader))
	if got == "" {
		return types.ErrInvalidSignature
	}
	if !hmacEqualHex(hmacSHA256Hex(p.secret, req.Body), got) {
		return types.ErrInvalidSignature
	}
	return nil
}

type panelWebhook struct {
	EventID     string `json:"event_id"`
	Event       string `json:"event"`
	PanelUserID string `json:"panel_user_id"`
	Timestamp   int64  `json:"timestamp"`
}

var panelEventNames = map[string]types.PanelEventName{
	"expires_in_72h":       types.PanelExpiresIn72h,
	"expires_in_48h":       types.PanelExpiresIn48h,
	"expires_in_24h":       types.PanelExpiresIn24h,
	"expired":              types.PanelExpired,
	"expired_grace_period": types.PanelExpiredGrace,
	"cancelled":            types.PanelCancelled,
}

// ParseEvent decodes a panel lifecycle notification. The event name set is
// fixed; anything else is rejected.
func (p *PanelProvider) ParseEvent(body []byte) (*types.PanelEvent, error) {
	var w panelWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, types.ErrMalformedEvent
	}
	name, ok := panelEventNames[strings.TrimSpace(w.Event)]
	if !ok {
		return nil, types.ErrMalformedEvent
	}
	if strings.TrimSpace(w.EventID) == "" || strings.TrimSpace(w.PanelUserID) == "" {
		return nil, types.ErrMalformedEvent
	}
	occurred := time.Now().UTC()
	if w.Timestamp > 0 {
		occurred = time.Unix(w.Timestamp, 0).UTC()
	}
	return &types.PanelEvent{
		EventID:     strings.TrimSpace(w.EventID),
		Name:        name,
		PanelUserID: strings.TrimSpace(w.PanelUserID),
		OccurredAt:  occurred,
	}, nil
}

// Parse is unused for the panel source; lifecycle events are not payments.
func (p *PanelProvider) Parse(req *Request) (*types.PaymentEvent, error) {
	return nil, types.ErrMalformedEvent
}
