package panel

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fluxvpn/flux-bot/internal/config"
	"github.com/fluxvpn/flux-bot/types"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// Client pushes subscription state to the access-control panel over its REST
// API. Every attempt, successful or not, leaves a row in the sync log with a
// hash of the exact payload that was sent.
type Client struct {
	baseURL  string
	apiToken string
	attempts int
	http     *http.Client
	ledger   types.Ledger
	log      zerolog.Logger
}

func NewClient(cfg config.Config, ledger types.Ledger, log zerolog.Logger) *Client {
	attempts := cfg.PanelSyncAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		baseURL:  cfg.PanelBaseURL,
		apiToken: cfg.PanelAPIToken,
		attempts: attempts,
		http:     &http.Client{Timeout: 10 * time.Second},
		ledger:   ledger,
		log:      log,
	}
}

type panelUserPayload struct {
	Username       string `json:"username"`
	Enabled        bool   `json:"enabled"`
	ExpiresAt      string `json:"expires_at"`
	TrafficLimitMB int64  `json:"traffic_limit_mb"`
}

// Push upserts the panel user described by the delta, retrying transient
// failures with exponential backoff. A 4xx response other than 429 is not
// retried; the panel will never accept that payload.
func (c *Client) Push(ctx context.Context, d types.SubscriptionDelta) error {
	payload := panelUserPayload{
		Username:       d.PanelUserID,
		Enabled:        d.SyncType != types.SyncDisable && d.Status != string(types.SubscriptionExpired) && d.Status != string(types.SubscriptionCancelled),
		ExpiresAt:      d.ExpiresAt.UTC().Format(time.RFC3339),
		TrafficLimitMB: d.TrafficLimitMB,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal panel payload: %w", err)
	}

	backoff := retry.WithMaxRetries(uint64(c.attempts-1), retry.NewExponential(500*time.Millisecond))

	var lastStatus int
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		status, err := c.send(ctx, d.PanelUserID, body)
		lastStatus = status
		if err != nil {
			return retry.RetryableError(err)
		}
		if status >= 200 && status < 300 {
			return nil
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			return retry.RetryableError(fmt.Errorf("panel responded %d", status))
		}
		return fmt.Errorf("panel rejected payload with %d", status)
	})

	c.recordSyncLog(d, body, lastStatus, err)
	if err != nil {
		return fmt.Errorf("panel sync for %s: %w", d.PanelUserID, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, panelUserID string, body []byte) (int, error) {
	url := fmt.Sprintf("%s/api/users/%s", c.baseURL, panelUserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (c *Client) recordSyncLog(d types.SubscriptionDelta, body []byte, status int, pushErr error) {
	sum := sha256.Sum256(body)
	rec := types.PanelSyncLog{
		UserID:      d.UserID,
		SyncType:    d.SyncType,
		PayloadHash: hex.EncodeToString(sum[:]),
		StatusCode:  status,
	}
	if pushErr != nil {
		rec.Error = pushErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.ledger.InsertPanelSyncLog(ctx, rec); err != nil {
		c.log.Error().Err(err).Int64("user_id", d.UserID).Msg("failed to record panel sync log")
	}
}
