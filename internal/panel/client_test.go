package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fluxvpn/flux-bot/internal/config"
	"github.com/fluxvpn/flux-bot/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ledgerStub struct {
	mu   sync.Mutex
	logs []types.PanelSyncLog
}

func (s *ledgerStub) InTx(ctx context.Context, fn func(tx types.LedgerTx) error) error { return nil }
func (s *ledgerStub) UpsertUser(ctx context.Context, u types.User) error               { return nil }
func (s *ledgerStub) GetUser(ctx context.Context, userID int64) (*types.User, error) {
	return nil, types.ErrUnknownUser
}
func (s *ledgerStub) SetReferrer(ctx context.Context, refereeID, referrerID int64) error { return nil }
func (s *ledgerStub) GetSubscription(ctx context.Context, userID int64) (*types.Subscription, error) {
	return nil, types.ErrUnknownSubscription
}
func (s *ledgerStub) GetSubscriptionByPanelID(ctx context.Context, panelUserID string) (*types.Subscription, error) {
	return nil, types.ErrUnknownSubscription
}
func (s *ledgerStub) ListTransactions(ctx context.Context, userID int64, kind types.TransactionKind, limit, offset int) ([]*types.Transaction, error) {
	return nil, nil
}
func (s *ledgerStub) GiftBalance(ctx context.Context, fromUserID, toUserID, amountKopeks int64, reason string) error {
	return nil
}
func (s *ledgerStub) GetPromoCode(ctx context.Context, code string) (*types.PromoCode, error) {
	return nil, types.ErrCapExceeded
}
func (s *ledgerStub) InsertPanelSyncLog(ctx context.Context, rec types.PanelSyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, rec)
	return nil
}

func testDelta() types.SubscriptionDelta {
	return types.SubscriptionDelta{
		UserID:         42,
		PanelUserID:    "panel-abc",
		Status:         string(types.SubscriptionActive),
		ExpiresAt:      time.Now().Add(30 * 24 * time.Hour).UTC(),
		TrafficLimitMB: 100 * 1024,
		SyncType:       types.SyncUpdate,
	}
}

func newTestClient(baseURL string, ledger types.Ledger) *Client {
	cfg := config.Config{
		PanelBaseURL:      baseURL,
		PanelAPIToken:     "panel-token",
		PanelSyncAttempts: 3,
	}
	return NewClient(cfg, ledger, zerolog.Nop())
}

func TestPushSuccess(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ledger := &ledgerStub{}
	c := newTestClient(srv.URL, ledger)

	require.NoError(t, c.Push(context.Background(), testDelta()))
	assert.Equal(t, "Bearer panel-token", gotAuth)
	assert.Equal(t, "/api/users/panel-abc", gotPath)

	require.Len(t, ledger.logs, 1)
	assert.Equal(t, http.StatusOK, ledger.logs[0].StatusCode)
	assert.Len(t, ledger.logs[0].PayloadHash, 64)
	assert.Empty(t, ledger.logs[0].Error)
}

func TestPushRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &ledgerStub{})
	require.NoError(t, c.Push(context.Background(), testDelta()))
	assert.Equal(t, 3, calls)
}

func TestPushDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	ledger := &ledgerStub{}
	c := newTestClient(srv.URL, ledger)

	err := c.Push(context.Background(), testDelta())
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	require.Len(t, ledger.logs, 1)
	assert.Equal(t, http.StatusUnprocessableEntity, ledger.logs[0].StatusCode)
	assert.NotEmpty(t, ledger.logs[0].Error)
}

func TestPushDisableForExpired(t *testing.T) {
	var enabled *bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Enabled bool `json:"enabled"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		enabled = &payload.Enabled
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &ledgerStub{})
	d := testDelta()
	d.Status = string(types.SubscriptionExpired)
	d.SyncType = types.SyncDisable

	require.NoError(t, c.Push(context.Background(), d))
	require.NotNil(t, enabled)
	assert.False(t, *enabled)
}
