package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxvpn/flux-bot/types"
)

const (
	dedupInFlight  = "inflight"
	dedupCompleted = "done"
)

// RedisDedupStore is the idempotency guard. A key is marked in-flight before
// any side effect is applied and completed only after the ledger transaction
// commits. Providers deliver at-least-once; this is the single mechanism
// preventing double credit.
type RedisDedupStore struct {
	client    *RedisClient
	lockTTL   time.Duration
	wait      time.Duration
	retention time.Duration
}

func NewRedisDedupStore(client *RedisClient, lockTTL, wait, retention time.Duration) *RedisDedupStore {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	if wait <= 0 {
		wait = 3 * time.Second
	}
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	return &RedisDedupStore{
		client:    client,
		lockTTL:   lockTTL,
		wait:      wait,
		retention: retention,
	}
}

func (s *RedisDedupStore) key(provider types.Provider, eventID string) string {
	return s.client.generateKey("dedup", string(provider), eventID)
}

// Acquire atomically checks-and-marks the dedup key. A concurrent duplicate
// waits briefly for the first delivery to finish; if it is still in flight
// after the wait window the caller gets DedupInFlight and must signal a
// retryable status to the provider.
func (s *RedisDedupStore) Acquire(ctx context.Context, provider types.Provider, eventID string) (types.DedupStatus, error) {
	key := s.key(provider, eventID)
	deadline := time.Now().Add(s.wait)

	for {
		ok, err := s.client.SetNX(ctx, key, dedupInFlight, s.lockTTL)
		if err != nil {
			return 0, fmt.Errorf("dedup acquire: %w", err)
		}
		if ok {
			return types.DedupAcquired, nil
		}

		val, found, err := s.client.GetString(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("dedup acquire: %w", err)
		}
		if found && val == dedupCompleted {
			return types.DedupCompleted, nil
		}
		if !found {
			// Lock expired between SetNX and Get; try again.
			continue
		}
		if time.Now().After(deadline) {
			return types.DedupInFlight, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// Complete marks the event as processed for the retention horizon.
func (s *RedisDedupStore) Complete(ctx context.Context, provider types.Provider, eventID string) error {
	return s.client.SetString(ctx, s.key(provider, eventID), dedupCompleted, s.retention)
}

// Release drops an in-flight mark so the provider's retry can reprocess the
// event after a failed transaction.
func (s *RedisDedupStore) Release(ctx context.Context, provider types.Provider, eventID string) error {
	return s.client.Del(ctx, s.key(provider, eventID))
}
