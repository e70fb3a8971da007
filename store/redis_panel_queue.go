package store

import (
	"context"
	"time"

	"github.com/fluxvpn/flux-bot/types"
)

// RedisPanelQueue holds subscription deltas whose immediate panel sync
// attempts were exhausted until the background sweep retries them.
type RedisPanelQueue struct {
	client *RedisClient
}

func NewRedisPanelQueue(client *RedisClient) *RedisPanelQueue {
	return &RedisPanelQueue{client: client}
}

func (q *RedisPanelQueue) queueKey() string {
	return q.client.generateKey("panel", "pending")
}

func (q *RedisPanelQueue) Enqueue(ctx context.Context, d types.SubscriptionDelta) error {
	return q.client.LPush(ctx, q.queueKey(), d)
}

func (q *RedisPanelQueue) Dequeue(ctx context.Context, timeout time.Duration) (*types.SubscriptionDelta, error) {
	var d types.SubscriptionDelta
	ok, err := q.client.BRPop(ctx, q.queueKey(), timeout, &d)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &d, nil
}
