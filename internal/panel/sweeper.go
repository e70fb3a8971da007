package panel

import (
	"context"
	"errors"
	"time"

	"github.com/fluxvpn/flux-bot/internal/config"
	"github.com/fluxvpn/flux-bot/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Syncer is the asynchronous front of the panel client. A first push happens
// inline on a goroutine; on failure the delta lands on the retry queue where
// the sweep workers pick it up.
type Syncer struct {
	client *Client
	queue  types.PanelQueue
	log    zerolog.Logger
}

func NewSyncer(client *Client, queue types.PanelQueue, log zerolog.Logger) *Syncer {
	return &Syncer{client: client, queue: queue, log: log}
}

func (s *Syncer) SyncAsync(d types.SubscriptionDelta) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.client.Push(ctx, d); err != nil {
			s.log.Warn().Err(err).Str("panel_user_id", d.PanelUserID).Msg("panel sync failed, queued for sweep")
			d.Attempts++
			if qErr := s.queue.Enqueue(ctx, d); qErr != nil {
				s.log.Error().Err(qErr).Str("panel_user_id", d.PanelUserID).Msg("failed to enqueue panel delta")
			}
		}
	}()
}

// Sweeper drains the retry queue with a small worker pool. Deltas that keep
// failing are re-queued with a growing attempt counter and eventually
// dropped; the panel sync log keeps the evidence.
type Sweeper struct {
	client      *Client
	queue       types.PanelQueue
	workers     int
	maxAttempts int
	log         zerolog.Logger
}

func NewSweeper(cfg config.Config, client *Client, queue types.PanelQueue, log zerolog.Logger) *Sweeper {
	workers := cfg.PanelSweepWorkers
	if workers < 1 {
		workers = 1
	}
	return &Sweeper{
		client:      client,
		queue:       queue,
		workers:     workers,
		maxAttempts: cfg.PanelSyncAttempts * 3,
		log:         log,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			return s.work(ctx)
		})
	}
	return g.Wait()
}

func (s *Sweeper) work(ctx context.Context) error {
	for {
		d, err := s.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			s.log.Error().Err(err).Msg("panel queue dequeue failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if d == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			continue
		}
		s.handle(ctx, *d)
	}
}

func (s *Sweeper) handle(ctx context.Context, d types.SubscriptionDelta) {
	pushCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := s.client.Push(pushCtx, d)
	cancel()
	if err == nil {
		return
	}

	d.Attempts++
	if d.Attempts >= s.maxAttempts {
		s.log.Error().
			Str("panel_user_id", d.PanelUserID).
			Int("attempts", d.Attempts).
			Msg("panel delta dropped after repeated failures")
		return
	}
	if qErr := s.queue.Enqueue(ctx, d); qErr != nil {
		s.log.Error().Err(qErr).Str("panel_user_id", d.PanelUserID).Msg("failed to re-enqueue panel delta")
	}
}
