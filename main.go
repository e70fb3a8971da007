package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fluxvpn/flux-bot/internal/config"
	"github.com/fluxvpn/flux-bot/internal/handlers"
	"github.com/fluxvpn/flux-bot/internal/notify"
	"github.com/fluxvpn/flux-bot/internal/panel"
	"github.com/fluxvpn/flux-bot/internal/providers"
	"github.com/fluxvpn/flux-bot/internal/reconcile"
	"github.com/fluxvpn/flux-bot/internal/webhook"
	"github.com/fluxvpn/flux-bot/store"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = config.LoadEnvFile("config.env")

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if os.Getenv("LOG_PRETTY") == "1" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.FromEnv()
	if cfg.BotToken == "" {
		log.Fatal().Msg("BOT_TOKEN is required")
	}

	redisHost := os.Getenv("REDIS_HOST")
	if redisHost == "" {
		redisHost = "localhost"
	}
	redisPort := os.Getenv("REDIS_PORT")
	if redisPort == "" {
		redisPort = "6379"
	}
	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Warn().Str("value", v).Msg("invalid REDIS_DB, using 0")
		} else {
			redisDB = n
		}
	}
	rdb, err := store.NewRedisClient(fmt.Sprintf("%s:%s", redisHost, redisPort), os.Getenv("REDIS_PASSWORD"), redisDB, "flux_bot")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer rdb.Close()

	pgStore, err := store.NewPostgresStore(ctx, os.Getenv("POSTGRES_DSN"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	defer pgStore.Close()

	dedup := store.NewRedisDedupStore(rdb, cfg.DedupLockTTL, cfg.DedupWait, cfg.DedupRetention)
	queue := store.NewRedisPanelQueue(rdb)
	limiter := store.NewRedisRateLimiter(rdb, cfg.RateLimitPerMin)

	httpClient := &http.Client{Timeout: 10 * time.Minute}
	b, err := bot.New(cfg.BotToken, bot.WithHTTPClient(50*time.Second, httpClient))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bot")
	}

	panelClient := panel.NewClient(cfg, pgStore, log)
	syncer := panel.NewSyncer(panelClient, queue, log)
	sweeper := panel.NewSweeper(cfg, panelClient, queue, log)

	notifier := notify.NewTelegramNotifier(b, pgStore, cfg.OperatorChatID, log)
	reconciler := reconcile.NewReconciler(cfg, pgStore, dedup, syncer, notifier, log)

	registry := providers.NewRegistry(cfg)
	server := webhook.NewServer(cfg, registry, reconciler, limiter, log)

	h := handlers.NewHandlers(cfg, pgStore, reconciler, log)

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil
	}, h.MainHandler)
	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.PreCheckoutQuery != nil
	}, h.MainHandler)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.WebhookListenAddr).Msg("webhook server started")
		return server.Run(ctx)
	})
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
	g.Go(func() error {
		log.Info().Msg("bot started")
		b.Start(ctx)
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("engine stopped")
	}
	log.Info().Msg("shutdown complete")
}
