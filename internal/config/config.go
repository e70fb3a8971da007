package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is built once at startup and passed to components by value.
// Components never read the environment themselves.
type Config struct {
	BotToken       string
	OperatorChatID int64

	WebhookListenAddr string
	RequestDeadline   time.Duration
	RateLimitPerMin   int

	YooKassaSecret      string
	TributeSecret       string
	CryptoPayToken      string
	FreeKassaMerchantID string
	FreeKassaSecret     string
	FreeKassaAllowedIPs []string
	StarsSecretToken    string
	PanelWebhookSecret  string

	PanelBaseURL      string
	PanelAPIToken     string
	PanelSyncAttempts int
	PanelSweepWorkers int

	TrialDays      int
	TrialTrafficMB int64
	PaidTrafficMB  int64

	// PlanPriceKopeks maps purchasable durations in days to their price.
	PlanPriceKopeks map[int]int64

	ReferrerBonusDaysPerMonth int
	RefereeBonusDaysPerMonth  int
	OneBonusPerReferee        bool

	GraceHours int

	DedupLockTTL   time.Duration
	DedupWait      time.Duration
	DedupRetention time.Duration
}

func FromEnv() Config {
	return Config{
		BotToken:       strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		OperatorChatID: int64(getEnvInt("OPERATOR_CHAT_ID", 0)),

		WebhookListenAddr: getEnvStr("WEBHOOK_LISTEN_ADDR", ":8443"),
		RequestDeadline:   time.Duration(getEnvInt("WEBHOOK_DEADLINE_SECONDS", 25)) * time.Second,
		RateLimitPerMin:   getEnvInt("WEBHOOK_RATE_LIMIT_PER_MIN", 120),

		YooKassaSecret:      strings.TrimSpace(os.Getenv("YOOKASSA_WEBHOOK_SECRET")),
		TributeSecret:       strings.TrimSpace(os.Getenv("TRIBUTE_WEBHOOK_SECRET")),
		CryptoPayToken:      strings.TrimSpace(os.Getenv("CRYPTOPAY_API_TOKEN")),
		FreeKassaMerchantID: strings.TrimSpace(os.Getenv("FREEKASSA_MERCHANT_ID")),
		FreeKassaSecret:     strings.TrimSpace(os.Getenv("FREEKASSA_SECRET")),
		FreeKassaAllowedIPs: getEnvList("FREEKASSA_ALLOWED_IPS"),
		StarsSecretToken:    strings.TrimSpace(os.Getenv("STARS_SECRET_TOKEN")),
		PanelWebhookSecret:  strings.TrimSpace(os.Getenv("PANEL_WEBHOOK_SECRET")),

		PanelBaseURL:      strings.TrimRight(getEnvStr("PANEL_BASE_URL", "http://localhost:8000"), "/"),
		PanelAPIToken:     strings.TrimSpace(os.Getenv("PANEL_API_TOKEN")),
		PanelSyncAttempts: getEnvInt("PANEL_SYNC_ATTEMPTS", 4),
		PanelSweepWorkers: getEnvInt("PANEL_SWEEP_WORKERS", 2),

		TrialDays:      getEnvInt("TRIAL_DAYS", 3),
		TrialTrafficMB: int64(getEnvInt("TRIAL_TRAFFIC_MB", 5*1024)),
		PaidTrafficMB:  int64(getEnvInt("PAID_TRAFFIC_MB", 100*1024)),

		PlanPriceKopeks: map[int]int64{
			30:  int64(getEnvInt("PLAN_PRICE_30_KOPEKS", 19900)),
			90:  int64(getEnvInt("PLAN_PRICE_90_KOPEKS", 49900)),
			180: int64(getEnvInt("PLAN_PRICE_180_KOPEKS", 89900)),
		},

		ReferrerBonusDaysPerMonth: getEnvInt("REFERRER_BONUS_DAYS", 7),
		RefereeBonusDaysPerMonth:  getEnvInt("REFEREE_BONUS_DAYS", 3),
		OneBonusPerReferee:        getEnvBool("ONE_BONUS_PER_REFEREE", true),

		GraceHours: getEnvInt("GRACE_HOURS", 24),

		DedupLockTTL:   time.Duration(getEnvInt("DEDUP_LOCK_TTL_SECONDS", 30)) * time.Second,
		DedupWait:      time.Duration(getEnvInt("DEDUP_WAIT_SECONDS", 3)) * time.Second,
		DedupRetention: time.Duration(getEnvInt("DEDUP_RETENTION_HOURS", 72)) * time.Hour,
	}
}

func getEnvStr(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

func getEnvList(name string) []string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
