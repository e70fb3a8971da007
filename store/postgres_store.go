package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fluxvpn/flux-bot/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = buildPostgresDSNFromEnv()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func buildPostgresDSNFromEnv() string {
	host := strings.TrimSpace(os.Getenv("POSTGRES_HOST"))
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(os.Getenv("POSTGRES_PORT"))
	if port == "" {
		port = "5432"
	}
	db := strings.TrimSpace(os.Getenv("POSTGRES_DB"))
	if db == "" {
		db = "flux_bot"
	}
	user := strings.TrimSpace(os.Getenv("POSTGRES_USER"))
	if user == "" {
		user = "flux_bot"
	}
	pass := os.Getenv("POSTGRES_PASSWORD")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", urlEscape(user), urlEscape(pass), host, port, db)
}

func urlEscape(s string) string {
	r := strings.NewReplacer(
		"%", "%25",
		":", "%3A",
		"/", "%2F",
		"@", "%40",
		"?", "%3F",
		"#", "%23",
		"[", "%5B",
		"]", "%5D",
	)
	return r.Replace(s)
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// InTx runs fn inside one ledger transaction. The boundary is per inbound
// event: every mutation the event causes happens here or not at all.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx types.LedgerTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u types.User) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (user_id, chat_id, username, first_name, language_code)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
  chat_id = EXCLUDED.chat_id,
  username = EXCLUDED.username,
  first_name = EXCLUDED.first_name,
  language_code = EXCLUDED.language_code,
  updated_at = NOW();
`, u.UserID, u.ChatID, strings.TrimSpace(u.Username), strings.TrimSpace(u.FirstName), strings.TrimSpace(u.LanguageCode))
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (*types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	u, err := scanUser(s.pool.QueryRow(ctx, selectUserSQL+` WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrUnknownUser
		}
		return nil, err
	}
	return u, nil
}

// SetReferrer records the referrer for a referee exactly once. A later call
// with a different referrer is a no-op: the back-reference is immutable.
func (s *PostgresStore) SetReferrer(ctx context.Context, refereeID, referrerID int64) error {
	if refereeID == referrerID || referrerID == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE users SET referrer_id = $2, updated_at = NOW()
WHERE user_id = $1 AND referrer_id IS NULL
`, refereeID, referrerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	_, err = tx.Exec(ctx, `
INSERT INTO referrals (referrer_id, referee_id)
VALUES ($1, $2)
ON CONFLICT (referee_id) DO NOTHING
`, referrerID, refereeID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetSubscription(ctx context.Context, userID int64) (*types.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	sub, err := scanSubscription(s.pool.QueryRow(ctx, selectSubscriptionSQL+` WHERE user_id = $1 AND status <> 'cancelled'`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrUnknownSubscription
		}
		return nil, err
	}
	return sub, nil
}

func (s *PostgresStore) GetSubscriptionByPanelID(ctx context.Context, panelUserID string) (*types.Subscription, error) {
	panelUserID = strings.TrimSpace(panelUserID)
	if panelUserID == "" {
		return nil, types.ErrUnknownSubscription
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	sub, err := scanSubscription(s.pool.QueryRow(ctx, selectSubscriptionSQL+` WHERE panel_user_id = $1 AND status <> 'cancelled'`, panelUserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrUnknownSubscription
		}
		return nil, err
	}
	return sub, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID int64, kind types.TransactionKind, limit, offset int) ([]*types.Transaction, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
SELECT id, user_id, amount_kopeks, kind, reason, created_at
FROM transactions
WHERE user_id = $1`
	args := []interface{}{userID}
	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, string(kind))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*types.Transaction, 0, limit)
	for rows.Next() {
		var t types.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.AmountKopeks, &t.Kind, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// GiftBalance moves balance between two users and records a gift_sent /
// gift_received transaction pair, all in one transaction.
func (s *PostgresStore) GiftBalance(ctx context.Context, fromUserID, toUserID, amountKopeks int64, reason string) error {
	if amountKopeks <= 0 {
		return fmt.Errorf("gift amount must be positive")
	}
	if fromUserID == toUserID {
		return fmt.Errorf("cannot gift to self")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.InTx(ctx, func(tx types.LedgerTx) error {
		if _, err := tx.DeductBalance(ctx, fromUserID, amountKopeks); err != nil {
			return err
		}
		if _, err := tx.AddBalance(ctx, toUserID, amountKopeks); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &types.Transaction{
			UserID:       fromUserID,
			AmountKopeks: -amountKopeks,
			Kind:         types.KindGiftSent,
			Reason:       reason,
		}); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, &types.Transaction{
			UserID:       toUserID,
			AmountKopeks: amountKopeks,
			Kind:         types.KindGiftReceived,
			Reason:       reason,
		})
	})
}

func (s *PostgresStore) GetPromoCode(ctx context.Context, code string) (*types.PromoCode, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var pc types.PromoCode
	err := s.pool.QueryRow(ctx, `
SELECT id, code, bonus_days, bonus_kopeks, max_uses, used_count, valid_from, valid_until, active, created_at
FROM promo_codes
WHERE code = $1
`, strings.TrimSpace(code)).Scan(&pc.ID, &pc.Code, &pc.BonusDays, &pc.BonusKopeks, &pc.MaxUses, &pc.UsedCount, &pc.ValidFrom, &pc.ValidUntil, &pc.Active, &pc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

func (s *PostgresStore) InsertPanelSyncLog(ctx context.Context, rec types.PanelSyncLog) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO panel_sync_log (user_id, sync_type, payload_hash, status_code, error)
VALUES ($1, $2, $3, $4, $5)
`, rec.UserID, rec.SyncType, rec.PayloadHash, rec.StatusCode, strings.TrimSpace(rec.Error))
	return err
}

const selectUserSQL = `
SELECT user_id, chat_id, username, first_name, language_code, balance_kopeks, trial_used, banned, referrer_id, created_at, updated_at
FROM users`

const selectSubscriptionSQL = `
SELECT id, user_id, status, expires_at, traffic_limit_mb, traffic_reset, panel_user_id, provider, auto_renew, cancelled_at, created_at, updated_at
FROM subscriptions`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(&u.UserID, &u.ChatID, &u.Username, &u.FirstName, &u.LanguageCode, &u.BalanceKopeks, &u.TrialUsed, &u.Banned, &u.ReferrerID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var sub types.Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Status, &sub.ExpiresAt, &sub.TrafficLimitMB, &sub.TrafficReset, &sub.PanelUserID, &sub.Provider, &sub.AutoRenew, &sub.CancelledAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
