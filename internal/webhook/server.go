package webhook

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fluxvpn/flux-bot/internal/config"
	"github.com/fluxvpn/flux-bot/internal/providers"
	"github.com/fluxvpn/flux-bot/internal/reconcile"
	"github.com/fluxvpn/flux-bot/store"
	"github.com/fluxvpn/flux-bot/types"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// Server receives provider and panel webhooks on POST /webhooks/{provider}.
// It owns transport concerns only: body capture, rate limiting, signature
// dispatch, status-code mapping. Ledger semantics live in the reconciler.
type Server struct {
	cfg        config.Config
	registry   *providers.Registry
	reconciler *reconcile.Reconciler
	limiter    *store.RedisRateLimiter
	log        zerolog.Logger
	srv        *http.Server
}

func NewServer(cfg config.Config, registry *providers.Registry, rec *reconcile.Reconciler, limiter *store.RedisRateLimiter, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		registry:   registry,
		reconciler: rec,
		limiter:    limiter,
		log:        log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/", s.handleWebhook)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.srv = &http.Server{
		Addr:              cfg.WebhookListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestDeadline + 5*time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tag := strings.TrimPrefix(r.URL.Path, "/webhooks/")
	if tag == "" || strings.Contains(tag, "/") {
		http.NotFound(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestDeadline)
	defer cancel()

	if allowed, err := s.limiter.Allow(ctx, tag); err != nil {
		s.log.Error().Err(err).Str("provider", tag).Msg("rate limiter unavailable")
	} else if !allowed {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	req := &providers.Request{
		Body:     body,
		Header:   r.Header,
		RemoteIP: remoteIP(r),
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		// Re-parse the captured bytes so Body stays the signing source.
		if form, err := url.ParseQuery(string(body)); err == nil {
			req.Form = form
		}
	}

	if tag == string(types.ProviderPanel) {
		s.handlePanel(ctx, w, req)
		return
	}

	provider, ok := s.registry.Lookup(tag)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if err := provider.Verify(req); err != nil {
		s.log.Warn().Str("provider", tag).Str("remote_ip", req.RemoteIP).Msg("webhook signature rejected")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	ev, err := provider.Parse(req)
	if err != nil {
		// Authenticated but unparseable: acknowledge so the provider stops
		// retrying a payload that will never parse.
		s.log.Error().Err(err).Str("provider", tag).Msg("webhook payload rejected")
		w.WriteHeader(http.StatusOK)
		return
	}

	s.respond(w, tag, ev.EventID, s.reconciler.ProcessPayment(ctx, *ev))
}

func (s *Server) handlePanel(ctx context.Context, w http.ResponseWriter, req *providers.Request) {
	panel := s.registry.Panel()
	if err := panel.Verify(req); err != nil {
		s.log.Warn().Str("remote_ip", req.RemoteIP).Msg("panel webhook signature rejected")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	ev, err := panel.ParseEvent(req.Body)
	if err != nil {
		s.log.Error().Err(err).Msg("panel payload rejected")
		w.WriteHeader(http.StatusOK)
		return
	}
	s.respond(w, string(types.ProviderPanel), ev.EventID, s.reconciler.ProcessPanelEvent(ctx, *ev))
}

// respond maps reconciliation outcomes onto provider-facing status codes.
// Duplicates and permanently unprocessable events are acknowledged; only a
// transient failure asks the provider to retry.
func (s *Server) respond(w http.ResponseWriter, tag, eventID string, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, types.ErrDuplicateEvent):
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, types.ErrEventInFlight):
		http.Error(w, "event in flight", http.StatusConflict)
	case reconcile.IsFatal(err):
		s.log.Error().Err(err).Str("provider", tag).Str("event_id", eventID).Msg("event permanently unprocessable")
		w.WriteHeader(http.StatusOK)
	default:
		s.log.Error().Err(err).Str("provider", tag).Str("event_id", eventID).Msg("event processing failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func remoteIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
