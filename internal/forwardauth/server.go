// Package forwardauth implements the Forward-Auth Server: the hot-path
// sub-request handler a reverse proxy calls once per incoming request to
// decide whether to let it through.
package forwardauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sitegui/knockd/internal/access"
	"github.com/sitegui/knockd/internal/audit"
	"github.com/sitegui/knockd/internal/gateway"
	"github.com/sitegui/knockd/internal/ratelimit"
	"github.com/sitegui/knockd/internal/request"
	"github.com/sitegui/knockd/internal/store"
	"github.com/sitegui/knockd/internal/stringhash"
	"github.com/sitegui/knockd/internal/telemetry"
)

// Server is the Forward-Auth Server.
type Server struct {
	gw     *gateway.Gateway
	server *http.Server
}

// New builds a Server bound to addr ("host:port").
func New(gw *gateway.Gateway, addr string) *Server {
	mux := http.NewServeMux()
	s := &Server{gw: gw}
	mux.HandleFunc("/", s.handle)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe blocks until ctx is cancelled, then gracefully shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.gw.Logger.Info("starting forward-auth server", "addr", s.server.Addr)
		err := s.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cfg := s.gw.Config

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)

	ctx, span := telemetry.Tracer().Start(r.Context(), "forward_auth",
		trace.WithAttributes(attribute.String("request_id", requestID)))
	defer span.End()
	r = r.WithContext(ctx)

	if s.gw.RateLimiter != nil {
		host := r.Header.Get("X-Forwarded-Host")
		ip := r.Header.Get("X-Forwarded-For")
		key := ratelimit.Key(ip, host)
		result := s.gw.RateLimiter.Allow(key, ratelimit.Config{
			Rate:   cfg.ForwardAuthRate,
			Period: time.Second,
			Burst:  cfg.ForwardAuthBurst,
		})
		if !result.Allowed {
			s.gw.Logger.Debug("forward-auth request throttled", "ip", ip, "host", host)
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", result.RetryAfter.Seconds()))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
	}

	info, err := request.Decode(r, cfg.LoginSessionCookie, cfg.GuestSessionCookie, start)
	if err != nil {
		s.gw.Logger.Warn("forward-auth request decode failed", "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	level := access.Resolve(access.Dependencies{
		Store:           s.gw.Store,
		AllowedNetworks: cfg.AllowedNetworks,
		PolicyRules:     s.gw.PolicyRules,
		GuestLinkMarker: cfg.GuestLinkMarker,
	}, info)

	label := levelLabel(level)
	span.SetAttributes(
		attribute.String("client_ip", info.ClientIP.String()),
		attribute.String("host", info.Host),
		attribute.String("access_level", label),
	)

	s.respond(w, info, level)

	s.gw.Metrics.ForwardAuthDecisions.WithLabelValues(label).Inc()
	s.gw.Metrics.ForwardAuthDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

func (s *Server) respond(w http.ResponseWriter, info request.Info, level access.Level) {
	cfg := s.gw.Config
	now := info.Arrival

	switch level.Kind {
	case access.KindLoginSession:
		// The Rust original computes the response (OK or redirect) but
		// always runs update_ip_session/update_app_token before returning
		// it, so a guest-link redirect never skips the session bookkeeping
		// for the single request that carries both.
		s.gw.Store.UpdateIPSession(now, info.ClientIP, &level.LoginSession.ValueHash, info.AppTokenHash, cfg.IPSessionExpiration)
		if info.AppTokenHash != nil {
			s.gw.Store.UpdateAppToken(now, *info.AppTokenHash, info.Host, &level.LoginSession.ValueHash, info.ClientIP, cfg.AppTokenExpiration)
		}
		s.gw.Audit.Report(audit.Event{
			Type:      audit.EventIPAllowed,
			Timestamp: now.UTC(),
			IP:        info.ClientIP,
			UserName:  level.LoginSession.UserName,
			Hash:      level.LoginSession.ValueHash,
		})

		if level.MatchedGuestLink != nil {
			s.redirectToTarget(w, strippedURL(info.URL(), *level.MatchedGuestLink))
			return
		}
		w.WriteHeader(http.StatusOK)

	case access.KindGuestSession:
		if level.MatchedGuestLink != nil {
			s.gw.Store.UpdateGuestSession(info.Host, level.MatchedGuestLink.URLHash, level.GuestSession.ValueHash)
			s.redirectToTarget(w, strippedURL(info.URL(), *level.MatchedGuestLink))
			return
		}
		w.WriteHeader(http.StatusOK)

	case access.KindGuestLink:
		clearValue, err := s.gw.Store.CreateGuestSession(now, level.GuestLink.URLHash, info.Host, info.ClientIP, cfg.GuestSessionExpiration)
		if err != nil {
			s.gw.Logger.Error("failed to create guest session", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     cfg.GuestSessionCookie,
			Value:    clearValue,
			Domain:   cfg.CookieDomain,
			Path:     "/",
			Secure:   true,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(cfg.GuestSessionExpiration.Seconds()),
		})
		s.gw.Audit.Report(audit.Event{
			Type:      audit.EventNewInviteeSession,
			Timestamp: now.UTC(),
			IP:        info.ClientIP,
			Hash:      stringhash.Of(clearValue),
			ExpiresAt: now.Add(cfg.GuestSessionExpiration).UTC(),
		})
		s.redirectToTarget(w, strippedURL(info.URL(), level.GuestLink))

	case access.KindAppToken:
		s.gw.Store.UpdateAppToken(now, level.AppToken.ValueHash, info.Host, nil, info.ClientIP, cfg.AppTokenExpiration)
		s.gw.Store.UpdateIPSession(now, info.ClientIP, nil, &level.AppToken.ValueHash, cfg.IPSessionExpiration)
		w.WriteHeader(http.StatusOK)

	case access.KindIP:
		if info.AppTokenHash != nil {
			s.gw.Store.UpdateAppToken(now, *info.AppTokenHash, info.Host, nil, info.ClientIP, cfg.AppTokenExpiration)
		}
		s.gw.Store.UpdateIPSession(now, info.ClientIP, nil, info.AppTokenHash, cfg.IPSessionExpiration)
		s.gw.Audit.Report(audit.Event{
			Type:      audit.EventIPAllowed,
			Timestamp: now.UTC(),
			IP:        info.ClientIP,
		})
		w.WriteHeader(http.StatusOK)

	case access.KindAllowedNetwork, access.KindPolicyRule:
		w.WriteHeader(http.StatusOK)

	case access.KindInviteLink:
		s.redirectToTarget(w, originalURL(info.URL(), level.InviteLink))

	default: // access.KindNone
		message := ""
		if level.GuestLinkExpired {
			message = "guest_link_expired"
		}
		s.redirectToLogin(w, info.URL(), message)
	}
}

// redirectToTarget sends the browser straight back to target (same app,
// possibly with its guest-link token stripped); no login host involved.
func (s *Server) redirectToTarget(w http.ResponseWriter, target string) {
	w.Header().Set("Location", target)
	w.WriteHeader(http.StatusTemporaryRedirect)
}

// redirectToLogin denies the request, sending the browser to the login
// server with callback set to the original URL and an optional message
// code explaining why.
func (s *Server) redirectToLogin(w http.ResponseWriter, callback, message string) {
	loginURL := fmt.Sprintf("%s/?callback=%s", s.gw.Config.LoginHostname, url.QueryEscape(callback))
	if message != "" {
		loginURL += "&message=" + url.QueryEscape(message)
	}
	w.Header().Set("Location", loginURL)
	w.WriteHeader(http.StatusTemporaryRedirect)
}

// strippedURL removes the random-token-plus-marker suffix a guest link
// appended to the original URL, so the browser ends up on the clean link.
func strippedURL(fullURL string, link store.GuestLink) string {
	if len(fullURL) < link.SuffixLength {
		return fullURL
	}
	return fullURL[:len(fullURL)-link.SuffixLength]
}

// originalURL recovers the URL an invite link was minted from by truncating
// the currently-visited full URL back to OriginalLength, the inverse of
// strippedURL's suffix-stripping for a GuestLink.
func originalURL(fullURL string, link store.InviteLink) string {
	if link.OriginalLength <= 0 || link.OriginalLength > len(fullURL) {
		return fullURL
	}
	return fullURL[:link.OriginalLength]
}

func levelLabel(level access.Level) string {
	switch level.Kind {
	case access.KindLoginSession:
		return "login_session"
	case access.KindGuestSession:
		return "guest_session"
	case access.KindGuestLink:
		return "guest_link"
	case access.KindAppToken:
		return "app_token"
	case access.KindIP:
		return "ip"
	case access.KindAllowedNetwork:
		return "allowed_network"
	case access.KindPolicyRule:
		return "policy_rule"
	case access.KindInviteLink:
		return "invite_link"
	default:
		return "none"
	}
}
