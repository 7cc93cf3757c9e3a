// Package loginserver implements the Login Server: the TOTP login page and
// action that issues a login session cookie.
package loginserver

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/sitegui/knockd/internal/audit"
	"github.com/sitegui/knockd/internal/bantimer"
	"github.com/sitegui/knockd/internal/gateway"
	"github.com/sitegui/knockd/internal/render"
)

// Server is the Login Server.
type Server struct {
	gw       *gateway.Gateway
	renderer *render.Renderer
	server   *http.Server
}

// New builds a Server bound to addr.
func New(gw *gateway.Gateway, renderer *render.Renderer, addr string) *Server {
	mux := http.NewServeMux()
	s := &Server{gw: gw, renderer: renderer}
	mux.HandleFunc("GET /", s.handleGet)
	mux.HandleFunc("POST /", s.handlePost)
	mux.Handle("GET /static/", render.StaticHandler())

	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe blocks until ctx is cancelled, then gracefully shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.gw.Logger.Info("starting login server", "addr", s.server.Addr)
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

type loginPageData struct {
	Lang     string
	Callback string
	Message  string
	Error    string
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.renderer.Render(w, "login.html", loginPageData{
		Lang:     s.gw.Config.I18nLanguage,
		Callback: q.Get("callback"),
		Message:  s.messageFor(q.Get("message")),
	})
}

func (s *Server) messageFor(key string) string {
	if key == "" {
		return ""
	}
	tr, err := s.gw.I18n.Translator(s.gw.Config.I18nLanguage)
	if err != nil {
		return ""
	}
	return tr.Translate("message." + key)
}

// handlePost implements the login action protocol: throttle, validate the
// callback host, consult both ban timers under the store lock, verify the
// submitted TOTP code, and on success mint a login session cookie.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	cfg := s.gw.Config

	s.gw.LoginThrottle.Wait(cfg.LoginThrottle)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	callback := r.FormValue("callback")
	userName := r.FormValue("user")
	code := r.FormValue("code")

	callbackURL, err := url.Parse(callback)
	if err != nil || !cfg.HasHost(callbackURL.Hostname()) {
		http.Error(w, "invalid callback", http.StatusBadRequest)
		return
	}

	clientIP, err := clientIPFromHeader(r)
	if err != nil {
		http.Error(w, "invalid client ip", http.StatusBadRequest)
		return
	}

	now := time.Now()

	outcome := s.attemptLogin(now, clientIP, userName, code)

	switch outcome {
	case loginBanned:
		s.gw.Metrics.LoginAttempts.WithLabelValues("banned").Inc()
		w.WriteHeader(http.StatusUnauthorized)
		return
	case loginUnknownUser:
		s.gw.Metrics.LoginAttempts.WithLabelValues("unknown_user").Inc()
		w.WriteHeader(http.StatusUnauthorized)
		return
	case loginBadTOTP:
		s.gw.Metrics.LoginAttempts.WithLabelValues("bad_totp").Inc()
		s.renderer.Render(w, "login.html", loginPageData{
			Lang:     cfg.I18nLanguage,
			Callback: callback,
			Error:    s.messageFor("invalid_credentials"),
		})
		return
	}
	s.gw.Metrics.LoginAttempts.WithLabelValues("success").Inc()

	clearValue, hash, err := s.gw.Store.CreateLoginSession(now, userName, clientIP, cfg.LoginSessionExpiration)
	if err != nil {
		s.gw.Logger.Error("failed to create login session", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	s.gw.Store.UpdateIPSession(now, clientIP, &hash, nil, cfg.IPSessionExpiration)

	s.gw.Audit.Report(audit.Event{
		Type:      audit.EventNewLoginSession,
		Timestamp: now.UTC(),
		IP:        clientIP,
		UserName:  userName,
		Hash:      hash,
		ExpiresAt: now.Add(cfg.LoginSessionExpiration).UTC(),
	})

	http.SetCookie(w, &http.Cookie{
		Name:     cfg.LoginSessionCookie,
		Value:    clearValue,
		Domain:   cfg.CookieDomain,
		Path:     "/",
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(cfg.LoginSessionExpiration.Seconds()),
	})

	http.Redirect(w, r, callback, http.StatusTemporaryRedirect)
}

// loginOutcome is the result of attemptLogin.
type loginOutcome int

const (
	// loginBanned means the IP or the user is currently banned; the TOTP
	// code was never even checked.
	loginBanned loginOutcome = iota
	// loginUnknownUser means neither timer was banned, but userName has no
	// registered TOTP secrets; both timers still recorded a failure.
	loginUnknownUser
	// loginBadTOTP means neither timer was banned and userName is known,
	// but the submitted code did not validate; both timers recorded a
	// failure.
	loginBadTOTP
	// loginOK means the code validated; both timers were reset.
	loginOK
)

// attemptLogin resolves the IP ban timer, the user ban timer, and the TOTP
// check as a single atomic step. Both BanTimer.attempt and its resolution
// (Success or the implicit failure on Finish) must happen while the store's
// lock is held, so the whole decision - including the TOTP check itself -
// runs inside one WithLoginBanTimers closure rather than straddling it.
func (s *Server) attemptLogin(now time.Time, ip netip.Addr, userName, code string) loginOutcome {
	cfg := s.gw.Config
	outcome := loginBanned

	s.gw.Store.WithLoginBanTimers(ip, userName, func(ipTimer, userTimer *bantimer.Timer) {
		var ipAllowed, userAllowed bool
		// Deferred first so it runs after both Finish calls: counts each
		// timer whose attempt has just tripped a new ban.
		defer func() {
			if ipAllowed && ipTimer.Banned(now) {
				s.gw.Metrics.BansTriggered.WithLabelValues("ip").Inc()
			}
			if userAllowed && userTimer.Banned(now) {
				s.gw.Metrics.BansTriggered.WithLabelValues("user").Inc()
			}
		}()

		ipAttempt, ipAllowed := bantimer.Begin(ipTimer, now, cfg.FailedLoginMaxAttemptsPerIP, cfg.FailedLoginBan)
		defer ipAttempt.Finish()
		userAttempt, userAllowed := bantimer.Begin(userTimer, now, cfg.FailedLoginMaxAttemptsPerUser, cfg.FailedLoginBan)
		defer userAttempt.Finish()

		if !ipAllowed || !userAllowed {
			return
		}

		if len(s.gw.Users[userName]) == 0 {
			outcome = loginUnknownUser
			return
		}

		if !s.gw.Users.Verify(userName, code) {
			outcome = loginBadTOTP
			return
		}

		ipAttempt.Success()
		userAttempt.Success()
		outcome = loginOK
	})

	return outcome
}

func clientIPFromHeader(r *http.Request) (netip.Addr, error) {
	v := r.Header.Get("X-Forwarded-For")
	if v == "" {
		return netip.Addr{}, fmt.Errorf("loginserver: missing x-forwarded-for")
	}
	first, _, _ := strings.Cut(v, ",")
	return netip.ParseAddr(strings.TrimSpace(first))
}
