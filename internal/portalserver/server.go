// Package portalserver implements the Portal Server: the authenticated UI
// that lists a caller's login sessions and issues guest links, plus the
// Prometheus metrics endpoint.
package portalserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sitegui/knockd/internal/audit"
	"github.com/sitegui/knockd/internal/gateway"
	"github.com/sitegui/knockd/internal/knockduration"
	"github.com/sitegui/knockd/internal/render"
	"github.com/sitegui/knockd/internal/stringhash"
	"github.com/sitegui/knockd/internal/unlockapi"
)

// Server is the Portal Server.
type Server struct {
	gw       *gateway.Gateway
	renderer *render.Renderer
	unlock   *unlockapi.Client
	server   *http.Server
}

// New builds a Server bound to addr.
func New(gw *gateway.Gateway, renderer *render.Renderer, unlock *unlockapi.Client, addr string) *Server {
	mux := http.NewServeMux()
	s := &Server{gw: gw, renderer: renderer, unlock: unlock}
	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("POST /api/v1/guest-link", s.handleGuestLink)
	mux.HandleFunc("POST /api/v1/unlock-system", s.handleUnlockSystem)
	mux.Handle("GET /static/", render.StaticHandler())
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe blocks until ctx is cancelled, then gracefully shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.gw.Logger.Info("starting portal server", "addr", s.server.Addr)
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

// sessionListItem is one row of the portal's session table.
type sessionListItem struct {
	OriginIP  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type portalPageData struct {
	Lang             string
	UserName         string
	Sessions         []sessionListItem
	SystemUnlocked   bool
	UnlockAPIEnabled bool
}

// requireLoginSession resolves the caller's login session cookie, redirecting
// to the login page (with the current URL as callback) when it is missing or
// expired. It returns the zero value and false when it already wrote a
// response.
func (s *Server) requireLoginSession(w http.ResponseWriter, r *http.Request) (userName string, ok bool) {
	cfg := s.gw.Config
	cookie, err := r.Cookie(cfg.LoginSessionCookie)
	if err == nil {
		hash := stringhash.Of(cookie.Value)
		if session, live := s.gw.Store.ValidLoginSession(time.Now(), hash); live {
			return session.UserName, true
		}
	}

	callback := (&url.URL{Scheme: "https", Host: r.Host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}).String()
	loginURL := s.gw.Config.LoginHostname + "/?callback=" + url.QueryEscape(callback)
	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
	return "", false
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	userName, ok := s.requireLoginSession(w, r)
	if !ok {
		return
	}

	sessions := s.gw.Store.LoginSessionsForUser(userName)
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ExpiresAt.After(sessions[j].ExpiresAt)
	})
	items := make([]sessionListItem, len(sessions))
	for i, session := range sessions {
		items[i] = sessionListItem{
			OriginIP:  session.OriginIP.String(),
			CreatedAt: session.CreatedAt,
			ExpiresAt: session.ExpiresAt,
		}
	}

	unlocked := true
	if s.unlock != nil && s.unlock.Enabled() {
		var err error
		unlocked, err = s.unlock.Status(r.Context(), s.gw.Config.UnlockAPIStatusTimeout)
		if err != nil {
			s.gw.Logger.Warn("unlock api status check failed, assuming unlocked", "error", err)
			unlocked = true
		}
	}

	s.renderer.Render(w, "portal.html", portalPageData{
		Lang:             s.gw.Config.I18nLanguage,
		UserName:         userName,
		Sessions:         items,
		SystemUnlocked:   unlocked,
		UnlockAPIEnabled: s.gw.Config.UnlockAPIEnabled,
	})
}

type guestLinkRequest struct {
	URL        string `json:"url"`
	Expiration string `json:"expiration,omitempty"`
}

type guestLinkResponse struct {
	URL string `json:"url"`
}

func (s *Server) handleGuestLink(w http.ResponseWriter, r *http.Request) {
	userName, ok := s.requireLoginSession(w, r)
	if !ok {
		return
	}

	var body guestLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cfg := s.gw.Config
	targetURL, err := url.Parse(body.URL)
	if err != nil || !cfg.HasHost(targetURL.Hostname()) {
		http.Error(w, "invalid url", http.StatusBadRequest)
		return
	}

	expiration := cfg.GuestLinkMaxExpiration
	if body.Expiration != "" {
		expiration, err = knockduration.Parse(body.Expiration)
		if err != nil {
			http.Error(w, "invalid expiration", http.StatusBadRequest)
			return
		}
		if expiration > cfg.GuestLinkMaxExpiration {
			expiration = cfg.GuestLinkMaxExpiration
		}
	}

	now := time.Now()
	cookie, _ := r.Cookie(cfg.LoginSessionCookie)
	loginHash := stringhash.Of(cookie.Value)

	newURL, err := s.gw.Store.CreateGuestLink(now, loginHash, body.URL, expiration, cfg.GuestLinkMarker)
	if err != nil {
		s.gw.Logger.Error("failed to create guest link", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	s.gw.Metrics.GuestLinksIssued.Inc()
	s.gw.Logger.Info("guest link issued", "user", userName, "url", body.URL)
	s.gw.Audit.Report(audit.Event{
		Type:      audit.EventNewInviteLink,
		Timestamp: now.UTC(),
		UserName:  userName,
		Hash:      stringhash.Of(newURL),
		ExpiresAt: now.Add(expiration).UTC(),
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(guestLinkResponse{URL: newURL})
}

type unlockSystemRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleUnlockSystem(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireLoginSession(w, r); !ok {
		return
	}
	if s.unlock == nil || !s.unlock.Enabled() {
		http.Error(w, "unlock api not configured", http.StatusBadRequest)
		return
	}

	var body unlockSystemRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cfg := s.gw.Config
	s.gw.UnlockThrottle.Wait(cfg.UnlockAPIUnlockThrottle)

	unlocked, err := s.unlock.Unlock(r.Context(), body.Password, cfg.UnlockAPIUnlockTimeout)
	if err != nil {
		s.gw.Logger.Error("unlock api request failed", "error", err)
		http.Error(w, "unlock api error", http.StatusBadGateway)
		return
	}
	if !unlocked {
		http.Error(w, "system not unlocked", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}
