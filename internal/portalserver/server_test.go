package portalserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sitegui/knockd/internal/audit"
	"github.com/sitegui/knockd/internal/config"
	"github.com/sitegui/knockd/internal/gateway"
	"github.com/sitegui/knockd/internal/metrics"
	"github.com/sitegui/knockd/internal/render"
	"github.com/sitegui/knockd/internal/store"
	"github.com/sitegui/knockd/internal/throttle"
	"github.com/sitegui/knockd/internal/unlockapi"
)

func newTestServer(t *testing.T) (*Server, *gateway.Gateway, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	auditLog, err := audit.Open(t.TempDir()+"/audit.jsonl", logger)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	renderer, err := render.New(nil, logger)
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}

	st := store.New()
	now := time.Now()
	clearValue, _, err := st.CreateLoginSession(now, "alice", netip.MustParseAddr("9.9.9.9"), time.Hour)
	if err != nil {
		t.Fatalf("CreateLoginSession: %v", err)
	}

	gw := &gateway.Gateway{
		Config: config.Config{
			LoginSessionCookie:     "knock_login",
			LoginHostname:          "https://login.example.com",
			CookieDomain:           "example.com",
			GuestLinkMaxExpiration: 30 * 24 * time.Hour,
			GuestLinkMarker:        'k',
			ValidHosts:             []string{"app.example.com"},
		},
		Store:          st,
		Audit:          auditLog,
		Logger:         logger,
		Metrics:        metrics.New(prometheus.NewRegistry()),
		UnlockThrottle: throttle.New(),
	}

	srv := New(gw, renderer, unlockapi.New(""), ":0")
	return srv, gw, clearValue
}

func TestHandleIndexRedirectsWithoutSession(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", rec.Code)
	}
}

func TestHandleIndexServesWithLiveSession(t *testing.T) {
	srv, _, clearValue := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "knock_login", Value: clearValue})
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGuestLinkIssuesURL(t *testing.T) {
	srv, gw, clearValue := newTestServer(t)

	body := strings.NewReader(`{"url":"https://app.example.com/shared"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/guest-link", body)
	req.AddCookie(&http.Cookie{Name: "knock_login", Value: clearValue})
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "https://app.example.com/sharedk") && !strings.Contains(rec.Body.String(), "\"url\":\"https://app.example.com/shared") {
		t.Fatalf("expected new url in response, got %s", rec.Body.String())
	}
	_ = gw
}

func TestHandleGuestLinkRejectsDisallowedHost(t *testing.T) {
	srv, _, clearValue := newTestServer(t)

	body := strings.NewReader(`{"url":"https://evil.example.org/"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/guest-link", body)
	req.AddCookie(&http.Cookie{Name: "knock_login", Value: clearValue})
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleUnlockSystemRequiresAPIConfigured(t *testing.T) {
	srv, _, clearValue := newTestServer(t)

	body := strings.NewReader(`{"password":"secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/unlock-system", body)
	req.AddCookie(&http.Cookie{Name: "knock_login", Value: clearValue})
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when unlock api is not configured, got %d", rec.Code)
	}
}

func TestMetricsEndpointServesWithoutAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
