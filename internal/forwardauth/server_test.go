package forwardauth

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sitegui/knockd/internal/audit"
	"github.com/sitegui/knockd/internal/config"
	"github.com/sitegui/knockd/internal/gateway"
	"github.com/sitegui/knockd/internal/metrics"
	"github.com/sitegui/knockd/internal/store"
	"github.com/sitegui/knockd/internal/stringhash"
)

func newTestGateway(t *testing.T) *gateway.Gateway {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	auditLog, err := audit.Open(t.TempDir()+"/audit.jsonl", logger)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	return &gateway.Gateway{
		Config: config.Config{
			LoginSessionCookie:  "knock_login",
			GuestSessionCookie:  "knock_guest",
			GuestLinkMarker:     'k',
			LoginHostname:       "https://login.example.com",
			IPSessionExpiration: time.Hour,
			AppTokenExpiration:  time.Hour,
			CookieDomain:        "example.com",
		},
		Store:   store.New(),
		Audit:   auditLog,
		Logger:  logger,
		Metrics: metrics.New(prometheus.NewRegistry()),
	}
}

func TestHandleAllowsLiveLoginSession(t *testing.T) {
	gw := newTestGateway(t)
	now := time.Now()
	clearValue, _, err := gw.Store.CreateLoginSession(now, "alice", netip.MustParseAddr("9.9.9.9"), time.Hour)
	if err != nil {
		t.Fatalf("CreateLoginSession: %v", err)
	}

	srv := New(gw, ":0")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9")
	req.Header.Set("X-Forwarded-Uri", "/dashboard")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "app.example.com")
	req.AddCookie(&http.Cookie{Name: "knock_login", Value: clearValue})

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleDeniesUnknownClient(t *testing.T) {
	gw := newTestGateway(t)

	srv := New(gw, ":0")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "8.8.8.8")
	req.Header.Set("X-Forwarded-Uri", "/dashboard")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "app.example.com")

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", rec.Code)
	}
	location := rec.Header().Get("Location")
	if location == "" {
		t.Fatal("expected Location header on deny redirect")
	}
}

func TestHandleRedirectsLegacyInviteLinkToOriginalURL(t *testing.T) {
	gw := newTestGateway(t)
	now := time.Now()
	visited := "https://app.example.com/doc?tok=abc123"
	original := "https://app.example.com/doc?"

	doc := fmt.Sprintf(`{
		"users": [], "login_sessions": [], "guest_links": [], "guest_sessions": [],
		"ips": [], "app_tokens": [],
		"invite_links": [{
			"link_hash": %q,
			"generated_by": %q,
			"original_length": %d,
			"expires_at": %q
		}]
	}`, stringhash.Of(visited).String(), stringhash.Of("alice").String(), len(original), now.Add(time.Hour).Format(time.RFC3339))

	s, err := store.Unmarshal([]byte(doc))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	gw.Store = s

	srv := New(gw, ":0")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "8.8.8.8")
	req.Header.Set("X-Forwarded-Uri", "/doc?tok=abc123")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "app.example.com")

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", rec.Code)
	}
	if location := rec.Header().Get("Location"); location != original {
		t.Fatalf("expected redirect to %q, got %q", original, location)
	}
}

func TestHandleRejectsMalformedRequest(t *testing.T) {
	gw := newTestGateway(t)

	srv := New(gw, ":0")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	// Missing every X-Forwarded-* header.

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
