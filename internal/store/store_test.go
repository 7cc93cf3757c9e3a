package store

import (
	"net/netip"
	"testing"
	"time"

	"github.com/sitegui/knockd/internal/stringhash"
)

func TestCreateAndValidateLoginSession(t *testing.T) {
	s := New()
	now := time.Now()

	clearValue, hash, err := s.CreateLoginSession(now, "alice", netip.MustParseAddr("9.9.9.9"), time.Hour)
	if err != nil {
		t.Fatalf("CreateLoginSession: %v", err)
	}

	session, ok := s.ValidLoginSession(now, hash)
	if !ok {
		t.Fatal("expected newly created session to be valid")
	}
	if session.UserName != "alice" {
		t.Fatalf("expected user alice, got %s", session.UserName)
	}
	if len(clearValue) != 32 {
		t.Fatalf("expected 32-char hex cookie value, got %d chars", len(clearValue))
	}

	if _, ok := s.ValidLoginSession(now.Add(2*time.Hour), hash); ok {
		t.Fatal("expected session to be expired after its expiration time")
	}
}

func TestGuestLinkRoundTrip(t *testing.T) {
	s := New()
	now := time.Now()
	loginHash := stringhash.Of("whatever")

	newURL, err := s.CreateGuestLink(now, loginHash, "https://app.example.com/doc?", time.Hour, 'k')
	if err != nil {
		t.Fatalf("CreateGuestLink: %v", err)
	}
	if newURL[len(newURL)-1] != 'k' {
		t.Fatalf("expected URL to end with marker character, got %q", newURL)
	}

	link, lookup := s.ValidGuestLink(now, newURL, 'k')
	if lookup != GuestLinkOK {
		t.Fatalf("expected GuestLinkOK, got %v", lookup)
	}
	recovered := newURL[:len(newURL)-link.SuffixLength]
	if recovered != "https://app.example.com/doc?" {
		t.Fatalf("expected to recover original URL, got %q", recovered)
	}
}

func TestGuestLinkLookupRequiresMarker(t *testing.T) {
	s := New()
	_, lookup := s.ValidGuestLink(time.Now(), "https://app.example.com/doc", 'k')
	if lookup != GuestLinkNone {
		t.Fatalf("expected GuestLinkNone for URL without marker, got %v", lookup)
	}
}

func TestGuestLinkLookupExpired(t *testing.T) {
	s := New()
	now := time.Now()
	loginHash := stringhash.Of("whatever")

	newURL, err := s.CreateGuestLink(now, loginHash, "https://app.example.com/doc?", time.Minute, 'k')
	if err != nil {
		t.Fatalf("CreateGuestLink: %v", err)
	}

	_, lookup := s.ValidGuestLink(now.Add(time.Hour), newURL, 'k')
	if lookup != GuestLinkExpired {
		t.Fatalf("expected GuestLinkExpired, got %v", lookup)
	}
}

func TestUpdateIPSessionExtendsExpiration(t *testing.T) {
	s := New()
	now := time.Now()
	addr := netip.MustParseAddr("9.9.9.9")
	_, hash, _ := s.CreateLoginSession(now, "alice", addr, time.Hour)

	s.UpdateIPSession(now, addr, &hash, nil, 30*time.Minute)

	session, ok := s.ValidIP(now, addr)
	if !ok {
		t.Fatal("expected IP session to be valid")
	}
	if !session.LoginSessions.Contains(hash) {
		t.Fatal("expected IP session to reference the login session hash")
	}
	if !session.ExpiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiration: %v", session.ExpiresAt)
	}
}

func TestUpdateAppTokenCreatesAndExtends(t *testing.T) {
	s := New()
	now := time.Now()
	addr := netip.MustParseAddr("1.2.3.4")
	hash := stringhash.Of("example.com,Bearer abc")

	s.UpdateAppToken(now, hash, "example.com", nil, addr, time.Hour)
	token, ok := s.ValidAppToken(now, hash)
	if !ok {
		t.Fatal("expected token to be valid")
	}
	if token.Host != "example.com" {
		t.Fatalf("expected host example.com, got %s", token.Host)
	}
	if !token.IPs.Contains(addr) {
		t.Fatal("expected token to reference the IP")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	s := New()
	now := time.Now().Truncate(time.Second).UTC()
	_, hash, err := s.CreateLoginSession(now, "alice", netip.MustParseAddr("9.9.9.9"), time.Hour)
	if err != nil {
		t.Fatalf("CreateLoginSession: %v", err)
	}

	data, err := s.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	restored, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	session, ok := restored.ValidLoginSession(now, hash)
	if !ok {
		t.Fatal("expected restored store to contain the login session")
	}
	if session.UserName != "alice" {
		t.Fatalf("expected user alice, got %s", session.UserName)
	}
}

func TestUnmarshalEmptyDocument(t *testing.T) {
	s, err := Unmarshal([]byte(`{}`))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := s.ValidLoginSession(time.Now(), stringhash.Of("nonexistent")); ok {
		t.Fatal("expected empty store to have no sessions")
	}
}
