package store

import (
	"net/netip"
	"time"

	"github.com/sitegui/knockd/internal/bantimer"
	"github.com/sitegui/knockd/internal/stringhash"
)

// User is keyed by user name; it exists purely to carry a per-user
// BanTimer, created lazily on first login attempt and never deleted.
type User struct {
	Name     string        `json:"name"`
	BanTimer bantimer.Timer `json:"ban_timer"`
}

// Key implements Item.
func (u User) Key() string { return u.Name }

// LoginSession is created by a successful login and is valid while
// ExpiresAt is in the future.
type LoginSession struct {
	ValueHash stringhash.Hash `json:"value_hash"`
	UserName  string          `json:"user_name"`
	OriginIP  netip.Addr      `json:"origin_ip"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Key implements Item.
func (s LoginSession) Key() stringhash.Hash { return s.ValueHash }

// Valid reports whether the session is not expired as of now.
func (s LoginSession) Valid(now time.Time) bool { return now.Before(s.ExpiresAt) }

// GuestLink is a signed URL suffix issued from the portal. SuffixLength is
// the number of trailing characters to strip from a matched URL to recover
// the original target.
type GuestLink struct {
	URLHash                stringhash.Hash `json:"url_hash"`
	SuffixLength           int             `json:"suffix_length"`
	CreatedByLoginSession  stringhash.Hash `json:"created_by_login_session"`
	CreatedAt              time.Time       `json:"created_at"`
	ExpiresAt              time.Time       `json:"expires_at"`
}

// Key implements Item.
func (l GuestLink) Key() stringhash.Hash { return l.URLHash }

// Valid reports whether the link is not expired as of now.
func (l GuestLink) Valid(now time.Time) bool { return now.Before(l.ExpiresAt) }

// GuestSession is created on first guest-link traversal and extended on
// every subsequent one; Hosts/GuestLinkHashes accumulate across uses.
type GuestSession struct {
	ValueHash       stringhash.Hash            `json:"value_hash"`
	Hosts           HashSet[string]            `json:"hosts"`
	GuestLinkHashes HashSet[stringhash.Hash]   `json:"guest_link_hashes"`
	OriginIP        netip.Addr                 `json:"origin_ip"`
	CreatedAt       time.Time                  `json:"created_at"`
	ExpiresAt       time.Time                  `json:"expires_at"`
}

// Key implements Item.
func (g GuestSession) Key() stringhash.Hash { return g.ValueHash }

// Valid reports whether the session is live for host as of now.
func (g GuestSession) Valid(now time.Time, host string) bool {
	return now.Before(g.ExpiresAt) && g.Hosts.Contains(host)
}

// IpSession associates a client IP with the login sessions and app tokens
// observed from it.
type IpSession struct {
	LoginSessions HashSet[stringhash.Hash] `json:"login_sessions"`
	AppTokens     HashSet[stringhash.Hash] `json:"app_tokens"`
	CreatedAt     time.Time                `json:"created_at"`
	ExpiresAt     time.Time                `json:"expires_at"`
}

// Valid reports whether the session is not expired as of now.
func (s IpSession) Valid(now time.Time) bool { return now.Before(s.ExpiresAt) }

// IP is keyed by address; it always carries a BanTimer and optionally an
// active IpSession.
type IP struct {
	Addr      netip.Addr `json:"addr"`
	BanTimer  bantimer.Timer `json:"ban_timer"`
	Session   *IpSession `json:"session,omitempty"`
}

// Key implements Item.
func (ip IP) Key() netip.Addr { return ip.Addr }

// AppToken is keyed by the hash of "host,authorization" and grants
// IP-bound, cookie-less access to Host.
type AppToken struct {
	ValueHash     stringhash.Hash            `json:"value_hash"`
	Host          string                     `json:"host"`
	LoginSessions HashSet[stringhash.Hash]   `json:"login_sessions"`
	IPs           HashSet[netip.Addr]        `json:"ips"`
	CreatedAt     time.Time                  `json:"created_at"`
	ExpiresAt     time.Time                  `json:"expires_at"`
}

// Key implements Item.
func (t AppToken) Key() stringhash.Hash { return t.ValueHash }

// Valid reports whether the token is not expired as of now.
func (t AppToken) Valid(now time.Time) bool { return now.Before(t.ExpiresAt) }

// InviteLink is the legacy variant of GuestLink, recognised by forward-auth
// when a URL matches it directly rather than through the current
// create_guest_link flow. Kept for state files produced by older
// deployments; new links are always GuestLinks.
type InviteLink struct {
	LinkHash       stringhash.Hash `json:"link_hash"`
	GeneratedBy    stringhash.Hash `json:"generated_by"`
	OriginalLength int             `json:"original_length"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// Key implements Item.
func (l InviteLink) Key() stringhash.Hash { return l.LinkHash }

// Valid reports whether the legacy link is not expired as of now.
func (l InviteLink) Valid(now time.Time) bool { return now.Before(l.ExpiresAt) }
