// Package access implements the Access-Level Resolver: a pure function from
// (config, store snapshot, request) to a tagged decision, in strict
// priority order.
package access

import (
	"github.com/sitegui/knockd/internal/network"
	"github.com/sitegui/knockd/internal/policyrules"
	"github.com/sitegui/knockd/internal/request"
	"github.com/sitegui/knockd/internal/store"
)

// Kind tags which of the nine variants a Level holds.
type Kind int

const (
	KindLoginSession Kind = iota
	KindGuestSession
	KindGuestLink
	KindAppToken
	KindIP
	KindAllowedNetwork
	KindPolicyRule
	KindInviteLink
	KindNone
)

// Level is the resolver's decision. Only the fields relevant to Kind are
// populated.
type Level struct {
	Kind Kind

	LoginSession store.LoginSession
	GuestSession store.GuestSession
	GuestLink    store.GuestLink
	AppToken     store.AppToken
	IPSession    store.IpSession
	PolicyRule   string
	InviteLink   store.InviteLink

	// MatchedGuestLink is set alongside KindLoginSession/KindGuestSession
	// when the request URL also happens to match a live guest link, so the
	// handler can redirect to strip the token from the URL.
	MatchedGuestLink *store.GuestLink
	// GuestLinkExpired is set when the URL matched a guest link hash that
	// has expired, so the handler can surface a specific message code.
	GuestLinkExpired bool
}

// Dependencies bundles the read-only inputs the resolver needs beyond the
// request itself.
type Dependencies struct {
	Store           *store.Store
	AllowedNetworks []network.Network
	PolicyRules     []policyrules.Rule
	GuestLinkMarker byte
}

// Resolve implements the seven-tier priority order, with the optional
// policy-rule tier and then the legacy invite-link tier checked after
// AllowedNetwork and before None. The first matching rule wins; lower-priority rules are
// never evaluated once a match is found.
func Resolve(deps Dependencies, info request.Info) Level {
	link, lookup := deps.Store.ValidGuestLink(info.Arrival, info.URL(), deps.GuestLinkMarker)
	var matchedLink *store.GuestLink
	expired := false
	switch lookup {
	case store.GuestLinkOK:
		l := link
		matchedLink = &l
	case store.GuestLinkExpired:
		expired = true
	}

	if info.LoginSessionHash != nil {
		if session, ok := deps.Store.ValidLoginSession(info.Arrival, *info.LoginSessionHash); ok {
			return Level{
				Kind:             KindLoginSession,
				LoginSession:     session,
				MatchedGuestLink: matchedLink,
				GuestLinkExpired: expired && matchedLink == nil,
			}
		}
	}

	if info.GuestSessionHash != nil {
		if session, ok := deps.Store.ValidGuestSession(info.Arrival, info.Host, *info.GuestSessionHash); ok {
			return Level{
				Kind:             KindGuestSession,
				GuestSession:     session,
				MatchedGuestLink: matchedLink,
				GuestLinkExpired: expired && matchedLink == nil,
			}
		}
	}

	if matchedLink != nil {
		return Level{Kind: KindGuestLink, GuestLink: *matchedLink}
	}

	if info.AppTokenHash != nil {
		if token, ok := deps.Store.ValidAppToken(info.Arrival, *info.AppTokenHash); ok {
			return Level{Kind: KindAppToken, AppToken: token}
		}
	}

	if session, ok := deps.Store.ValidIP(info.Arrival, info.ClientIP); ok {
		return Level{Kind: KindIP, IPSession: session}
	}

	if network.IncludesAny(deps.AllowedNetworks, info.ClientIP) {
		return Level{Kind: KindAllowedNetwork}
	}

	if name, ok := policyrules.Match(deps.PolicyRules, policyrules.Request{
		Host:     info.Host,
		ClientIP: info.ClientIP.String(),
		Path:     info.URI,
		Proto:    info.Proto,
	}); ok {
		return Level{Kind: KindPolicyRule, PolicyRule: name}
	}

	// Legacy: invite links predate the current guest-link scheme and carry
	// no marker character, so they're only recognised once every current
	// mechanism has been ruled out.
	if inviteLink, ok := deps.Store.ValidInviteLink(info.Arrival, info.URL()); ok {
		return Level{Kind: KindInviteLink, InviteLink: inviteLink}
	}

	return Level{Kind: KindNone, GuestLinkExpired: expired}
}
