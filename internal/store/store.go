// Package store implements the State Store: the single in-memory structure
// holding every authentication entity the gateway knows about, guarded by
// one mutual-exclusion lock. Every exported method acquires the lock for the
// duration of its own critical section, and no method performs I/O while
// holding the lock. Entities are returned by value, but their set fields
// (HashSet maps) and an IP's session pointer still refer to the store's data.
package store

import (
	"net/netip"
	"sync"
	"time"

	"github.com/sitegui/knockd/internal/bantimer"
	"github.com/sitegui/knockd/internal/stringhash"
)

// Store holds every entity described by the data model behind a single
// mutex. The zero value is not usable; construct with New.
type Store struct {
	mu sync.Mutex

	users         *KeyedMap[string, User]
	loginSessions *KeyedMap[stringhash.Hash, LoginSession]
	guestLinks    *KeyedMap[stringhash.Hash, GuestLink]
	guestSessions *KeyedMap[stringhash.Hash, GuestSession]
	ips           *KeyedMap[netip.Addr, IP]
	appTokens     *KeyedMap[stringhash.Hash, AppToken]
	inviteLinks   *KeyedMap[stringhash.Hash, InviteLink]
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:         NewKeyedMap[string, User](),
		loginSessions: NewKeyedMap[stringhash.Hash, LoginSession](),
		guestLinks:    NewKeyedMap[stringhash.Hash, GuestLink](),
		guestSessions: NewKeyedMap[stringhash.Hash, GuestSession](),
		ips:           NewKeyedMap[netip.Addr, IP](),
		appTokens:     NewKeyedMap[stringhash.Hash, AppToken](),
		inviteLinks:   NewKeyedMap[stringhash.Hash, InviteLink](),
	}
}

// WithUserBanTimer runs fn with exclusive access to the named user's
// BanTimer, creating the user record lazily if this is its first attempt.
// The caller is expected to call bantimer.Begin/Finish on the returned
// timer from inside fn, all while still holding the store's lock.
func (s *Store) WithUserBanTimer(name string, fn func(*bantimer.Timer)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.users.GetOrInsertWith(name, func() User {
		return User{Name: name}
	})
	fn(&user.BanTimer)
	s.users.Insert(user)
}

// WithIPBanTimer is the IP analogue of WithUserBanTimer.
func (s *Store) WithIPBanTimer(addr netip.Addr, fn func(*bantimer.Timer)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ip := s.ips.GetOrInsertWith(addr, func() IP {
		return IP{Addr: addr}
	})
	fn(&ip.BanTimer)
	s.ips.Insert(ip)
}

// WithLoginBanTimers runs fn with exclusive access to both addr's and name's
// BanTimer under a single critical section, creating either record lazily.
// The login action needs this: the IP attempt, the user attempt, and the
// TOTP check they gate must all resolve atomically, exactly as a caller
// holding a single BanTimer would with WithIPBanTimer/WithUserBanTimer.
func (s *Store) WithLoginBanTimers(addr netip.Addr, name string, fn func(ipTimer, userTimer *bantimer.Timer)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ip := s.ips.GetOrInsertWith(addr, func() IP {
		return IP{Addr: addr}
	})
	user := s.users.GetOrInsertWith(name, func() User {
		return User{Name: name}
	})
	fn(&ip.BanTimer, &user.BanTimer)
	s.ips.Insert(ip)
	s.users.Insert(user)
}

// ValidLoginSession returns the session for hash if it exists and is not
// expired.
func (s *Store) ValidLoginSession(now time.Time, hash stringhash.Hash) (LoginSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.loginSessions.Get(hash)
	if !ok || !session.Valid(now) {
		return LoginSession{}, false
	}
	return session, true
}

// GuestLinkLookup is the tri-state result of ValidGuestLink.
type GuestLinkLookup int

const (
	// GuestLinkNone means the URL does not end with the marker character,
	// or no link with the computed hash exists.
	GuestLinkNone GuestLinkLookup = iota
	// GuestLinkExpired means the link exists but has expired.
	GuestLinkExpired
	// GuestLinkOK means a live link was found.
	GuestLinkOK
)

// ValidGuestLink looks up a guest link from a full URL. markerChar is the
// fixed trailing character every guest link URL ends with; the lookup is a
// no-op (GuestLinkNone) for any URL that does not end with it.
func (s *Store) ValidGuestLink(now time.Time, url string, markerChar byte) (GuestLink, GuestLinkLookup) {
	if len(url) == 0 || url[len(url)-1] != markerChar {
		return GuestLink{}, GuestLinkNone
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.guestLinks.Get(stringhash.Of(url))
	if !ok {
		return GuestLink{}, GuestLinkNone
	}
	if !link.Valid(now) {
		return GuestLink{}, GuestLinkExpired
	}
	return link, GuestLinkOK
}

// ValidGuestSession returns the session for hash if it exists, is not
// expired, and is valid for host.
func (s *Store) ValidGuestSession(now time.Time, host string, hash stringhash.Hash) (GuestSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.guestSessions.Get(hash)
	if !ok || !session.Valid(now, host) {
		return GuestSession{}, false
	}
	return session, true
}

// ValidIP returns the IpSession for addr if one exists and is not expired.
func (s *Store) ValidIP(now time.Time, addr netip.Addr) (IpSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ip, ok := s.ips.Get(addr)
	if !ok || ip.Session == nil || !ip.Session.Valid(now) {
		return IpSession{}, false
	}
	return *ip.Session, true
}

// ValidAppToken returns the token for hash if it exists and is not expired.
func (s *Store) ValidAppToken(now time.Time, hash stringhash.Hash) (AppToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.appTokens.Get(hash)
	if !ok || !token.Valid(now) {
		return AppToken{}, false
	}
	return token, true
}

// CreateLoginSession generates a fresh random token, stores the session
// under its hash, and returns both the clear value (to be set as a cookie)
// and the hash.
func (s *Store) CreateLoginSession(now time.Time, userName string, originIP netip.Addr, expiration time.Duration) (clearValue string, hash stringhash.Hash, err error) {
	clearValue, err = stringhash.NewToken(16)
	if err != nil {
		return "", stringhash.Hash{}, err
	}
	hash = stringhash.Of(clearValue)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.loginSessions.Insert(LoginSession{
		ValueHash: hash,
		UserName:  userName,
		OriginIP:  originIP,
		CreatedAt: now,
		ExpiresAt: now.Add(expiration),
	})
	return clearValue, hash, nil
}

// CreateGuestLink generates a fresh random token, appends it and the marker
// character to url, and stores a GuestLink keyed by the hash of the
// resulting URL.
func (s *Store) CreateGuestLink(now time.Time, loginSessionHash stringhash.Hash, url string, expiration time.Duration, markerChar byte) (newURL string, err error) {
	token, err := stringhash.NewToken(16)
	if err != nil {
		return "", err
	}
	newURL = url + token + string(markerChar)
	hash := stringhash.Of(newURL)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.guestLinks.Insert(GuestLink{
		URLHash:               hash,
		SuffixLength:          len(token) + 1,
		CreatedByLoginSession: loginSessionHash,
		CreatedAt:             now,
		ExpiresAt:             now.Add(expiration),
	})
	return newURL, nil
}

// CreateGuestSession generates a fresh random token, stores a session
// seeded with host and the originating guest link, and returns the clear
// value to be set as a cookie.
func (s *Store) CreateGuestSession(now time.Time, urlHash stringhash.Hash, host string, originIP netip.Addr, expiration time.Duration) (clearValue string, err error) {
	clearValue, err = stringhash.NewToken(16)
	if err != nil {
		return "", err
	}
	hash := stringhash.Of(clearValue)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.guestSessions.Insert(GuestSession{
		ValueHash:       hash,
		Hosts:           NewHashSet(host),
		GuestLinkHashes: NewHashSet(urlHash),
		OriginIP:        originIP,
		CreatedAt:       now,
		ExpiresAt:       now.Add(expiration),
	})
	return clearValue, nil
}

// UpdateGuestSession inserts host and urlHash into the session's sets. It is
// a no-op if the session does not exist (a concurrent eviction or stale
// cookie is not an error).
func (s *Store) UpdateGuestSession(host string, urlHash stringhash.Hash, hash stringhash.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.guestSessions.Get(hash)
	if !ok {
		return
	}
	session.Hosts.Add(host)
	session.GuestLinkHashes.Add(urlHash)
	s.guestSessions.Insert(session)
}

// UpdateIPSession gets-or-creates addr's IpSession, inserts the given
// optional references, and extends its expiration.
func (s *Store) UpdateIPSession(now time.Time, addr netip.Addr, loginSessionHash, appTokenHash *stringhash.Hash, expiration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ip := s.ips.GetOrInsertWith(addr, func() IP {
		return IP{Addr: addr}
	})
	if ip.Session == nil {
		ip.Session = &IpSession{
			LoginSessions: NewHashSet[stringhash.Hash](),
			AppTokens:     NewHashSet[stringhash.Hash](),
			CreatedAt:     now,
		}
	}
	if loginSessionHash != nil {
		ip.Session.LoginSessions.Add(*loginSessionHash)
	}
	if appTokenHash != nil {
		ip.Session.AppTokens.Add(*appTokenHash)
	}
	ip.Session.ExpiresAt = now.Add(expiration)
	s.ips.Insert(ip)
}

// UpdateAppToken creates the token (copying host) if missing, inserts the
// given optional login-session reference and the IP, and extends its
// expiration.
func (s *Store) UpdateAppToken(now time.Time, hash stringhash.Hash, host string, loginSessionHash *stringhash.Hash, ip netip.Addr, expiration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.appTokens.GetOrInsertWith(hash, func() AppToken {
		return AppToken{
			ValueHash:     hash,
			Host:          host,
			LoginSessions: NewHashSet[stringhash.Hash](),
			IPs:           NewHashSet[netip.Addr](),
			CreatedAt:     now,
		}
	})
	if loginSessionHash != nil {
		token.LoginSessions.Add(*loginSessionHash)
	}
	token.IPs.Add(ip)
	token.ExpiresAt = now.Add(expiration)
	s.appTokens.Insert(token)
}

// ValidInviteLink returns the legacy invite link matching the full visited
// url, if present and not expired. Unlike GuestLink, an invite link has no
// marker-character requirement: it predates that convention, so the whole
// URL is hashed directly, exactly as it was when the portal minted it.
func (s *Store) ValidInviteLink(now time.Time, url string) (InviteLink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.inviteLinks.Get(stringhash.Of(url))
	if !ok || !link.Valid(now) {
		return InviteLink{}, false
	}
	return link, true
}

// LoginSessionsForUser returns every login session belonging to userName,
// used by the portal to list a caller's sessions.
func (s *Store) LoginSessionsForUser(userName string) []LoginSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []LoginSession
	s.loginSessions.Range(func(session LoginSession) bool {
		if session.UserName == userName {
			sessions = append(sessions, session)
		}
		return true
	})
	return sessions
}
