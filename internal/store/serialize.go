package store

import (
	"encoding/json"
	"net/netip"

	"github.com/sitegui/knockd/internal/stringhash"
)

// document is the top-level shape of the persisted state file: one JSON
// array per entity collection, each entity carrying its own primary key.
type document struct {
	Users         *KeyedMap[string, User]                `json:"users"`
	LoginSessions *KeyedMap[stringhash.Hash, LoginSession] `json:"login_sessions"`
	GuestLinks    *KeyedMap[stringhash.Hash, GuestLink]    `json:"guest_links"`
	GuestSessions *KeyedMap[stringhash.Hash, GuestSession] `json:"guest_sessions"`
	IPs           *KeyedMap[netip.Addr, IP]                `json:"ips"`
	AppTokens     *KeyedMap[stringhash.Hash, AppToken]     `json:"app_tokens"`
	InviteLinks   *KeyedMap[stringhash.Hash, InviteLink]   `json:"invite_links"`
}

// Marshal takes a brief lock to snapshot the store and serializes it to
// indented JSON. The lock is released before the (potentially large)
// marshal call returns its result to the caller's caller - marshaling
// itself still happens while holding the snapshot's own copies, not the
// live maps, so persistence never blocks a request for the full encode.
func (s *Store) Marshal() ([]byte, error) {
	doc := s.snapshot()
	return json.MarshalIndent(doc, "", "  ")
}

// snapshot copies every collection under the lock. KeyedMap values are
// small structs (scalars, short sets) so a shallow per-item copy is cheap
// relative to holding the lock across a full JSON encode.
func (s *Store) snapshot() document {
	s.mu.Lock()
	defer s.mu.Unlock()

	return document{
		Users:         cloneMap(s.users),
		LoginSessions: cloneMap(s.loginSessions),
		GuestLinks:    cloneMap(s.guestLinks),
		GuestSessions: cloneMap(s.guestSessions),
		IPs:           cloneMap(s.ips),
		AppTokens:     cloneMap(s.appTokens),
		InviteLinks:   cloneMap(s.inviteLinks),
	}
}

func cloneMap[K comparable, T Item[K]](m *KeyedMap[K, T]) *KeyedMap[K, T] {
	clone := NewKeyedMap[K, T]()
	m.Range(func(item T) bool {
		clone.Insert(item)
		return true
	})
	return clone
}

// load replaces the store's contents with doc, which must come from
// Unmarshal. Used at startup once, before any server starts accepting
// requests, so no locking is required.
func (s *Store) load(doc document) {
	s.users = doc.Users
	s.loginSessions = doc.LoginSessions
	s.guestLinks = doc.GuestLinks
	s.guestSessions = doc.GuestSessions
	s.ips = doc.IPs
	s.appTokens = doc.AppTokens
	s.inviteLinks = doc.InviteLinks
	if s.users == nil {
		s.users = NewKeyedMap[string, User]()
	}
	if s.loginSessions == nil {
		s.loginSessions = NewKeyedMap[stringhash.Hash, LoginSession]()
	}
	if s.guestLinks == nil {
		s.guestLinks = NewKeyedMap[stringhash.Hash, GuestLink]()
	}
	if s.guestSessions == nil {
		s.guestSessions = NewKeyedMap[stringhash.Hash, GuestSession]()
	}
	if s.ips == nil {
		s.ips = NewKeyedMap[netip.Addr, IP]()
	}
	if s.appTokens == nil {
		s.appTokens = NewKeyedMap[stringhash.Hash, AppToken]()
	}
	if s.inviteLinks == nil {
		s.inviteLinks = NewKeyedMap[stringhash.Hash, InviteLink]()
	}
}

// Unmarshal parses data (the contents of the persisted state file) into a
// fresh Store. A missing file is handled by the caller, which starts from
// New instead of calling Unmarshal.
func Unmarshal(data []byte) (*Store, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	s := New()
	s.load(doc)
	return s, nil
}
