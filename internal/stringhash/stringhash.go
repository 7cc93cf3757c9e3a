// Package stringhash implements the fixed-size digest used as a lookup key
// throughout the gateway so that secret values (cookies, TOTP tokens, guest
// link tokens) never need to be held after the request that produced them.
package stringhash

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash is the SHA-256 digest of a secret string.
type Hash [sha256.Size]byte

// Of computes the hash of s.
func Of(s string) Hash {
	return sha256.Sum256([]byte(s))
}

// Equal reports whether h and other are the same digest, in constant time.
func (h Hash) Equal(other Hash) bool {
	return subtle.ConstantTimeCompare(h[:], other[:]) == 1
}

// String returns the lowercase hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Parse decodes a hex-encoded digest previously produced by String.
func Parse(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("stringhash: invalid hex: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("stringhash: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// MarshalJSON renders the hash as its hex string, so it can serve as both a
// map key source and a plain JSON field in the persisted state file.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON parses a hex string produced by MarshalJSON.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// NewToken returns hex-encoded random bytes (n bytes of entropy) suitable for
// a cookie value, guest-link token or any other secret the clear value of
// which is hashed with Of before being stored.
func NewToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("stringhash: read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// OfHeader hashes the conventional "host,authorization" composite key used
// for app tokens.
func OfHeader(host, authorization string) Hash {
	return Of(host + "," + authorization)
}
