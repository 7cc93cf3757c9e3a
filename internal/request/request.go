// Package request decodes the forward-auth sub-request headers into the
// client IP, original-URL triplet, and credential hashes the rest of the
// gateway reasons about.
package request

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/sitegui/knockd/internal/stringhash"
)

// Info is everything the Access-Level Resolver and the forward-auth
// handler need from one incoming request.
type Info struct {
	Arrival time.Time

	ClientIP netip.Addr
	URI      string
	Proto    string
	Host     string

	LoginSessionHash *stringhash.Hash
	GuestSessionHash *stringhash.Hash
	AppTokenHash     *stringhash.Hash
}

// URL reconstructs the original "proto://host{uri}" the reverse proxy
// received.
func (i Info) URL() string {
	return fmt.Sprintf("%s://%s%s", i.Proto, i.Host, i.URI)
}

// Decode extracts an Info from the forward-auth headers. Missing mandatory
// headers (x-forwarded-for, -uri, -proto, -host) are reported as an error,
// which callers must turn into a 401.
func Decode(r *http.Request, loginCookieName, guestCookieName string, now time.Time) (Info, error) {
	clientIP, err := readClientIP(r.Header)
	if err != nil {
		return Info{}, err
	}

	uri, err := readHeader(r.Header, "X-Forwarded-Uri")
	if err != nil {
		return Info{}, err
	}
	proto, err := readHeader(r.Header, "X-Forwarded-Proto")
	if err != nil {
		return Info{}, err
	}
	host, err := readHeader(r.Header, "X-Forwarded-Host")
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Arrival:  now,
		ClientIP: clientIP,
		URI:      uri,
		Proto:    proto,
		Host:     host,
	}

	if cookie, err := r.Cookie(loginCookieName); err == nil {
		hash := stringhash.Of(cookie.Value)
		info.LoginSessionHash = &hash
	}
	if cookie, err := r.Cookie(guestCookieName); err == nil {
		hash := stringhash.Of(cookie.Value)
		info.GuestSessionHash = &hash
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		hash := stringhash.OfHeader(host, auth)
		info.AppTokenHash = &hash
	}

	return info, nil
}

func readHeader(h http.Header, name string) (string, error) {
	v := h.Get(name)
	if v == "" {
		return "", fmt.Errorf("request: missing %s header", name)
	}
	return v, nil
}

func readClientIP(h http.Header) (netip.Addr, error) {
	v, err := readHeader(h, "X-Forwarded-For")
	if err != nil {
		return netip.Addr{}, err
	}
	first, _, _ := strings.Cut(v, ",")
	first = strings.TrimSpace(first)

	addr, err := netip.ParseAddr(first)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("request: invalid client ip %q: %w", first, err)
	}
	return addr, nil
}
