// Package network parses IPv4/IPv6 addresses and CIDR ranges and answers
// inclusive containment queries, used for the configured allow-list of
// trusted networks.
package network

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
)

// Network is a parsed "IP" or "IP/prefix" entry. A bare IP is treated as a
// single-address network (prefix length equal to the address width).
type Network struct {
	prefix netip.Prefix
}

// Parse accepts either a bare address ("192.168.1.1") or a CIDR
// ("192.168.1.0/24", "::1/128") for either address family.
func Parse(s string) (Network, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return Network{}, fmt.Errorf("network: invalid CIDR %q: %w", s, err)
		}
		return Network{prefix: prefix.Masked()}, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return Network{}, fmt.Errorf("network: invalid address %q: %w", s, err)
	}
	return Network{prefix: netip.PrefixFrom(addr, addr.BitLen())}, nil
}

// ParseList parses a comma-joined list of networks, skipping blank entries.
func ParseList(s string) ([]Network, error) {
	var networks []Network
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := Parse(part)
		if err != nil {
			return nil, err
		}
		networks = append(networks, n)
	}
	return networks, nil
}

// Includes reports whether ip falls within the network's inclusive range.
// An IPv4-mapped IPv6 address is compared as the IPv4 address it maps;
// otherwise mixing address families yields false.
func (n Network) Includes(ip netip.Addr) bool {
	if ip.Is4In6() {
		ip = ip.Unmap()
	}
	if ip.Is4() != n.prefix.Addr().Is4() {
		return false
	}
	return n.prefix.Contains(ip)
}

// IncludesAny reports whether ip is contained in any of networks.
func IncludesAny(networks []Network, ip netip.Addr) bool {
	for _, n := range networks {
		if n.Includes(ip) {
			return true
		}
	}
	return false
}

// String renders the network back in "IP/prefix" form.
func (n Network) String() string {
	return n.prefix.String()
}

// MarshalJSON renders the network as its string form.
func (n Network) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

// UnmarshalJSON parses a network from its string form.
func (n *Network) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
