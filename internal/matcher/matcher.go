// Package matcher tests addresses against collections of exact addresses and
// CIDR networks.
package matcher

import (
	"math/big"
	"net/netip"
	"strings"
)

// Set is a compiled member collection. Exact members are matched by string,
// every parsable member is also kept as a network for containment checks.
type Set struct {
	exact    map[string]struct{}
	networks []netip.Prefix
}

// NewSet compiles members. Entries that parse neither as an address nor as a
// network are kept for exact matching only.
func NewSet(members []string) *Set {
	s := &Set{
		exact:    make(map[string]struct{}, len(members)),
		networks: make([]netip.Prefix, 0, len(members)),
	}
	for _, m := range members {
		s.exact[m] = struct{}{}
		if p, ok := ParseNetwork(m); ok {
			s.networks = append(s.networks, p)
		}
	}
	return s
}

// Len reports the number of distinct members.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.exact)
}

// Contains reports whether candidate equals a member or lies inside a member
// network of the same address family. Unparsable candidates never match a
// network.
func (s *Set) Contains(candidate string) bool {
	if s == nil {
		return false
	}
	if _, ok := s.exact[candidate]; ok {
		return true
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(candidate))
	if err != nil {
		return false
	}

	for _, network := range s.networks {
		if network.Addr().Is4() != addr.Is4() {
			continue
		}
		if network.Contains(addr) {
			return true
		}
	}
	return false
}

// Contains is the one-shot form of NewSet(members).Contains(candidate).
func Contains(candidate string, members []string) bool {
	return NewSet(members).Contains(candidate)
}

// ParseNetwork parses a CIDR network (host bits are masked off) or a single
// address, which becomes a host network.
func ParseNetwork(raw string) (netip.Prefix, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Prefix{}, false
	}

	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, false
		}
		return p.Masked(), true
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil || addr.Zone() != "" {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(addr, addr.BitLen()), true
}

// IsValidEntry reports whether raw can be stored as a list entry.
func IsValidEntry(raw string) bool {
	_, ok := ParseNetwork(raw)
	return ok
}

// AddressCount sums the address-space size of every member: a network
// contributes 2^(bits-prefix), a single address 1 and an unparsable entry 0.
// Overlapping networks are counted once per entry.
func AddressCount(members []string) *big.Int {
	total := new(big.Int)
	one := big.NewInt(1)
	for _, m := range members {
		p, ok := ParseNetwork(m)
		if !ok {
			continue
		}
		hostBits := uint(p.Addr().BitLen() - p.Bits())
		total.Add(total, new(big.Int).Lsh(one, hostBits))
	}
	return total
}

// Canonical returns the normalised text form of a single address, or false if
// raw is not one. Zoned addresses are rejected.
func Canonical(raw string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil || addr.Zone() != "" {
		return "", false
	}
	return addr.String(), true
}
