package config

import (
	"net/url"
	"strings"
	"sync/atomic"
)

// hostSet is a normalized set of hostnames. A member also blocks all of its
// subdomains.
type hostSet map[string]struct{}

var blockedHosts atomic.Pointer[hostSet]

// NormalizeBlockedHosts trims, lowercases and deduplicates host entries. URLs
// are reduced to their hostname.
func NormalizeBlockedHosts(entries []string) []string {
	seen := make(map[string]struct{}, len(entries))
	normalized := make([]string, 0, len(entries))

	for _, raw := range entries {
		host := hostOf(raw)
		if host == "" {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		normalized = append(normalized, host)
	}
	return normalized
}

func newHostSet(entries []string) hostSet {
	set := make(hostSet, len(entries))
	for _, host := range NormalizeBlockedHosts(entries) {
		set[host] = struct{}{}
	}
	return set
}

func updateBlockedHosts(entries []string) {
	set := newHostSet(entries)
	blockedHosts.Store(&set)
}

// IsHostBlocked reports whether the URL (or bare hostname) points at a host
// that outbound fetches must not contact.
func IsHostBlocked(rawURL string) bool {
	set := blockedHosts.Load()
	if set == nil {
		return false
	}
	return set.blocks(rawURL)
}

// BlockedSources returns the names of the sources whose URL would be refused
// under the given host entries.
func BlockedSources(sources []FeedSource, entries []string) []string {
	set := newHostSet(entries)
	if len(set) == 0 {
		return nil
	}

	var blocked []string
	for _, src := range sources {
		if set.blocks(src.URL) {
			blocked = append(blocked, src.Name)
		}
	}
	return blocked
}

func (s hostSet) blocks(rawURL string) bool {
	if len(s) == 0 {
		return false
	}
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	if _, ok := s[host]; ok {
		return true
	}
	for blocked := range s {
		if strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

func hostOf(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	return strings.Trim(strings.ToLower(parsed.Hostname()), ".")
}
