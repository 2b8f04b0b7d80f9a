package denylist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"tibridge/internal/matcher"
	"tibridge/internal/store"
)

// OverrideChange reports one override edit. FileLines counts lines written
// to or dropped from the override file; SetMembers counts live deny-list
// members actually added or removed.
type OverrideChange struct {
	FileLines  int
	SetMembers int64
}

// AddOverride appends entries to the override file and adds them to the live
// deny-list, so they survive the next rebuild. Entries already in the file
// are not duplicated.
func (m *Manager) AddOverride(ctx context.Context, entries ...string) (OverrideChange, error) {
	var change OverrideChange
	entries, err := validEntries(entries)
	if err != nil {
		return change, err
	}

	m.overrideMu.Lock()
	defer m.overrideMu.Unlock()

	path := m.config().Denylist.OverridePath
	data, err := readOverride(path)
	if err != nil {
		return change, err
	}
	current, _, err := parseEntries(bytes.NewReader(data))
	if err != nil {
		return change, err
	}
	present := make(map[string]struct{}, len(current))
	for _, entry := range current {
		present[entry] = struct{}{}
	}

	var buf bytes.Buffer
	buf.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		buf.WriteByte('\n')
	}
	added := 0
	for _, entry := range entries {
		if _, ok := present[entry]; ok {
			continue
		}
		present[entry] = struct{}{}
		buf.WriteString(entry)
		buf.WriteByte('\n')
		added++
	}
	if added > 0 {
		if err := writeFileAtomic(path, buf.Bytes()); err != nil {
			return change, fmt.Errorf("persist override document: %w", err)
		}
	}
	change.FileLines = added

	change.SetMembers, err = m.store.SetAdd(ctx, store.KeyDenylist, entries...)
	if err != nil {
		return change, err
	}
	if _, _, err := m.counters.RecomputeListCounts(ctx); err != nil {
		return change, fmt.Errorf("recompute list counts: %w", err)
	}
	log.Info("Deny-list override extended", "entries", len(entries), "new", added, "members", change.SetMembers)
	return change, nil
}

// RemoveOverride drops entries from the override file and the live
// deny-list. An entry that the base document also carries comes back on the
// next rebuild.
func (m *Manager) RemoveOverride(ctx context.Context, entries ...string) (OverrideChange, error) {
	var change OverrideChange
	entries, err := validEntries(entries)
	if err != nil {
		return change, err
	}
	drop := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		drop[entry] = struct{}{}
	}

	m.overrideMu.Lock()
	defer m.overrideMu.Unlock()

	path := m.config().Denylist.OverridePath
	data, err := readOverride(path)
	if err != nil {
		return change, err
	}

	var buf bytes.Buffer
	removed := 0
	for _, line := range strings.SplitAfter(string(data), "\n") {
		body := line
		if idx := strings.IndexByte(body, '#'); idx >= 0 {
			body = body[:idx]
		}
		if fields := strings.Fields(body); len(fields) > 0 {
			if _, ok := drop[fields[0]]; ok {
				removed++
				continue
			}
		}
		buf.WriteString(line)
	}
	if removed > 0 {
		if err := writeFileAtomic(path, buf.Bytes()); err != nil {
			return change, fmt.Errorf("persist override document: %w", err)
		}
	}
	change.FileLines = removed

	change.SetMembers, err = m.store.SetRemove(ctx, store.KeyDenylist, entries...)
	if err != nil {
		return change, err
	}
	if _, _, err := m.counters.RecomputeListCounts(ctx); err != nil {
		return change, fmt.Errorf("recompute list counts: %w", err)
	}
	log.Info("Deny-list override reduced", "entries", len(entries), "removed", removed, "members", change.SetMembers)
	return change, nil
}

// ErrInvalidEntry rejects override edits that are neither an address nor a
// network.
var ErrInvalidEntry = errors.New("invalid deny-list entry")

func validEntries(entries []string) ([]string, error) {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if !matcher.IsValidEntry(entry) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEntry, entry)
		}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidEntry)
	}
	return out, nil
}

func readOverride(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("override path is not configured")
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}
