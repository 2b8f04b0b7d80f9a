// Package observation writes time-bounded sightings of attacker addresses into
// the local and OSINT key namespaces.
package observation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"tibridge/internal/counters"
	"tibridge/internal/domain"
	"tibridge/internal/matcher"
	"tibridge/internal/store"
)

var ErrInvalidAddress = errors.New("observation: invalid address")

var legacyLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"}

type Recorder struct {
	store    store.Store
	counters *counters.Maintainer
	now      func() time.Time
}

func NewRecorder(s store.Store, c *counters.Maintainer) *Recorder {
	return &Recorder{store: s, counters: c, now: time.Now}
}

// Key returns the store key of an observation. Addresses are stored in their
// canonical text form when they parse.
func Key(source domain.Source, address string) string {
	if canonical, ok := matcher.Canonical(address); ok {
		address = canonical
	}
	if source == domain.SourceLocal {
		return store.LocalKey(address)
	}
	return store.OSINTKey(address)
}

// Record writes or refreshes an observation and reports whether the address
// was absent before the write. The existence check and the write are two
// store calls and may race with a concurrent writer for the same key.
func (r *Recorder) Record(ctx context.Context, source domain.Source, address, feed string) (bool, error) {
	canonical, ok := matcher.Canonical(address)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	key := Key(source, canonical)
	now := r.now().UTC()
	obs := domain.Observation{
		Address:   canonical,
		Source:    source,
		Feed:      feed,
		FirstSeen: now,
		LastSeen:  now,
	}

	existing, found, err := r.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		var prev domain.Observation
		if err := json.Unmarshal([]byte(existing), &prev); err == nil && !prev.FirstSeen.IsZero() {
			obs.FirstSeen = prev.FirstSeen
		} else if err != nil {
			log.Debug("Replacing unreadable observation", "key", key, "error", err)
		}
	}

	payload, err := json.Marshal(obs)
	if err != nil {
		return false, fmt.Errorf("marshal observation: %w", err)
	}
	if err := r.store.SetWithTTL(ctx, key, string(payload), source.TTL()); err != nil {
		return false, err
	}
	return !found, nil
}

// RecordLocal stores a local capture and maintains the local counters when
// the address is new.
func (r *Recorder) RecordLocal(ctx context.Context, address string) (bool, error) {
	created, err := r.Record(ctx, domain.SourceLocal, address, "")
	if err != nil {
		return false, err
	}
	if created && r.counters != nil {
		if err := r.counters.LocalCaptured(ctx); err != nil {
			return true, fmt.Errorf("update local counters: %w", err)
		}
	}
	return created, nil
}

// Load returns the stored observation for address, if any.
func (r *Recorder) Load(ctx context.Context, source domain.Source, address string) (*domain.Observation, error) {
	raw, found, err := r.store.Get(ctx, Key(source, address))
	if err != nil || !found {
		return nil, err
	}
	var obs domain.Observation
	if err := json.Unmarshal([]byte(raw), &obs); err != nil {
		// Older deployments stored a bare ISO timestamp.
		for _, layout := range legacyLayouts {
			if ts, tsErr := time.Parse(layout, raw); tsErr == nil {
				return &domain.Observation{Address: address, Source: source, FirstSeen: ts, LastSeen: ts}, nil
			}
		}
		return nil, fmt.Errorf("decode observation: %w", err)
	}
	return &obs, nil
}
