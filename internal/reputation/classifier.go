// Package reputation answers reputation queries for a single address.
package reputation

import (
	"context"

	"tibridge/internal/domain"
	"tibridge/internal/matcher"
	"tibridge/internal/observation"
	"tibridge/internal/store"
)

type Classifier struct {
	store store.Store
}

func NewClassifier(s store.Store) *Classifier {
	return &Classifier{store: s}
}

// Classify walks the authority sources in priority order and returns the first
// verdict that applies: allow-list, deny-list, local capture, OSINT feed.
// It only reads, so it reflects whatever the periodic jobs last committed.
func (c *Classifier) Classify(ctx context.Context, address string) (domain.Verdict, error) {
	allowed, err := c.inList(ctx, store.KeyAllowlist, address)
	if err != nil {
		return domain.Verdict{}, err
	}
	if allowed {
		return verdict(domain.SeverityClean, domain.JudgmentAllowlist), nil
	}

	denied, err := c.inList(ctx, store.KeyDenylist, address)
	if err != nil {
		return domain.Verdict{}, err
	}
	if denied {
		return verdict(domain.SeverityHigh, domain.JudgmentDenylist), nil
	}

	local, err := c.store.Exists(ctx, observation.Key(domain.SourceLocal, address))
	if err != nil {
		return domain.Verdict{}, err
	}
	if local {
		return verdict(domain.SeverityHigh, domain.JudgmentLocal), nil
	}

	osint, err := c.store.Exists(ctx, observation.Key(domain.SourceOSINT, address))
	if err != nil {
		return domain.Verdict{}, err
	}
	if osint {
		return verdict(domain.SeverityMedium, domain.JudgmentOSINT), nil
	}

	return verdict(domain.SeverityClean), nil
}

// inList tries the O(1) membership test in the store before pulling the
// members for the CIDR scan.
func (c *Classifier) inList(ctx context.Context, listKey, address string) (bool, error) {
	exact, err := c.store.SetIsMember(ctx, listKey, address)
	if err != nil {
		return false, err
	}
	if exact {
		return true, nil
	}

	members, err := c.store.SetMembers(ctx, listKey)
	if err != nil {
		return false, err
	}
	return matcher.Contains(address, members), nil
}

func verdict(severity domain.Severity, judgments ...string) domain.Verdict {
	if judgments == nil {
		judgments = []string{}
	}
	return domain.Verdict{Severity: severity, Judgments: judgments}
}
