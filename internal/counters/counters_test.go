package counters

import (
	"context"
	"testing"
	"time"

	"tibridge/internal/domain"
	"tibridge/internal/store"
	"tibridge/internal/store/storetest"
)

func TestLocalCapturedArmsWindowOnce(t *testing.T) {
	s, mr := storetest.New(t)
	m := New(s)
	ctx := context.Background()

	if err := m.LocalCaptured(ctx); err != nil {
		t.Fatalf("LocalCaptured returned error: %v", err)
	}
	if ttl := mr.TTL(store.KeyLocalWindow); ttl != LocalWindow {
		t.Fatalf("window ttl = %s, want %s", ttl, LocalWindow)
	}

	mr.FastForward(10 * time.Hour)

	if err := m.LocalCaptured(ctx); err != nil {
		t.Fatalf("LocalCaptured returned error: %v", err)
	}
	if ttl := mr.TTL(store.KeyLocalWindow); ttl != 14*time.Hour {
		t.Fatalf("window ttl after second capture = %s, want 14h (not re-armed)", ttl)
	}

	stats, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if stats.LocalTotal != 2 || stats.LocalNewInWindow != 2 {
		t.Fatalf("Snapshot = %+v, want local_total 2 and window 2", stats)
	}

	mr.FastForward(15 * time.Hour)

	stats, err = m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if stats.LocalNewInWindow != 0 || stats.LocalTotal != 2 {
		t.Fatalf("Snapshot after window = %+v, want window 0 and total 2", stats)
	}
}

func TestFeedCycleCompleted(t *testing.T) {
	s, _ := storetest.New(t)
	m := New(s)
	ctx := context.Background()

	if err := m.FeedCycleCompleted(ctx, 5); err != nil {
		t.Fatalf("FeedCycleCompleted returned error: %v", err)
	}
	if err := m.FeedCycleCompleted(ctx, 0); err != nil {
		t.Fatalf("FeedCycleCompleted returned error: %v", err)
	}

	stats, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if stats.OSINTTotal != 5 {
		t.Fatalf("OSINTTotal = %d, want 5", stats.OSINTTotal)
	}
	if stats.OSINTLastCycle != 0 {
		t.Fatalf("OSINTLastCycle = %d, want 0", stats.OSINTLastCycle)
	}
}

func TestPurgedAndResync(t *testing.T) {
	s, _ := storetest.New(t)
	m := New(s)
	ctx := context.Background()

	if err := m.Resync(ctx, domain.SourceOSINT, 10); err != nil {
		t.Fatalf("Resync returned error: %v", err)
	}
	if err := m.Purged(ctx, domain.SourceOSINT); err != nil {
		t.Fatalf("Purged returned error: %v", err)
	}
	if err := m.Purged(ctx, domain.SourceLocal); err != nil {
		t.Fatalf("Purged returned error: %v", err)
	}

	stats, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if stats.OSINTTotal != 9 {
		t.Fatalf("OSINTTotal = %d, want 9", stats.OSINTTotal)
	}
	if stats.LocalTotal != -1 {
		t.Fatalf("LocalTotal = %d, want -1", stats.LocalTotal)
	}
}

func TestRecomputeListCounts(t *testing.T) {
	s, _ := storetest.New(t)
	m := New(s)
	ctx := context.Background()

	if _, err := s.SetAdd(ctx, store.KeyDenylist, "1.2.3.0/24", "5.6.7.8"); err != nil {
		t.Fatalf("SetAdd returned error: %v", err)
	}
	if _, err := s.SetAdd(ctx, store.KeyAllowlist, "2001:db8::/64"); err != nil {
		t.Fatalf("SetAdd returned error: %v", err)
	}

	allow, deny, err := m.RecomputeListCounts(ctx)
	if err != nil {
		t.Fatalf("RecomputeListCounts returned error: %v", err)
	}
	if deny.String() != "257" {
		t.Fatalf("deny count = %s, want 257", deny)
	}
	if allow.String() != "18446744073709551616" {
		t.Fatalf("allow count = %s, want 2^64", allow)
	}

	stats, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if stats.DenylistIPCount != "257" || stats.DenylistEntries != 2 {
		t.Fatalf("Snapshot = %+v, want blacklist_ip_count 257 over 2 entries", stats)
	}
}
