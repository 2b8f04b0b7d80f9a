package denylist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tibridge/internal/config"
	"tibridge/internal/counters"
	"tibridge/internal/domain"
	"tibridge/internal/observation"
	"tibridge/internal/reputation"
	"tibridge/internal/store"
	"tibridge/internal/store/storetest"
)

// padding lifts fixture documents over the default minimum content size.
const padding = "# firehol_level1\n" +
	"# This list is maintained for the tests of the deny-list manager.\n" +
	"# Entries below are synthetic test data.\n"

type fixture struct {
	store    *store.RedisStore
	counters *counters.Maintainer
	recorder *observation.Recorder
	manager  *Manager
	cfg      config.Config
	dir      string
}

func newFixture(t *testing.T, remoteURL string, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	s, _ := storetest.New(t)
	c := counters.New(s)
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Denylist.RemoteURL = remoteURL
	cfg.Denylist.BasePath = filepath.Join(dir, "blacklist.txt")
	cfg.Denylist.OverridePath = filepath.Join(dir, "blacklist_override.txt")
	cfg.Reconciler.PagePauseMillis = 0
	for _, fn := range mutate {
		fn(&cfg)
	}

	return &fixture{
		store:    s,
		counters: c,
		recorder: observation.NewRecorder(s, c),
		manager:  NewManager(s, c, http.DefaultClient, WithConfig(func() config.Config { return cfg })),
		cfg:      cfg,
		dir:      dir,
	}
}

func (f *fixture) writeOverride(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(f.cfg.Denylist.OverridePath, []byte(content), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
}

func serveDocument(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRefreshMergesBaseAndOverride(t *testing.T) {
	srv := serveDocument(t, padding+"1.2.3.0/24 # inline comment\nnot-an-entry\n")
	f := newFixture(t, srv.URL)
	f.writeOverride(t, "# manual additions\n5.6.7.8\n")
	ctx := context.Background()

	outcome, err := f.manager.Refresh(ctx, "test")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !outcome.Fetched || outcome.Entries != 2 || outcome.Skipped != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.DenyIPCount != "257" {
		t.Fatalf("deny-list ip count = %s, want 257", outcome.DenyIPCount)
	}

	stored, _, err := f.store.Get(ctx, store.KeyDenylistIPCount)
	if err != nil || stored != "257" {
		t.Fatalf("stored ip count = %q (%v), want 257", stored, err)
	}

	persisted, err := os.ReadFile(f.cfg.Denylist.BasePath)
	if err != nil || !strings.Contains(string(persisted), "1.2.3.0/24") {
		t.Fatalf("base document not persisted: %v", err)
	}

	classifier := reputation.NewClassifier(f.store)
	for _, ip := range []string{"1.2.3.4", "5.6.7.8"} {
		v, err := classifier.Classify(ctx, ip)
		if err != nil {
			t.Fatalf("Classify(%s): %v", ip, err)
		}
		if v.Severity != domain.SeverityHigh {
			t.Fatalf("Classify(%s) = %s, want high", ip, v.Severity)
		}
	}
}

func TestRefreshRetainsListOnBadDocument(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"too short": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "1.2.3.4\n")
		},
		"server error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusInternalServerError)
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			f := newFixture(t, srv.URL)
			ctx := context.Background()
			if err := f.store.ReplaceSet(ctx, store.KeyDenylist, []string{"9.9.9.9"}); err != nil {
				t.Fatalf("seed: %v", err)
			}

			_, err := f.manager.Refresh(ctx, "test")
			if !errors.Is(err, ErrRefreshAbandoned) {
				t.Fatalf("Refresh error = %v, want ErrRefreshAbandoned", err)
			}

			members, err := f.store.SetMembers(ctx, store.KeyDenylist)
			if err != nil || len(members) != 1 || members[0] != "9.9.9.9" {
				t.Fatalf("deny-list = %v (%v), want the previous [9.9.9.9]", members, err)
			}
			if _, err := os.Stat(f.cfg.Denylist.BasePath); !os.IsNotExist(err) {
				t.Fatalf("base document written despite abandoned refresh: %v", err)
			}
		})
	}
}

func TestRefreshWithoutRemoteUsesLocalFiles(t *testing.T) {
	f := newFixture(t, "")
	if err := os.WriteFile(f.cfg.Denylist.BasePath, []byte("10.0.0.0/30\n"), 0o644); err != nil {
		t.Fatalf("write base: %v", err)
	}
	f.writeOverride(t, "10.0.0.1 # also covered by the base network\n")

	outcome, err := f.manager.Refresh(context.Background(), "test")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if outcome.Fetched {
		t.Fatal("refresh without a remote url reported a fetch")
	}
	if outcome.DenyIPCount != "5" {
		t.Fatalf("ip count = %s, want 5 (overlap is not deduplicated)", outcome.DenyIPCount)
	}
}

func TestReconcilePurgesNewlyDenylistedObservation(t *testing.T) {
	srv := serveDocument(t, padding+"1.2.3.0/24\n")
	f := newFixture(t, srv.URL)
	ctx := context.Background()

	for _, ip := range []string{"1.2.3.4", "8.8.8.8"} {
		if _, err := f.recorder.RecordLocal(ctx, ip); err != nil {
			t.Fatalf("RecordLocal(%s): %v", ip, err)
		}
	}
	if _, err := f.recorder.Record(ctx, domain.SourceOSINT, "8.8.4.4", "test"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	report, err := f.manager.Reconcile(ctx, "test")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Purged() != 1 {
		t.Fatalf("purged = %d, want 1", report.Purged())
	}

	if ok, _ := f.store.Exists(ctx, store.LocalKey("1.2.3.4")); ok {
		t.Fatal("deny-listed observation still present")
	}
	if ok, _ := f.store.Exists(ctx, store.LocalKey("8.8.8.8")); !ok {
		t.Fatal("unrelated observation was purged")
	}

	stats, err := f.counters.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if stats.LocalTotal != 1 {
		t.Fatalf("local total = %d, want 1", stats.LocalTotal)
	}
}

func TestReconcileRemovesSentinelAndKeepsGoingOnAbandonedRefresh(t *testing.T) {
	srv := serveDocument(t, "short")
	f := newFixture(t, srv.URL)
	ctx := context.Background()

	if _, err := f.recorder.RecordLocal(ctx, "::1"); err != nil {
		t.Fatalf("RecordLocal: %v", err)
	}
	if _, err := f.recorder.Record(ctx, domain.SourceOSINT, "::1", "test"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	report, err := f.manager.Reconcile(ctx, "test")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.RefreshError == "" {
		t.Fatal("expected the abandoned refresh to be reported")
	}
	if report.SentinelRemoved != 2 {
		t.Fatalf("sentinel removed = %d, want 2", report.SentinelRemoved)
	}

	stats, _ := f.counters.Snapshot(ctx)
	if stats.LocalTotal != 0 {
		t.Fatalf("local total = %d, want 0", stats.LocalTotal)
	}

	// A second pass has nothing to remove and must not decrement again.
	if _, err := f.manager.Reconcile(ctx, "again"); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	stats, _ = f.counters.Snapshot(ctx)
	if stats.LocalTotal != 0 {
		t.Fatalf("local total after second pass = %d, want 0", stats.LocalTotal)
	}
}

func TestReconcilePagesAndResyncs(t *testing.T) {
	srv := serveDocument(t, padding+"203.0.113.0/24\n")
	f := newFixture(t, srv.URL, func(cfg *config.Config) {
		cfg.Reconciler.PageSize = 2
		cfg.Reconciler.ResyncTotals = true
	})
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		if _, err := f.recorder.Record(ctx, domain.SourceOSINT, fmt.Sprintf("198.51.100.%d", i), "test"); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if _, err := f.recorder.Record(ctx, domain.SourceOSINT, "203.0.113.7", "test"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := f.store.Set(ctx, store.KeyOSINTTotal, "40"); err != nil {
		t.Fatalf("seed total: %v", err)
	}

	report, err := f.manager.Reconcile(ctx, "test")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	var osint NamespaceResult
	for _, ns := range report.Namespaces {
		if ns.Source == domain.SourceOSINT {
			osint = ns
		}
	}
	if osint.Scanned < 7 {
		t.Fatalf("osint scan visited %d keys, want all 7", osint.Scanned)
	}
	if osint.Purged != 1 {
		t.Fatalf("osint purged = %d, want 1", osint.Purged)
	}

	stats, _ := f.counters.Snapshot(ctx)
	if stats.OSINTTotal != 6 {
		t.Fatalf("osint total after resync = %d, want 6", stats.OSINTTotal)
	}
}

func TestReconcileRemovesLoopbackWithoutConfiguredSentinels(t *testing.T) {
	srv := serveDocument(t, "short")
	f := newFixture(t, srv.URL, func(cfg *config.Config) {
		cfg.Reconciler.SentinelAddresses = nil
	})
	ctx := context.Background()

	if _, err := f.recorder.Record(ctx, domain.SourceOSINT, "::1", "test"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	report, err := f.manager.Reconcile(ctx, "test")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.SentinelRemoved != 1 {
		t.Fatalf("sentinel removed = %d, want 1", report.SentinelRemoved)
	}
	obs, err := f.recorder.Load(ctx, domain.SourceOSINT, "::1")
	if err != nil || obs != nil {
		t.Fatalf("::1 observation survived reconciliation (obs=%v, err=%v)", obs, err)
	}
}

func TestReconcileRecomputesCountsWhenRefreshAbandoned(t *testing.T) {
	srv := serveDocument(t, "short")
	f := newFixture(t, srv.URL)
	ctx := context.Background()

	if _, err := f.store.SetAdd(ctx, store.KeyAllowlist, "10.0.0.0/24"); err != nil {
		t.Fatalf("seed allow-list: %v", err)
	}
	if _, err := f.store.SetAdd(ctx, store.KeyDenylist, "1.2.3.0/24"); err != nil {
		t.Fatalf("seed deny-list: %v", err)
	}
	if err := f.store.Set(ctx, store.KeyAllowlistIPCount, "0"); err != nil {
		t.Fatalf("seed allow count: %v", err)
	}
	if err := f.store.Set(ctx, store.KeyDenylistIPCount, "17"); err != nil {
		t.Fatalf("seed deny count: %v", err)
	}

	report, err := f.manager.Reconcile(ctx, "test")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.RefreshError == "" {
		t.Fatal("expected the abandoned refresh to be reported")
	}
	for key, want := range map[string]string{
		store.KeyAllowlistIPCount: "256",
		store.KeyDenylistIPCount:  "256",
	} {
		got, _, err := f.store.Get(ctx, key)
		if err != nil || got != want {
			t.Fatalf("%s = %q (err=%v), want %s", key, got, err, want)
		}
	}
}
