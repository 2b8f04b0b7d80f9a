package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAccumulate(t *testing.T) {
	AddFeedResult("ipsum", 10, 4, false)
	AddFeedResult("ipsum", 5, 1, false)
	AddFeedResult("ipsum", 0, 0, true)

	if got := testutil.ToFloat64(feedAcceptedTotal.WithLabelValues("ipsum")); got != 15 {
		t.Fatalf("accepted_total = %v, want 15", got)
	}
	if got := testutil.ToFloat64(feedNewTotal.WithLabelValues("ipsum")); got != 5 {
		t.Fatalf("new_total = %v, want 5", got)
	}
	if got := testutil.ToFloat64(feedFailuresTotal.WithLabelValues("ipsum")); got != 1 {
		t.Fatalf("failures_total = %v, want 1", got)
	}

	AddPurged("local", 0)
	AddPurged("local", 2)
	if got := testutil.ToFloat64(purgedTotal.WithLabelValues("local")); got != 2 {
		t.Fatalf("purged_total = %v, want 2", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	SetDenylistEntries(257, time.Unix(1700000000, 0))
	ObserveTask("reconcile", time.Second, errors.New("boom"))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		"tibridge_denylist_entries 257",
		`tibridge_jobs_duration_seconds_count{result="error",task="reconcile"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
