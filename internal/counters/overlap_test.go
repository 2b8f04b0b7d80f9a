package counters

import (
	"context"
	"fmt"
	"testing"
	"time"

	"tibridge/internal/store"
	"tibridge/internal/store/storetest"
)

func TestOverlapCountsSharedAddresses(t *testing.T) {
	s, _ := storetest.New(t)
	ctx := context.Background()

	for i := 1; i <= 12; i++ {
		ip := fmt.Sprintf("198.51.100.%d", i)
		if err := s.SetWithTTL(ctx, store.LocalKey(ip), "{}", time.Hour); err != nil {
			t.Fatalf("seed local: %v", err)
		}
		if i%2 == 0 {
			if err := s.SetWithTTL(ctx, store.OSINTKey(ip), "{}", time.Hour); err != nil {
				t.Fatalf("seed osint: %v", err)
			}
		}
	}
	if err := s.SetWithTTL(ctx, store.OSINTKey("203.0.113.1"), "{}", time.Hour); err != nil {
		t.Fatalf("seed osint: %v", err)
	}

	report, err := New(s).Overlap(ctx, 3)
	if err != nil {
		t.Fatalf("Overlap returned error: %v", err)
	}
	if report.Local != 12 || report.OSINT != 7 || report.Both != 6 {
		t.Fatalf("Overlap = %+v, want local 12, osint 7, both 6", report)
	}
	if len(report.Sample) != 6 {
		t.Fatalf("sample = %v, want 6 addresses", report.Sample)
	}
}

func TestOverlapEmptyStore(t *testing.T) {
	s, _ := storetest.New(t)
	report, err := New(s).Overlap(context.Background(), 100)
	if err != nil {
		t.Fatalf("Overlap returned error: %v", err)
	}
	if report.Local != 0 || report.Both != 0 || report.Sample == nil {
		t.Fatalf("Overlap on empty store = %+v", report)
	}
}
