package store

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewRedisStore(client), mr
}

func TestRedisStoreSetWithTTLExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.SetWithTTL(ctx, OSINTKey("1.2.3.4"), "v", time.Hour); err != nil {
		t.Fatalf("SetWithTTL returned error: %v", err)
	}

	ok, err := s.Exists(ctx, OSINTKey("1.2.3.4"))
	if err != nil || !ok {
		t.Fatalf("Exists returned %v, %v; want true, nil", ok, err)
	}

	mr.FastForward(2 * time.Hour)

	ok, err = s.Exists(ctx, OSINTKey("1.2.3.4"))
	if err != nil || ok {
		t.Fatalf("Exists after expiry returned %v, %v; want false, nil", ok, err)
	}
}

func TestRedisStoreGetMissing(t *testing.T) {
	s, _ := newTestStore(t)

	val, found, err := s.Get(context.Background(), "ti:missing")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if found || val != "" {
		t.Fatalf("Get returned %q, %v; want empty, false", val, found)
	}
}

func TestRedisStoreReplaceSet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.SetAdd(ctx, KeyDenylist, "9.9.9.9", "8.8.8.0/24"); err != nil {
		t.Fatalf("SetAdd returned error: %v", err)
	}
	if err := s.ReplaceSet(ctx, KeyDenylist, []string{"1.2.3.0/24", "5.6.7.8", "5.6.7.8"}); err != nil {
		t.Fatalf("ReplaceSet returned error: %v", err)
	}

	members, err := s.SetMembers(ctx, KeyDenylist)
	if err != nil {
		t.Fatalf("SetMembers returned error: %v", err)
	}
	sort.Strings(members)
	if len(members) != 2 || members[0] != "1.2.3.0/24" || members[1] != "5.6.7.8" {
		t.Fatalf("SetMembers returned %v, want [1.2.3.0/24 5.6.7.8]", members)
	}

	if err := s.ReplaceSet(ctx, KeyDenylist, nil); err != nil {
		t.Fatalf("ReplaceSet with no members returned error: %v", err)
	}
	if n, _ := s.SetCard(ctx, KeyDenylist); n != 0 {
		t.Fatalf("SetCard returned %d, want 0", n)
	}
}

func TestRedisStoreScanPages(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"} {
		if err := s.SetWithTTL(ctx, LocalKey(ip), "v", time.Hour); err != nil {
			t.Fatalf("SetWithTTL returned error: %v", err)
		}
	}
	if err := s.SetWithTTL(ctx, OSINTKey("10.0.0.9"), "v", time.Hour); err != nil {
		t.Fatalf("SetWithTTL returned error: %v", err)
	}

	seen := make(map[string]struct{})
	var cursor uint64
	for {
		next, keys, err := s.Scan(ctx, KeyLocalPrefix, cursor, 2)
		if err != nil {
			t.Fatalf("Scan returned error: %v", err)
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	if len(seen) != 5 {
		t.Fatalf("Scan visited %d local keys, want 5", len(seen))
	}
	if _, ok := seen[OSINTKey("10.0.0.9")]; ok {
		t.Fatal("Scan returned a key outside the prefix")
	}
}

func TestRedisStoreCounters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if n, err := s.Increment(ctx, KeyLocalTotal); err != nil || n != 1 {
		t.Fatalf("Increment returned %d, %v; want 1, nil", n, err)
	}
	if n, err := s.IncrementBy(ctx, KeyLocalTotal, 4); err != nil || n != 5 {
		t.Fatalf("IncrementBy returned %d, %v; want 5, nil", n, err)
	}
	if n, err := s.Decrement(ctx, KeyLocalTotal); err != nil || n != 4 {
		t.Fatalf("Decrement returned %d, %v; want 4, nil", n, err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() {
		_ = client.Close()
	})
	s := NewRedisStore(client)

	_, err := s.Exists(context.Background(), "ti:any")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Exists against an unreachable server returned %v, want ErrUnavailable", err)
	}
}
