package support

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRunWithLeaderHoldsAndReleasesKey(t *testing.T) {
	client, mr := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- RunWithLeader(ctx, client, "ti:leader:test", 10*time.Second, func(leaseCtx context.Context) {
			if !mr.Exists("ti:leader:test") {
				t.Error("lease key missing while run executes")
			}
			close(ran)
			<-leaseCtx.Done()
		})
	}()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("run was never invoked")
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("RunWithLeader returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunWithLeader did not return after cancel")
	}

	if mr.Exists("ti:leader:test") {
		t.Fatal("lease key still present after release")
	}
}

func TestRunWithLeaderWaitsForHolder(t *testing.T) {
	client, mr := newTestRedis(t)
	if err := mr.Set("ti:leader:busy", "someone-else"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	called := false
	err := RunWithLeader(ctx, client, "ti:leader:busy", time.Second, func(context.Context) { called = true })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RunWithLeader returned %v, want deadline exceeded", err)
	}
	if called {
		t.Fatal("run executed while another instance held the lease")
	}
}

func TestLeaseRenewDetectsLoss(t *testing.T) {
	client, mr := newTestRedis(t)
	ctx := context.Background()

	l, err := acquireLease(ctx, client, "ti:leader:renew", 10*time.Second)
	if err != nil {
		t.Fatalf("acquireLease: %v", err)
	}
	defer l.release()

	if err := l.renew(); err != nil {
		t.Fatalf("renew while held: %v", err)
	}

	mr.Set("ti:leader:renew", "stolen")
	if err := l.renew(); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("renew after takeover returned %v, want ErrLeaseLost", err)
	}
}
