package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL = 45 * time.Second
	leadershipRetryDelay = time.Second
	leaseOpTimeout       = 5 * time.Second
	minRenewalInterval   = time.Second
)

// ErrLeaseLost is the cause of a lease context cancelled because another
// holder owns the key now or the key expired.
var ErrLeaseLost = errors.New("leader lease lost")

var (
	leaseCounter atomic.Uint64

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)
)

// RunWithLeader blocks until this process holds key in redis, then calls run
// with a context that is cancelled when the lease is lost. The lease is
// renewed at a third of ttl and released when run returns. After run returns
// the loop competes for the lease again, so run is expected to block for as
// long as the caller wants to lead. Returns when ctx is done.
func RunWithLeader(ctx context.Context, client *redis.Client, key string, ttl time.Duration, run func(context.Context)) error {
	if run == nil {
		return errors.New("support: leader run function cannot be nil")
	}
	if client == nil {
		return errors.New("support: leader lock needs a redis client")
	}
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	for {
		lease, err := acquireLease(ctx, client, key, ttl)
		if err != nil {
			return err
		}

		log.Debug("leader lock: acquired", "key", key)
		run(lease.ctx)
		lease.release()
		log.Debug("leader lock: released", "key", key)

		if err := sleepCtx(ctx, leadershipRetryDelay); err != nil {
			return err
		}
	}
}

type lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
	once   sync.Once
}

// acquireLease polls SETNX until the key is ours or ctx ends.
func acquireLease(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*lease, error) {
	token := leaseToken()

	for {
		ok, err := client.SetNX(ctx, key, token, ttl).Result()
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			log.Warn("leader lock: setnx failed", "key", key, "error", err)
		case ok:
			leaseCtx, cancel := context.WithCancelCause(ctx)
			l := &lease{
				client: client,
				key:    key,
				token:  token,
				ttl:    ttl,
				ctx:    leaseCtx,
				cancel: cancel,
				done:   make(chan struct{}),
			}
			go l.keepAlive()
			return l, nil
		}

		if err := sleepCtx(ctx, leadershipRetryDelay); err != nil {
			return nil, err
		}
	}
}

func (l *lease) keepAlive() {
	interval := max(l.ttl/3, minRenewalInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.renew(); err != nil {
				log.Warn("leader lock: renewal failed", "key", l.key, "error", err)
				l.cancel(fmt.Errorf("%w: %w", ErrLeaseLost, err))
				return
			}
		}
	}
}

func (l *lease) renew() error {
	ctx, cancel := context.WithTimeout(context.Background(), leaseOpTimeout)
	defer cancel()

	res, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (l *lease) release() {
	l.once.Do(func() {
		close(l.done)
		l.cancel(nil)

		ctx, cancel := context.WithTimeout(context.Background(), leaseOpTimeout)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			log.Warn("leader lock: release failed", "key", l.key, "error", err)
		}
	})
}

func leaseToken() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), leaseCounter.Add(1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
