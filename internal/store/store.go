package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps connectivity failures reported by the backing store.
var ErrUnavailable = errors.New("store: unavailable")

// Store is the key-value surface shared by the classifier, the feed pipeline and
// the reconciler. Every method maps onto a single atomic command of the backing
// store; compound sequences built from several calls are not atomic.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	SetAdd(ctx context.Context, setKey string, members ...string) (int64, error)
	SetRemove(ctx context.Context, setKey string, members ...string) (int64, error)
	SetMembers(ctx context.Context, setKey string) ([]string, error)
	SetIsMember(ctx context.Context, setKey, member string) (bool, error)
	SetCard(ctx context.Context, setKey string) (int64, error)
	// ReplaceSet swaps the whole content of setKey in one transaction.
	ReplaceSet(ctx context.Context, setKey string, members []string) error

	Increment(ctx context.Context, key string) (int64, error)
	IncrementBy(ctx context.Context, key string, delta int64) (int64, error)
	Decrement(ctx context.Context, key string) (int64, error)

	// Scan returns one page of keys starting with prefix. A returned cursor of
	// zero marks the end of the iteration.
	Scan(ctx context.Context, prefix string, cursor uint64, count int64) (uint64, []string, error)

	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashSet(ctx context.Context, key, field, value string) error
	HashDelete(ctx context.Context, key string, fields ...string) (int64, error)
	HashExists(ctx context.Context, key, field string) (bool, error)

	Ping(ctx context.Context) error
}
