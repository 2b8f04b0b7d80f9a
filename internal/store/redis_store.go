package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of a go-redis client.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying connection for collaborators that need
// commands outside the Store surface (leader locks, pub/sub).
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("get "+key, err)
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return wrap("set "+key, s.client.Set(ctx, key, value, 0).Err())
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrap("setex "+key, s.client.SetEx(ctx, key, value, ttl).Err())
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap("exists "+key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	return n, wrap("del", err)
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap("expire "+key, s.client.Expire(ctx, key, ttl).Err())
}

func (s *RedisStore) SetAdd(ctx context.Context, setKey string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	n, err := s.client.SAdd(ctx, setKey, toArgs(members)...).Result()
	return n, wrap("sadd "+setKey, err)
}

func (s *RedisStore) SetRemove(ctx context.Context, setKey string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	n, err := s.client.SRem(ctx, setKey, toArgs(members)...).Result()
	return n, wrap("srem "+setKey, err)
}

func (s *RedisStore) SetMembers(ctx context.Context, setKey string) ([]string, error) {
	members, err := s.client.SMembers(ctx, setKey).Result()
	return members, wrap("smembers "+setKey, err)
}

func (s *RedisStore) SetIsMember(ctx context.Context, setKey, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, setKey, member).Result()
	return ok, wrap("sismember "+setKey, err)
}

func (s *RedisStore) SetCard(ctx context.Context, setKey string) (int64, error) {
	n, err := s.client.SCard(ctx, setKey).Result()
	return n, wrap("scard "+setKey, err)
}

func (s *RedisStore) ReplaceSet(ctx context.Context, setKey string, members []string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, setKey)
		if len(members) > 0 {
			pipe.SAdd(ctx, setKey, toArgs(members)...)
		}
		return nil
	})
	return wrap("replace "+setKey, err)
}

func (s *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	return n, wrap("incr "+key, err)
}

func (s *RedisStore) IncrementBy(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := s.client.IncrBy(ctx, key, delta).Result()
	return n, wrap("incrby "+key, err)
}

func (s *RedisStore) Decrement(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Decr(ctx, key).Result()
	return n, wrap("decr "+key, err)
}

func (s *RedisStore) Scan(ctx context.Context, prefix string, cursor uint64, count int64) (uint64, []string, error) {
	keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", count).Result()
	if err != nil {
		return 0, nil, wrap("scan "+prefix, err)
	}
	return next, keys, nil
}

func (s *RedisStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	return m, wrap("hgetall "+key, err)
}

func (s *RedisStore) HashSet(ctx context.Context, key, field, value string) error {
	return wrap("hset "+key, s.client.HSet(ctx, key, field, value).Err())
}

func (s *RedisStore) HashDelete(ctx context.Context, key string, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	n, err := s.client.HDel(ctx, key, fields...).Result()
	return n, wrap("hdel "+key, err)
}

func (s *RedisStore) HashExists(ctx context.Context, key, field string) (bool, error) {
	ok, err := s.client.HExists(ctx, key, field).Result()
	return ok, wrap("hexists "+key, err)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx).Err())
}

func toArgs(members []string) []interface{} {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}
