package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisConfigKey     = "ti:config:settings"
	redisConfigChannel = "ti:config:updates"
	redisOpTimeout     = 5 * time.Second
)

// syncEnvelope tags a broadcast with the instance that produced it so an
// instance does not re-apply its own updates.
type syncEnvelope struct {
	Origin string          `json:"origin"`
	Config json.RawMessage `json:"config"`
}

type redisSyncState struct {
	mu     sync.RWMutex
	client *redis.Client
	ctx    context.Context
	origin string
}

var globalRedisSync redisSyncState

// EnableRedisSynchronization loads the shared settings from redis (or seeds
// redis with the local ones) and applies updates published by other
// instances until ctx is done.
func EnableRedisSynchronization(ctx context.Context, client *redis.Client) {
	if client == nil {
		log.Warn("Config synchronization disabled: redis client is nil")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	globalRedisSync.mu.Lock()
	if globalRedisSync.client != nil {
		globalRedisSync.mu.Unlock()
		return
	}
	hostname, _ := os.Hostname()
	globalRedisSync.client = client
	globalRedisSync.ctx = ctx
	globalRedisSync.origin = fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().UnixNano())
	globalRedisSync.mu.Unlock()

	loaded, err := loadConfigFromRedis(ctx, client)
	if err != nil {
		log.Error("Config sync: failed to load configuration from redis", "error", err)
	}

	if !loaded {
		payload, err := json.Marshal(GetConfig())
		if err != nil {
			log.Error("Config sync: failed to serialize configuration for redis", "error", err)
		} else if err := broadcastConfigUpdate(payload); err != nil {
			log.Error("Config sync: failed to publish configuration to redis", "error", err)
		}
	}

	go subscribeToConfigUpdates(ctx, client)
}

func loadConfigFromRedis(ctx context.Context, client *redis.Client) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	payload, err := client.Get(opCtx, redisConfigKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var cfg Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return true, fmt.Errorf("decode stored settings: %w", err)
	}
	return true, applyConfigUpdate(cfg, configUpdateOptions{persistToFile: true, source: "redis"})
}

func subscribeToConfigUpdates(ctx context.Context, client *redis.Client) {
	pubsub := client.Subscribe(ctx, redisConfigChannel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("Config sync: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		handleConfigMessage([]byte(msg.Payload))
	}
}

func handleConfigMessage(payload []byte) {
	var envelope syncEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		log.Error("Config sync: invalid payload", "error", err)
		return
	}

	globalRedisSync.mu.RLock()
	self := globalRedisSync.origin
	globalRedisSync.mu.RUnlock()
	if envelope.Origin != "" && envelope.Origin == self {
		return
	}

	var cfg Config
	if err := json.Unmarshal(envelope.Config, &cfg); err != nil {
		log.Error("Config sync: invalid settings in payload", "origin", envelope.Origin, "error", err)
		return
	}
	if err := applyConfigUpdate(cfg, configUpdateOptions{persistToFile: true, source: "redis:" + envelope.Origin}); err != nil {
		log.Error("Config sync: failed to apply remote update", "error", err)
	}
}

func broadcastConfigUpdate(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	globalRedisSync.mu.RLock()
	client := globalRedisSync.client
	ctx := globalRedisSync.ctx
	origin := globalRedisSync.origin
	globalRedisSync.mu.RUnlock()

	if client == nil {
		return nil
	}
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}

	message, err := json.Marshal(syncEnvelope{Origin: origin, Config: payload})
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := client.Set(opCtx, redisConfigKey, payload, 0).Err(); err != nil {
		return err
	}
	return client.Publish(opCtx, redisConfigChannel, message).Err()
}
