package runtime

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	InstanceHeartbeatKeyPrefix = "ti:instance:"
	DefaultHeartbeatInterval   = 15 * time.Second
	DefaultHeartbeatTTL        = 30 * time.Second
)

var instanceID = generateInstanceID()

func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().UnixNano())
}

// StartInstanceHeartbeat refreshes this process's presence key until ctx is
// done. The dashboard counts live keys to report running replicas.
func StartInstanceHeartbeat(ctx context.Context, client *redis.Client, interval, ttl time.Duration) {
	key := InstanceHeartbeatKeyPrefix + instanceID

	beat := func() {
		if err := client.SetEx(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil && ctx.Err() == nil {
			log.Error("Failed to update instance heartbeat", "key", key, "error", err)
		}
	}

	beat()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}

// CountActiveInstances counts heartbeat keys with a cursor scan.
func CountActiveInstances(ctx context.Context, client *redis.Client) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := client.Scan(ctx, cursor, InstanceHeartbeatKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, err
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}
