package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"tibridge/internal/metrics"
	"tibridge/internal/support"
)

// StartPolicy decides whether a task runs as soon as it is scheduled or only
// after its first interval has elapsed.
type StartPolicy int

const (
	RunImmediately StartPolicy = iota
	RunAfterInterval
)

// Task is one periodic job. Run is called once per tick; an error or panic is
// logged and the task waits for the next tick.
type Task struct {
	Name     string
	LockKey  string
	Start    StartPolicy
	Fallback time.Duration

	// Interval is the initial cadence; Updates delivers later changes.
	Interval func() time.Duration
	Updates  func() <-chan time.Duration

	Run func(ctx context.Context, reason string) error
}

// Schedule runs task until ctx is done. With a redis client the loop only
// runs while this process holds task.LockKey, so one replica drives each
// task. Without a client the loop runs unconditionally.
func Schedule(ctx context.Context, client *redis.Client, task Task) {
	if ctx == nil {
		ctx = context.Background()
	}

	var intervalValue atomic.Int64
	intervalValue.Store(int64(task.interval(task.current())))

	updateSignal := make(chan struct{}, 1)
	if task.Updates != nil {
		updates := task.Updates()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case next := <-updates:
					intervalValue.Store(int64(task.interval(next)))
					select {
					case updateSignal <- struct{}{}:
					default:
					}
				}
			}
		}()
	}

	if client == nil || task.LockKey == "" {
		runLoop(ctx, task, &intervalValue, updateSignal)
		return
	}

	err := support.RunWithLeader(ctx, client, task.LockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runLoop(leaderCtx, task, &intervalValue, updateSignal)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Scheduled task stopped", "task", task.Name, "error", err)
	}
}

func runLoop(ctx context.Context, task Task, intervalValue *atomic.Int64, updateSignal <-chan struct{}) {
	current := time.Duration(intervalValue.Load())
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	if task.Start == RunImmediately {
		Trigger(ctx, task, "startup")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Trigger(ctx, task, "scheduled")
		case <-updateSignal:
			next := time.Duration(intervalValue.Load())
			if next == current {
				continue
			}
			drainTicker(ticker)
			current = next
			ticker.Reset(current)
			log.Debug("Task interval changed", "task", task.Name, "interval", current)
		}
	}
}

// Trigger runs one tick of task outside the schedule. Errors and panics are
// logged, never propagated.
func Trigger(ctx context.Context, task Task, reason string) {
	started := time.Now()
	err := runIsolated(ctx, task, reason)
	metrics.ObserveTask(task.Name, time.Since(started), err)

	switch {
	case err == nil:
		log.Debug("Task finished", "task", task.Name, "reason", reason, "took", time.Since(started).Round(time.Millisecond))
	case errors.Is(err, context.Canceled):
		log.Info("Task canceled", "task", task.Name, "reason", reason)
	default:
		log.Error("Task failed", "task", task.Name, "reason", reason, "error", err)
	}
}

func runIsolated(ctx context.Context, task Task, reason string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task.Run(ctx, reason)
}

func (t Task) current() time.Duration {
	if t.Interval == nil {
		return 0
	}
	return t.Interval()
}

func (t Task) interval(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	if t.Fallback > 0 {
		return t.Fallback
	}
	return time.Hour
}

func drainTicker(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
		default:
			return
		}
	}
}
