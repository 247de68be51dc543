package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL = 45 * time.Second
	leadershipRetryDelay = time.Second
	renewalTimeout       = 5 * time.Second
)

var (
	leaderCounter atomic.Uint64

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

// RunWithLeader acquires a redis leadership lock and invokes run while the
// lock is held. run receives a context that is cancelled when leadership is
// lost or the parent context is done. Used so periodic maintenance work (the
// block retention sweep) executes on exactly one instance at a time.
func RunWithLeader(ctx context.Context, key string, ttl time.Duration, run func(context.Context)) error {
	if run == nil {
		return errors.New("support: leader run function cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	client, err := GetRedisClient()
	if err != nil {
		return fmt.Errorf("support: leader lock redis client: %w", err)
	}

	value := leaderID()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ok, err := client.SetNX(ctx, key, value, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("leader lock: setnx failed", "key", key, "error", err)
			ok = false
		}

		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(leadershipRetryDelay):
			}
			continue
		}

		log.Debug("leader lock: acquired", "key", key)
		leaderCtx, cancel := context.WithCancel(ctx)
		stopRenew := make(chan struct{})
		go renewLoop(leaderCtx, cancel, stopRenew, client, key, value, ttl)

		run(leaderCtx)

		close(stopRenew)
		cancel()
		releaseLock(client, key, value)
		log.Debug("leader lock: released", "key", key)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(leadershipRetryDelay):
		}
	}
}

func renewLoop(ctx context.Context, cancel context.CancelFunc, stop <-chan struct{}, client *redis.Client, key, value string, ttl time.Duration) {
	interval := ttl / 3
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := renewLock(client, key, value, ttl); err != nil {
				log.Warn("leader lock: renewal failed", "key", key, "error", err)
				cancel()
				return
			}
		}
	}
}

func renewLock(client *redis.Client, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), renewalTimeout)
	defer cancel()

	res, err := renewScript.Run(ctx, client, []string{key}, value, ttl.Milliseconds()).Result()
	if err != nil {
		return err
	}
	if updated, ok := res.(int64); ok && updated == 0 {
		return errors.New("lock lost")
	}
	return nil
}

func releaseLock(client *redis.Client, key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), renewalTimeout)
	defer cancel()

	if _, err := releaseScript.Run(ctx, client, []string{key}, value).Result(); err != nil && !errors.Is(err, redis.Nil) {
		log.Warn("leader lock: release failed", "key", key, "error", err)
	}
}

func leaderID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), leaderCounter.Add(1))
}
