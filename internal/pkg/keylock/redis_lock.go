package keylock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLock implements Lock across hosts using SET NX with a TTL. Each
// acquisition uses a random ownership value and a Lua script for release so
// one instance can never drop a lock another instance holds. The TTL bounds
// how long a crashed holder can block a campaign.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLock creates a Redis-backed keyed lock.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLock{client: client, ttl: ttl}
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// TryAcquire takes the key's lock if it is free.
func (l *RedisLock) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	token := randomToken()
	redisKey := "lock:campaign:" + key
	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", redisKey, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		releaseScript.Run(rctx, l.client, []string{redisKey}, token)
	}
	return release, true, nil
}

// Acquire polls TryAcquire until the lock is held or ctx is done.
func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		release, ok, err := l.TryAcquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func randomToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
