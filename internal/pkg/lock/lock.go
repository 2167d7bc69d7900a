package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	ErrLockTimeout = errors.New("lock: acquire timed out")
	ErrLockLost    = errors.New("lock: no longer held")
)

const defaultRetryInterval = 25 * time.Millisecond

// 只有持有者 token 匹配时才删除 / 续期
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// Locker 基于 Redis SET NX PX 的分布式互斥锁，持有者崩溃后由 TTL 自动释放
type Locker struct {
	client        *redis.Client
	prefix        string
	retryInterval time.Duration
}

func NewLocker(client *redis.Client, prefix string) *Locker {
	return &Locker{
		client:        client,
		prefix:        prefix,
		retryInterval: defaultRetryInterval,
	}
}

// Lock 已持有的锁
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *Locker) key(name string) string {
	if l.prefix == "" {
		return name
	}
	return l.prefix + ":" + name
}

// TryAcquire 尝试一次加锁
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lock, bool, error) {
	key := l.key(name)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{client: l.client, key: key, token: token}, true, nil
}

// Acquire 在 wait 时间内重试加锁，超时返回 ErrLockTimeout
func (l *Locker) Acquire(ctx context.Context, name string, ttl, wait time.Duration) (*Lock, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		lk, ok, err := l.TryAcquire(ctx, name, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return lk, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release 释放锁；锁已过期或被他人持有时返回 ErrLockLost
func (lk *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, lk.client, []string{lk.key}, lk.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lk.key, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// Extend 续期
func (lk *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, lk.client, []string{lk.key}, lk.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to extend lock %s: %w", lk.key, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (lk *Lock) Key() string {
	return lk.key
}
