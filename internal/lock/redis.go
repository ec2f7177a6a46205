package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds RedisLocker settings.
type RedisConfig struct {
	Addr      string
	Prefix    string
	TTL       time.Duration
	RetryWait time.Duration
}

// DefaultRedisConfig returns defaults for addr.
func DefaultRedisConfig(addr string) RedisConfig {
	return RedisConfig{
		Addr:      addr,
		Prefix:    "courseforge:lock:",
		TTL:       10 * time.Second,
		RetryWait: 25 * time.Millisecond,
	}
}

// RedisLocker is a Locker shared by every daemon instance. Locks are SET NX
// with a TTL so a crashed holder cannot block a learner forever.
type RedisLocker struct {
	rdb goredis.UniversalClient
	cfg RedisConfig
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(ctx context.Context, cfg RedisConfig) (*RedisLocker, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisLockerFromClient(rdb, cfg), nil
}

// NewRedisLockerFromClient wraps an existing client.
func NewRedisLockerFromClient(rdb goredis.UniversalClient, cfg RedisConfig) *RedisLocker {
	def := DefaultRedisConfig(cfg.Addr)
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = def.RetryWait
	}
	return &RedisLocker{rdb: rdb, cfg: cfg}
}

// Acquire implements Locker by polling SET NX until it succeeds.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	k := l.cfg.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.cfg.RetryWait)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return l.release(k, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) release(key, token string) Release {
	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}

var _ Locker = (*RedisLocker)(nil)
