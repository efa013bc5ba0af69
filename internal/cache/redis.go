package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrLockHeld    = errors.New("lock held by another worker")
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", addr).Msg("Redis connection established")
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// GetSummary returns a summary produced by an earlier run that was not yet
// persisted.
func (c *RedisCache) GetSummary(ctx context.Context, articleID int64) (string, error) {
	return c.Get(ctx, SummaryKey(articleID))
}

func (c *RedisCache) SetSummary(ctx context.Context, articleID int64, summary string) error {
	return c.Set(ctx, SummaryKey(articleID), summary, SummaryTTL)
}

func (c *RedisCache) DeleteSummary(ctx context.Context, articleID int64) error {
	return c.Del(ctx, SummaryKey(articleID))
}

// Lock is a held per-article lock.
type Lock struct {
	key   string
	token string
}

// AcquireLock claims the article for ttl. It returns ErrLockHeld when
// another worker holds it.
func (c *RedisCache) AcquireLock(ctx context.Context, articleID int64, ttl time.Duration) (*Lock, error) {
	lock := &Lock{key: LockKey(articleID), token: uuid.NewString()}

	ok, err := c.client.SetNX(ctx, lock.key, lock.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", lock.key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return lock, nil
}

// ReleaseLock frees lock unless it already expired and was taken over.
func (c *RedisCache) ReleaseLock(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, c.client, []string{lock.key}, lock.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lock.key, err)
	}
	return nil
}
