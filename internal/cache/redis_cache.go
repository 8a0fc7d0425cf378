package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb     *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl, lockTTL time.Duration) *RedisCache {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &RedisCache{rdb: rdb, ttl: ttl, lockTTL: lockTTL}
}

type publishedValue struct {
	Posts       []PublishedPost `json:"posts"`
	PublishedAt time.Time       `json:"publishedAt"`
}

func publishedKey(contentID int64) string { return fmt.Sprintf("content:%d:published", contentID) }
func lockKey(contentID int64) string      { return fmt.Sprintf("content:%d:lock", contentID) }

func (c *RedisCache) StorePublished(ctx context.Context, contentID int64, posts []PublishedPost, publishedAt time.Time) error {
	val := publishedValue{
		Posts:       posts,
		PublishedAt: publishedAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, publishedKey(contentID), b, c.ttl).Err()
}

// Published returns the cached post ids for a content item, or false when
// nothing is cached.
func (c *RedisCache) Published(ctx context.Context, contentID int64) ([]PublishedPost, bool, error) {
	raw, err := c.rdb.Get(ctx, publishedKey(contentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var val publishedValue
	if err := json.Unmarshal(raw, &val); err != nil {
		return nil, false, fmt.Errorf("decode cached publication: %w", err)
	}
	return val.Posts, true, nil
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Lock takes the per-content publish lock. The lease is renewed every
// lockTTL/3 while the lock is held, so a long run keeps it and a crashed
// run releases it within lockTTL.
func (c *RedisCache) Lock(ctx context.Context, contentID int64) (func(context.Context) error, error) {
	token := uuid.NewString()
	key := lockKey(contentID)

	ok, err := c.rdb.SetNX(ctx, key, token, c.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	renewCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.keepAlive(renewCtx, key, token)
	}()

	var once sync.Once
	unlock := func(ctx context.Context) error {
		once.Do(func() {
			stop()
			<-done
		})
		return unlockScript.Run(ctx, c.rdb, []string{key}, token).Err()
	}
	return unlock, nil
}

// keepAlive extends the lease until ctx ends or the lock is no longer ours.
func (c *RedisCache) keepAlive(ctx context.Context, key, token string) {
	ticker := time.NewTicker(c.lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := renewScript.Run(ctx, c.rdb, []string{key}, token, c.lockTTL.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if held == 0 {
				return
			}
		}
	}
}
