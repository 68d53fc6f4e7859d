package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// generationTTL bounds how long an untouched generation counter lives. It
// must outlast any single read-fetch-store cycle by a wide margin.
const generationTTL = 24 * time.Hour

// ViewCache keeps JSON-encoded display views with a fixed TTL. Entries are
// a convenience for readers only; losing one costs a repository read.
//
// Every view belongs to a generation counter. Writers bump the counter when
// they invalidate, and a reader's Store only lands if the counter still holds
// the value the reader saw before fetching, so a fetch that raced a write
// never reaches the cache.
type ViewCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewViewCache(client *redis.Client, ttl time.Duration) *ViewCache {
	return &ViewCache{client: client, ttl: ttl}
}

func (c *ViewCache) Load(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("get view %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// A view we cannot decode is as good as missing.
		_ = c.client.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

// Generation returns the counter stored at genKey, zero when absent.
func (c *ViewCache) Generation(ctx context.Context, genKey string) (int64, error) {
	gen, err := c.client.Get(ctx, genKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get generation %s: %w", genKey, err)
	}
	return gen, nil
}

var storeScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1]) or "0"
if cur ~= ARGV[1] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
else
  redis.call("SET", KEYS[2], ARGV[2])
end
return 1
`)

// Store saves v under key if genKey still equals gen. It reports whether the
// view was written.
func (c *ViewCache) Store(ctx context.Context, genKey string, gen int64, key string, v any) (bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("encode view %s: %w", key, err)
	}
	n, err := storeScript.Run(ctx, c.client, []string{genKey, key},
		strconv.FormatInt(gen, 10), string(raw), c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("set view %s: %w", key, err)
	}
	return n == 1, nil
}

// Invalidate bumps every generation in genKeys and drops keys in one
// transaction.
func (c *ViewCache) Invalidate(ctx context.Context, genKeys []string, keys ...string) error {
	if len(genKeys) == 0 && len(keys) == 0 {
		return nil
	}
	genTTL := max(generationTTL, 2*c.ttl)

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, gk := range genKeys {
			pipe.Incr(ctx, gk)
			pipe.Expire(ctx, gk, genTTL)
		}
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate views: %w", err)
	}
	return nil
}
