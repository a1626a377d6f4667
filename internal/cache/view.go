// Package cache holds the read-through cache of deduplicated selection views.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/homeyield/selection-server-go/internal/model"
	redisclient "github.com/homeyield/selection-server-go/internal/redis"
)

// NoGeneration marks a lookup whose generation is unknown; Set ignores it.
const NoGeneration int64 = -1

// generationTTL outlives any single read by a wide margin so a counter never
// resets while a reader still holds it.
const generationTTL = 24 * time.Hour

// setIfGenerationScript writes the view only while the owner's generation
// still matches the one observed before the database read.
// KEYS[1] = view key, KEYS[2] = generation key
// ARGV[1] = expected generation, ARGV[2] = encoded view, ARGV[3] = ttl in ms
var setIfGenerationScript = goredis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

type RedisViewCache struct {
	client goredis.Cmdable
	ttl    time.Duration
}

func NewRedisViewCache(client goredis.Cmdable, ttl time.Duration) *RedisViewCache {
	return &RedisViewCache{client: client, ttl: ttl}
}

// Get returns the cached view and the owner's current generation. Misses and
// errors both report false; the caller falls back to the database and hands
// the generation back to Set.
func (c *RedisViewCache) Get(ctx context.Context, ownerKey string) (*model.SelectionView, int64, bool) {
	if c.ttl <= 0 {
		return nil, NoGeneration, false
	}

	vals, err := c.client.MGet(ctx, redisclient.ViewCacheKey(ownerKey), redisclient.ViewGenerationKey(ownerKey)).Result()
	if err != nil || len(vals) != 2 {
		log.Ctx(ctx).Warn().Err(err).Str("owner", ownerKey).Msg("view cache read failed")
		return nil, NoGeneration, false
	}

	gen := int64(0)
	if raw, ok := vals[1].(string); ok {
		gen, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("owner", ownerKey).Msg("view generation corrupt")
			return nil, NoGeneration, false
		}
	}

	data, ok := vals[0].(string)
	if !ok {
		return nil, gen, false
	}

	var view model.SelectionView
	if err := json.Unmarshal([]byte(data), &view); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("owner", ownerKey).Msg("view cache entry corrupt")
		return nil, gen, false
	}
	return &view, gen, true
}

// Set stores view unless the owner was invalidated after gen was read.
func (c *RedisViewCache) Set(ctx context.Context, ownerKey string, gen int64, view *model.SelectionView) {
	if c.ttl <= 0 || gen < 0 {
		return
	}

	data, err := json.Marshal(view)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("owner", ownerKey).Msg("view cache encode failed")
		return
	}

	keys := []string{redisclient.ViewCacheKey(ownerKey), redisclient.ViewGenerationKey(ownerKey)}
	stored, err := setIfGenerationScript.Run(ctx, c.client, keys, strconv.FormatInt(gen, 10), data, c.ttl.Milliseconds()).Int()
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("owner", ownerKey).Msg("view cache write failed")
		return
	}
	if stored == 0 {
		log.Ctx(ctx).Debug().Str("owner", ownerKey).Msg("view cache write skipped after invalidation")
	}
}

// Invalidate bumps each owner's generation and drops the cached view, so
// reads already in flight cannot store what they loaded.
func (c *RedisViewCache) Invalidate(ctx context.Context, ownerKeys ...string) error {
	if len(ownerKeys) == 0 {
		return nil
	}

	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, ownerKey := range ownerKeys {
			genKey := redisclient.ViewGenerationKey(ownerKey)
			pipe.Incr(ctx, genKey)
			pipe.Expire(ctx, genKey, generationTTL)
			pipe.Del(ctx, redisclient.ViewCacheKey(ownerKey))
		}
		return nil
	})
	return err
}
