package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultAuthorityTTL = 5 * time.Minute
	keyPrefix           = "authorities:"
	genPrefix           = "authorities:gen:"
	// generationTTL bounds how long an idle key's counter survives. It must
	// outlast any single lookup.
	generationTTL = 24 * time.Hour
)

// setIfGeneration writes the value only while the generation counter still
// holds the value the caller read. A missing counter reads as 0.
//
// KEYS[1] value key, KEYS[2] generation key
// ARGV[1] expected generation, ARGV[2] payload, ARGV[3] ttl in ms
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// AuthorityCache keeps projected authority lists in Redis.
// Key format: authorities:<lookup key>, value: JSON array of strings.
// Generation counters live under authorities:gen:<lookup key>.
type AuthorityCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAuthorityCache wraps client. A non-positive ttl uses defaultAuthorityTTL.
func NewAuthorityCache(client *redis.Client, ttl time.Duration) *AuthorityCache {
	if ttl <= 0 {
		ttl = defaultAuthorityTTL
	}
	return &AuthorityCache{client: client, ttl: ttl}
}

// Get reads the entry and its generation in one round trip. A miss is
// reported with ok == false and a nil error.
func (c *AuthorityCache) Get(ctx context.Context, key string) ([]string, int64, bool, error) {
	vals, err := c.client.MGet(ctx, keyPrefix+key, genPrefix+key).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("authority cache get: %w", err)
	}

	var gen int64
	if raw, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, 0, false, fmt.Errorf("authority cache generation: %w", err)
		}
	}

	raw, ok := vals[0].(string)
	if !ok {
		return nil, gen, false, nil
	}
	var authorities []string
	if err := json.Unmarshal([]byte(raw), &authorities); err != nil {
		return nil, 0, false, fmt.Errorf("authority cache decode: %w", err)
	}
	return authorities, gen, true, nil
}

// Set stores authorities under key until the TTL elapses, unless key was
// invalidated after gen was read.
func (c *AuthorityCache) Set(ctx context.Context, key string, gen int64, authorities []string) (bool, error) {
	raw, err := json.Marshal(authorities)
	if err != nil {
		return false, fmt.Errorf("authority cache encode: %w", err)
	}
	n, err := setIfGeneration.Run(ctx, c.client,
		[]string{keyPrefix + key, genPrefix + key},
		strconv.FormatInt(gen, 10), raw, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("authority cache set: %w", err)
	}
	return n == 1, nil
}

// Invalidate advances the generation of every given key and removes its
// entry, atomically.
func (c *AuthorityCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Incr(ctx, genPrefix+k)
			pipe.Expire(ctx, genPrefix+k, generationTTL)
			pipe.Del(ctx, keyPrefix+k)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("authority cache invalidate: %w", err)
	}
	return nil
}
