package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"marketpulse/pkg/models"
)

const keyPrefix = "cache:"

// Cache is the content-addressed memoization layer of the queue: handlers
// opt in by declaring a set of key parts, and the fingerprint of those parts
// becomes the Redis key. Redis's own TTL does expiry; Cleanup deletes any
// cache entry left without a TTL.
type Cache struct {
	client *redis.Client
}

// NewCache opens a client against addr and verifies connectivity.
func NewCache(addr string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Cache{client: client}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying go-redis client so callers that need a
// different keyspace (e.g. auth.RedisAPIKeyStore) can share the connection.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Fingerprint returns the hex digest of a canonical (sorted-key) JSON
// encoding of the given key parts, prefixed by job type so two handlers
// never collide on an identical payload.
func Fingerprint(jobType models.JobType, parts map[string]interface{}) string {
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	canonical := make([]interface{}, 0, len(keys)*2+1)
	canonical = append(canonical, string(jobType))
	for _, k := range keys {
		canonical = append(canonical, k, parts[k])
	}

	b, _ := json.Marshal(canonical)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached value iff it has not expired. Redis's own TTL
// already drops expired keys, so a cache miss and an expired entry look
// identical to the caller.
func (c *Cache) Get(ctx context.Context, key string) (models.Payload, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var value models.Payload
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return value, true, nil
}

// Set overwrites the entry for key with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value models.Payload, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Cleanup is an idempotent sweep invoked by the reaper on a schedule. TTL
// already garbage-collects expired values; this walks the keyspace once to
// drop any entry whose TTL was somehow lost (e.g. a SET without EX from an
// older client), closing the gap rather than relying on TTL alone.
func (c *Cache) Cleanup(ctx context.Context) (int64, error) {
	var cursor uint64
	var dropped int64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return dropped, fmt.Errorf("failed to scan cache keys: %w", err)
		}
		for _, k := range keys {
			ttl, err := c.client.TTL(ctx, k).Result()
			if err != nil {
				continue
			}
			if ttl < 0 {
				if err := c.client.Del(ctx, k).Err(); err == nil {
					dropped++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return dropped, nil
}

// pauseKey lives outside keyPrefix since it's queue control state, not a
// memoized handler result, and must survive Cleanup's keyspace sweep.
const pauseKey = "queue:paused"

// SetPaused records the queue's pause flag so any process (API or worker)
// can read it, letting the management API toggle pause/resume across
// process boundaries instead of only within the API's own memory.
func (c *Cache) SetPaused(ctx context.Context, paused bool) error {
	val := "0"
	if paused {
		val = "1"
	}
	return c.client.Set(ctx, pauseKey, val, 0).Err()
}

// IsPaused reports the current pause flag, defaulting to false if unset.
func (c *Cache) IsPaused(ctx context.Context) (bool, error) {
	val, err := c.client.Get(ctx, pauseKey).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to read pause flag: %w", err)
	}
	return val == "1", nil
}

// idempotencyPrefix namespaces replayed-response records separately from
// keyPrefix's handler memoization entries; the two have different TTLs and
// lifecycles even though they share the same Redis instance.
const idempotencyPrefix = "idempotency:"

// IdempotentResponse is the recorded outcome of a mutating request made
// with a given Idempotency-Key, replayed verbatim on a retried request.
type IdempotentResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// ClaimIdempotencyKey atomically reserves key for the lifetime of ttl. It
// returns ok=true the first time a given key is seen, so the caller knows
// it owns the request and must populate the result with SaveIdempotentResponse.
// A concurrent or retried request with the same key gets ok=false; this
// method does not wait for or return the first request's outcome, which is
// read separately through GetIdempotentResponse.
func (c *Cache) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	claimed, err := c.client.SetNX(ctx, idempotencyPrefix+key, "pending", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	return claimed, nil
}

// SaveIdempotentResponse records the final outcome for a claimed key so a
// retry can replay it instead of re-running the handler.
func (c *Cache) SaveIdempotentResponse(ctx context.Context, key string, resp IdempotentResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotent response: %w", err)
	}
	if err := c.client.Set(ctx, idempotencyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save idempotent response: %w", err)
	}
	return nil
}

// GetIdempotentResponse returns the recorded response for key, if any. While
// a request is still in flight the value is the "pending" placeholder, not
// valid JSON, so that case is reported as a miss rather than an error.
func (c *Cache) GetIdempotentResponse(ctx context.Context, key string) (*IdempotentResponse, bool, error) {
	data, err := c.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	var resp IdempotentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, nil
	}
	return &resp, true, nil
}
