package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned when a key does not exist.
var ErrKeyNotFound = errors.New("store: key not found")

var errNilClient = errors.New("store: redis client is nil")

// unlockScript deletes the lock only when it is still owned by the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore is the shared key-value store used for counters, buckets, locks and summaries.
// Counters use INCR/HINCRBY so concurrent workers never lose increments.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed store.
// If the Redis client is nil, every operation fails with an error instead of panicking.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{client: rdb}
}

// GetJSON retrieves a value and deserializes it into dest.
// Returns ErrKeyNotFound if the key doesn't exist.
func (s *RedisStore) GetJSON(ctx context.Context, key string, dest interface{}) error {
	if s.client == nil {
		return errNilClient
	}

	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("store: failed to get key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("store: failed to unmarshal value for key %s: %w", key, err)
	}

	return nil
}

// SetJSON stores a JSON-encoded value with the specified TTL.
func (s *RedisStore) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if s.client == nil {
		return errNilClient
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: failed to marshal value for key %s: %w", key, err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("store: failed to set key %s: %w", key, err)
	}

	return nil
}

// SetIfAbsent stores a JSON-encoded value only when key does not exist yet.
// It reports whether the value was written.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if s.client == nil {
		return false, errNilClient
	}

	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("store: failed to marshal value for key %s: %w", key, err)
	}

	ok, err := s.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("store: failed to set key %s: %w", key, err)
	}

	return ok, nil
}

// Delete removes keys. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if s.client == nil {
		return errNilClient
	}
	if len(keys) == 0 {
		return nil
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("store: failed to delete keys %v: %w", keys, err)
	}

	return nil
}

// Incr increments a counter and sets its TTL on the first increment.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if s.client == nil {
		return 0, errNilClient
	}

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("store: failed to increment %s: %w", key, err)
	}

	if count == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, fmt.Errorf("store: failed to set TTL for %s: %w", key, err)
		}
	}

	return count, nil
}

// SetInt overwrites a counter with an exact value.
func (s *RedisStore) SetInt(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if s.client == nil {
		return errNilClient
	}

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("store: failed to set counter %s: %w", key, err)
	}

	return nil
}

// GetInt reads a counter. A missing key reads as 0.
func (s *RedisStore) GetInt(ctx context.Context, key string) (int64, error) {
	if s.client == nil {
		return 0, errNilClient
	}

	count, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: failed to get counter %s: %w", key, err)
	}

	return count, nil
}

// IncrField increments one dimension of a bucket hash by n and sets the bucket TTL when the
// field is created.
func (s *RedisStore) IncrField(ctx context.Context, key, field string, n int64, ttl time.Duration) (int64, error) {
	if s.client == nil {
		return 0, errNilClient
	}

	count, err := s.client.HIncrBy(ctx, key, field, n).Result()
	if err != nil {
		return 0, fmt.Errorf("store: failed to increment %s[%s]: %w", key, field, err)
	}

	if count == n && ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, fmt.Errorf("store: failed to set TTL for %s: %w", key, err)
		}
	}

	return count, nil
}

// Fields returns every counter of a bucket hash. A missing bucket yields an empty map.
func (s *RedisStore) Fields(ctx context.Context, key string) (map[string]int64, error) {
	if s.client == nil {
		return nil, errNilClient
	}

	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: failed to read bucket %s: %w", key, err)
	}

	fields := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("store: bucket %s field %s is not a counter: %w", key, field, err)
		}
		fields[field] = n
	}

	return fields, nil
}

// PushCapped prepends a JSON-encoded value to a list and trims it to limit entries,
// dropping the oldest ones.
func (s *RedisStore) PushCapped(ctx context.Context, key string, value interface{}, limit int64, ttl time.Duration) error {
	if s.client == nil {
		return errNilClient
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: failed to marshal list entry for %s: %w", key, err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	if limit > 0 {
		pipe.LTrim(ctx, key, 0, limit-1)
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: failed to push to %s: %w", key, err)
	}

	return nil
}

// List returns the raw entries of a list, newest first.
func (s *RedisStore) List(ctx context.Context, key string) ([]string, error) {
	if s.client == nil {
		return nil, errNilClient
	}

	entries, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: failed to read list %s: %w", key, err)
	}

	return entries, nil
}

// TryLock attempts to take a named lock without waiting.
// It returns the owner token when acquired, or ok=false when someone else holds it.
func (s *RedisStore) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if s.client == nil {
		return "", false, errNilClient
	}

	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("store: failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}

	return token, true, nil
}

// Unlock releases a lock only if token still owns it. A lock that already expired and was
// taken by someone else is left alone.
func (s *RedisStore) Unlock(ctx context.Context, key, token string) (bool, error) {
	if s.client == nil {
		return false, errNilClient
	}

	n, err := unlockScript.Run(ctx, s.client, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("store: failed to release lock %s: %w", key, err)
	}

	return n == 1, nil
}

// BuildKey joins key parts with ':'.
// Examples:
//   - BuildKey("errors", "dropbox", "42", "2026101914") -> "errors:dropbox:42:2026101914"
//   - BuildKey("token_refresh", "batch", "lock") -> "token_refresh:batch:lock"
func BuildKey(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}
