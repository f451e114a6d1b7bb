package quota

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// LocalStore is the key-value store guest counts live in. It mirrors the
// widget's browser storage surface: string values, absent keys are not an
// error. The server-side implementation keys everything by visitor ID.
type LocalStore interface {
	// GetItem returns the stored value and whether the key exists.
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)

	// SetItem stores a value under key, overwriting any previous value.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes a key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error
}

// localKeyPrefix namespaces widget-local keys in Redis away from sessions
// and other application keys.
const localKeyPrefix = "local:"

// redisLocalStore implements LocalStore on the shared Redis client.
type redisLocalStore struct {
	rdb *redis.Client
}

// NewRedisLocalStore creates a LocalStore backed by Redis. Keys have no TTL:
// a guest's free-turn usage survives server restarts the same way browser
// storage survives page reloads.
func NewRedisLocalStore(rdb *redis.Client) LocalStore {
	return &redisLocalStore{rdb: rdb}
}

func (s *redisLocalStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, localKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading local key %q: %w", key, err)
	}
	return val, true, nil
}

func (s *redisLocalStore) SetItem(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, localKeyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("writing local key %q: %w", key, err)
	}
	return nil
}

func (s *redisLocalStore) RemoveItem(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, localKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("removing local key %q: %w", key, err)
	}
	return nil
}
