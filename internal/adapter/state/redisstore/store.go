// Package redisstore persists key state as a single JSON value in Redis.
// The whole mapping is rewritten on every save, so concurrent writers resolve
// last-write-wins, matching the file store semantics.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/keypool/internal/adapter/state"
	"github.com/fairyhunter13/keypool/internal/domain"
)

const defaultKey = "keypool:states"

// Store implements domain.StateStore on a Redis client.
type Store struct {
	rdb *redis.Client
	key string
}

// New constructs a Store. namespace distinguishes pools sharing one Redis;
// empty uses the default.
func New(rdb *redis.Client, namespace string) *Store {
	key := defaultKey
	if namespace != "" {
		key = "keypool:" + namespace + ":states"
	}
	return &Store{rdb: rdb, key: key}
}

// Load implements domain.StateStore. A missing key is empty state.
func (s *Store) Load(ctx context.Context) (map[string]domain.KeyState, error) {
	b, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[string]domain.KeyState{}, nil
		}
		return nil, fmt.Errorf("op=redisstore.Load: %w", err)
	}
	states, err := state.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("op=redisstore.Load: %w", err)
	}
	return states, nil
}

// Save implements domain.StateStore.
func (s *Store) Save(ctx context.Context, states map[string]domain.KeyState) error {
	b, err := state.Marshal(states)
	if err != nil {
		return fmt.Errorf("op=redisstore.Save: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, b, 0).Err(); err != nil {
		return fmt.Errorf("op=redisstore.Save: %w", err)
	}
	return nil
}
