// Package app assembles the pool from configuration: it picks the state
// store backend and the cooldown policy, keeping that wiring out of main
// functions and embedding services.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/keypool/internal/adapter/state/filestore"
	pgstore "github.com/fairyhunter13/keypool/internal/adapter/state/postgres"
	"github.com/fairyhunter13/keypool/internal/adapter/state/redisstore"
	"github.com/fairyhunter13/keypool/internal/config"
	"github.com/fairyhunter13/keypool/internal/domain"
	"github.com/fairyhunter13/keypool/internal/pool"
)

// BuildStateStore selects the persistence backend: Postgres when a URL is
// configured, then Redis, then the local state file. The returned closer
// releases backend connections and is safe to call for every backend.
func BuildStateStore(ctx context.Context, cfg config.Config) (domain.StateStore, func(), error) {
	switch {
	case cfg.PostgresURL != "":
		p, err := pgstore.NewPool(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("op=app.BuildStateStore: %w", err)
		}
		st := pgstore.New(p)
		if err := st.Migrate(ctx); err != nil {
			p.Close()
			return nil, nil, fmt.Errorf("op=app.BuildStateStore: %w", err)
		}
		return st, p.Close, nil
	case cfg.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return redisstore.New(rdb, cfg.ServiceName), func() { _ = rdb.Close() }, nil
	default:
		return filestore.New(cfg.StateFile), func() {}, nil
	}
}

// BuildPolicy maps the configured policy name onto a pool.Policy.
func BuildPolicy(cfg config.Config) (pool.Policy, error) {
	switch cfg.PoolPolicy {
	case config.PolicyExponential, "":
		return pool.ExponentialPolicy{Base: cfg.BackoffBase, Cap: cfg.BackoffCap}, nil
	case config.PolicyFixed:
		return pool.FixedPolicy{Penalty: cfg.FixedPenalty, Interval: cfg.MinInterval}, nil
	default:
		return nil, fmt.Errorf("op=app.BuildPolicy: unknown policy %q: %w", cfg.PoolPolicy, domain.ErrInvalidArgument)
	}
}

// BuildManager constructs a ready pool manager from configuration.
func BuildManager(ctx context.Context, cfg config.Config) (*pool.Manager, func(), error) {
	store, closeStore, err := BuildStateStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	policy, err := BuildPolicy(cfg)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	m, err := pool.New(ctx, cfg.APIKeys, store, pool.WithPolicy(policy))
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return m, closeStore, nil
}
