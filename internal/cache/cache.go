package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Additional-Code/pharmadesk/internal/config"
)

// Store is a byte cache with per-entry expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ErrCacheMiss indicates the key is absent from the cache.
var ErrCacheMiss = errors.New("cache miss")

// Module provides the cache store to the Fx graph.
var Module = fx.Provide(NewStore)

// NewStore opens the configured store. Redis keys are prefixed with
// cfg.Cache.KeyPrefix so several deployments can share one instance.
func NewStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Cache.Driver {
	case "noop":
		logger.Info("cache disabled; tracking lookups go straight to the tracker")
		return noopStore{}, nil
	case "redis":
		return newRedisStore(lc, cfg.Cache, logger), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
}

type noopStore struct{}

func (noopStore) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (noopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (noopStore) Delete(context.Context, string) error { return nil }

type redisStore struct {
	client     *goredis.Client
	prefix     string
	defaultTTL time.Duration
}

// NewRedis wraps an existing client. Keys are stored as prefix+key and
// entries written without a TTL expire after defaultTTL.
func NewRedis(client *goredis.Client, prefix string, defaultTTL time.Duration) Store {
	return &redisStore{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

func newRedisStore(lc fx.Lifecycle, cfg config.Cache, logger *zap.Logger) Store {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("ping redis: %w", err)
			}
			logger.Info("redis cache connected", zap.String("addr", cfg.Redis.Addr), zap.String("prefix", cfg.KeyPrefix))
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return NewRedis(client, cfg.KeyPrefix, cfg.DefaultTTL)
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrCacheMiss
	}
	res, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrCacheMiss
	}
	return res, err
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("cache key is required")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+key).Err()
}

// ReadThrough loads missing entries on demand. Concurrent misses for one key
// share a single load, and a failing store degrades to loading every time.
type ReadThrough struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
	group  singleflight.Group
}

// NewReadThrough fronts store; a nil store means every read loads.
func NewReadThrough(store Store, ttl time.Duration, logger *zap.Logger) *ReadThrough {
	if store == nil {
		store = noopStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadThrough{store: store, ttl: ttl, logger: logger}
}

// Get returns the value for key and whether it was served from the store.
// Load errors are returned as is and nothing is cached for them.
func (r *ReadThrough) Get(ctx context.Context, key string, load func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	cached, err := r.store.Get(ctx, key)
	if err == nil {
		return cached, true, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		r.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := r.store.Set(ctx, key, value, r.ttl); err != nil {
			r.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		return value, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}
