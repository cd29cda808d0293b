package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/constructa/erp/backend/internal/config"
	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

// Connect returns local as is, or wrapped in a Broadcast when cfg.Cache
// enables it. The redis client is nil unless broadcasting; the caller closes
// it after the cache. On error local has already been closed.
func Connect(ctx context.Context, cfg *config.Config, local Cache) (Cache, *redis.Client, error) {
	if !cfg.Cache.Broadcast {
		return local, nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = local.Close()
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return NewBroadcast(local, rdb, cfg.Cache.Channel), rdb, nil
}
