package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plutolabs/pluto-backend/internal/platform/envutil"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
)

// newRedisClient connects to redis for background ingestion task tracking.
// An unreachable redis is not fatal; callers fall back to synchronous
// ingestion only.
func newRedisClient(log *logger.Logger) (*redis.Client, error) {
	addr := envutil.String("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("redis connected", "addr", addr)
	return rdb, nil
}
