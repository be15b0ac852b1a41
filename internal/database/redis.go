package database

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/ruralpay/ledger/internal/config"
)

// InitRedis returns nil when Redis is unreachable; callers treat a nil
// client as "feature disabled".
func InitRedis(ctx context.Context, cfg config.RedisConfig, log logrus.FieldLogger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis connection failed, continuing without Redis")
		_ = rdb.Close()
		return nil
	}

	log.Info("Redis connection established")
	return rdb
}
