package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/decompensation/pkg/common/config"
	"github.com/synaptica-ai/decompensation/pkg/common/logger"
)

const checkpointClientName = "decompensation-checkpoints"

var (
	redisClient *redis.Client
	redisErr    error
	redisOnce   sync.Once
)

// RedisOptions sizes the pool for the validation workers, each of which
// issues one lookup and one write per subject.
func RedisOptions(cfg *config.Config) *redis.Options {
	workers := cfg.ValidateWorkers
	if workers <= 0 {
		workers = 1
	}
	return &redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		ClientName:   checkpointClientName,
		PoolSize:     workers + 2,
		MinIdleConns: 1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// GetRedis connects the checkpoint store once per process. A failed ping is
// returned so callers can fall back to in-memory checkpoints.
func GetRedis(cfg *config.Config) (*redis.Client, error) {
	redisOnce.Do(func() {
		opts := RedisOptions(cfg)
		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			logger.Log.WithError(err).WithField("addr", opts.Addr).Error("Failed to connect to Redis")
			client.Close()
			redisErr = err
			return
		}
		redisClient = client
		logger.Log.WithFields(map[string]interface{}{
			"addr":      opts.Addr,
			"db":        opts.DB,
			"pool_size": opts.PoolSize,
		}).Info("Connected to Redis")
	})

	return redisClient, redisErr
}

func CloseRedis() error {
	if redisClient != nil {
		return redisClient.Close()
	}
	return nil
}
