package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// NewRedis creates a new Redis client for the daily stat store.
// Returns nil if redisURL is empty (daily stats fall back to memory)
func NewRedis(redisURL string, poolSize int) (*redis.Client, error) {
	if redisURL == "" {
		log.Warn().Msg("Redis URL not configured, daily stats kept in memory")
		return nil, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	applyPoolSize(opt, poolSize)
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}

	log.Info().Msg("Connected to Redis")
	return client, nil
}

// applyPoolSize keeps one idle connection per flusher and enforcer tick
func applyPoolSize(opt *redis.Options, poolSize int) {
	if poolSize < 2 {
		poolSize = 2
	}
	opt.PoolSize = poolSize
	opt.MinIdleConns = 2
}

// CloseRedis closes the Redis connection
func CloseRedis(client *redis.Client) {
	if client != nil {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing Redis connection")
		} else {
			log.Info().Msg("Redis connection closed")
		}
	}
}
