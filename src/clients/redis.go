package clients

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dealerhub-realtime-svc/src/internal/config"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

// RedisClient holds the process-wide connection to the shared ephemeral store.
type RedisClient struct {
	Client *redis.Client
}

func redisOptions(cfg *config.Redis) (*redis.Options, error) {
	if strings.HasPrefix(cfg.Url, "redis://") || strings.HasPrefix(cfg.Url, "rediss://") {
		opts, err := redis.ParseURL(cfg.Url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if cfg.Password != "" {
			opts.Password = cfg.Password
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:        cfg.Url,
		Password:    cfg.Password,
		DB:          cfg.Db,
		DialTimeout: 5 * time.Second,
	}, nil
}

// NewRedisClient connects to redis, retrying the initial ping with
// exponential backoff until ConnectRetries is exhausted.
func NewRedisClient(ctx context.Context, cfg *config.Redis) (*RedisClient, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}

	log.WithField("addr", opts.Addr).Info("Connecting to Redis...")
	client := redis.NewClient(opts)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = time.Duration(cfg.MaxBackoff) * time.Second

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return struct{}{}, client.Ping(pingCtx).Err()
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(cfg.ConnectRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.WithError(err).WithField("retry_in", next.String()).Warn("Redis not reachable, retrying")
		}),
	)
	if err != nil {
		_ = client.Close()
		log.WithError(err).Error("Failed to connect to Redis")
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Infof("Connected to Redis at %s", opts.Addr)
	return &RedisClient{Client: client}, nil
}

func (r *RedisClient) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	if err := r.Client.Close(); err != nil {
		log.WithError(err).Error("Failed to close Redis connection")
		return err
	}
	log.Info("Redis connection closed")
	return nil
}
