package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"dealerhub-realtime-svc/src/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Service is the thin ephemeral-store surface used by presence: TTL keys
// paired with set membership, written atomically.
type Service interface {
	Ping(ctx context.Context) error
	GetInt64(ctx context.Context, key string) (int64, bool, error)
	SetWithMember(ctx context.Context, key string, value int64, ttl time.Duration, setKey, member string) error
	DeleteWithMember(ctx context.Context, key, setKey, member string) error
	Members(ctx context.Context, setKey string) ([]string, error)
	RemoveMemberIfExpired(ctx context.Context, key, setKey, member string) (bool, error)
}

type cacheService struct {
	client *redis.Client
}

// removeIfExpired drops member from the set only when its key is gone, so a
// concurrent re-add from another instance is never undone.
var removeIfExpired = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return redis.call('SREM', KEYS[2], ARGV[1])
end
return 0
`)

func NewCacheService(client *redis.Client) Service {
	return &cacheService{client: client}
}

func (c *cacheService) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return models.ErrRedisConnection
	}
	return nil
}

func (c *cacheService) GetInt64(ctx context.Context, key string) (int64, bool, error) {
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil // Not an error, just not found
		}
		logrus.WithError(err).WithField("key", key).Error("Failed to get key from cache")
		return 0, false, models.ErrRedisGet
	}

	value, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Cached value is not an integer")
		return 0, false, models.ErrRedisDecode
	}
	return value, true, nil
}

func (c *cacheService) SetWithMember(ctx context.Context, key string, value int64, ttl time.Duration, setKey, member string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, ttl)
		pipe.SAdd(ctx, setKey, member)
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"key":     key,
			"set_key": setKey,
		}).Error("Failed to write key with set membership")
		return models.ErrRedisSet
	}
	return nil
}

func (c *cacheService) DeleteWithMember(ctx context.Context, key, setKey, member string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, setKey, member)
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"key":     key,
			"set_key": setKey,
		}).Error("Failed to delete key with set membership")
		return models.ErrRedisDelete
	}
	return nil
}

func (c *cacheService) Members(ctx context.Context, setKey string) ([]string, error) {
	members, err := c.client.SMembers(ctx, setKey).Result()
	if err != nil {
		logrus.WithError(err).WithField("set_key", setKey).Error("Failed to read set members")
		return nil, models.ErrRedisGet
	}
	return members, nil
}

func (c *cacheService) RemoveMemberIfExpired(ctx context.Context, key, setKey, member string) (bool, error) {
	removed, err := removeIfExpired.Run(ctx, c.client, []string{key, setKey}, member).Int64()
	if err != nil {
		logrus.WithError(err).WithField("set_key", setKey).Error("Failed to prune set member")
		return false, models.ErrRedisDelete
	}
	return removed > 0, nil
}
