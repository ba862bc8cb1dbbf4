package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prompt-general/askslide/pkg/models"
)

// Config holds the cache connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisCache is a JSON value cache in front of the embedding model, keyed by
// query fingerprint so repeated searches skip a round trip to the model
// server.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache backed by Redis
func NewRedisCache(cfg Config) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "askslide"
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (rc *RedisCache) key(key string) string {
	return rc.prefix + ":" + key
}

// Get unmarshals the cached value under key into target. The second return
// is false on a miss.
func (rc *RedisCache) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, rc.key(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, models.NewDependencyError("cache", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value under key with the cache TTL
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := rc.client.Set(ctx, rc.key(key), data, rc.ttl).Err(); err != nil {
		return models.NewDependencyError("cache", err)
	}
	return nil
}

// Delete drops the cached value under key
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	if err := rc.client.Del(ctx, rc.key(key)).Err(); err != nil {
		return models.NewDependencyError("cache", err)
	}
	return nil
}

// Close releases the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
