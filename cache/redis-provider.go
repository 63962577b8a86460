package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "offline-worker:"

// RedisProvider keeps the cache names in a sorted set (scored by creation time)
// and every cache in its own hash.
type RedisProvider struct {
	client *redis.Client
	prefix string
}

// NewRedisProvider connects to the redis server at the given URL,
// e.g. redis://localhost:6379/0.
func NewRedisProvider(redisURL string) (*RedisProvider, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisProviderWithClient(client), nil
}

func NewRedisProviderWithClient(client *redis.Client) *RedisProvider {
	return &RedisProvider{
		client: client,
		prefix: redisKeyPrefix,
	}
}

func (r *RedisProvider) Close() error {
	return r.client.Close()
}

func (r *RedisProvider) namesKey() string {
	return r.prefix + "caches"
}

func (r *RedisProvider) cacheKey(name string) string {
	return r.prefix + "cache:" + name
}

func (r *RedisProvider) Create(ctx context.Context, name string) error {
	return r.client.ZAddNX(ctx, r.namesKey(), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: name,
	}).Err()
}

func (r *RedisProvider) Names(ctx context.Context) ([]string, error) {
	return r.client.ZRange(ctx, r.namesKey(), 0, -1).Result()
}

func (r *RedisProvider) Drop(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, r.namesKey(), name)
		pipe.Del(ctx, r.cacheKey(name))
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

func (r *RedisProvider) Get(ctx context.Context, name, key string) ([]byte, bool, error) {
	bytes, err := r.client.HGet(ctx, r.cacheKey(name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (r *RedisProvider) Put(ctx context.Context, name, key string, bytes []byte) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, r.namesKey(), redis.Z{
			Score:  float64(time.Now().UnixNano()),
			Member: name,
		})
		pipe.HSet(ctx, r.cacheKey(name), key, bytes)
		return nil
	})
	return err
}

func (r *RedisProvider) Keys(ctx context.Context, name string) ([]string, error) {
	return r.client.HKeys(ctx, r.cacheKey(name)).Result()
}

func (r *RedisProvider) Purge(ctx context.Context, name, key string) error {
	return r.client.HDel(ctx, r.cacheKey(name), key).Err()
}
