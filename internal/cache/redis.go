// Package cache はブリーフレスポンスのサーバー側キャッシュを提供する。
// 値はJSONとしてRedisに保存し、TTLで失効させる。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix はキャッシュキーの接頭辞。
const keyPrefix = "newsbrief:"

// RedisCache はRedisを使用したJSONキャッシュ。
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache はRedisの接続URL（例: "redis://localhost:6379/0"）からRedisCacheを生成する。
// 接続は最初のコマンド実行時に確立される。
func NewRedisCache(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// NewRedisCacheWithClient は既存のクライアントからRedisCacheを生成する。
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Ping はRedisへの疎通を確認する。
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close はRedis接続を閉じる。
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetJSON はkeyの値をdestにデコードする。キーが存在しない場合はfalseを返す。
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get cache entry %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return true, nil
}

// SetJSON はvalueをJSONにしてttl付きで保存する。
func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry %s: %w", key, err)
	}
	return nil
}

// Delete はkeyを削除する。存在しない場合もエラーにしない。
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}
