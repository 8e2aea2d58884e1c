package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"z-content-ai-api/pkg/logger"
)

var cacheTracer = otel.Tracer("redis.cache")

// Cache JSON 读穿缓存，供用量汇总等只读查询使用
type Cache struct {
	client *Client
	group  singleflight.Group
}

// NewCache 创建缓存服务
func NewCache(client *Client) *Cache {
	return &Cache{
		client: client,
	}
}

// GetOrLoad 命中时反序列化到 out；未命中时调用 loader 并回填。
// 同一 key 的并发未命中只执行一次 loader；Redis 故障时直接走 loader。
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, out any, loader func(ctx context.Context) (any, error)) error {
	ctx, span := cacheTracer.Start(ctx, "cache.GetOrLoad",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	val, err := c.client.rdb.Get(ctx, key).Bytes()
	if err == nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return json.Unmarshal(val, out)
	}
	if err != redis.Nil {
		span.RecordError(err)
		logger.Warn(ctx, "cache get failed, loading from source", "key", key, "error", err.Error())
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	// 使用 singleflight 合并并发请求
	result, err, shared := c.group.Do(key, func() (any, error) {
		data, err := loader(ctx)
		if err != nil {
			return nil, err
		}

		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}

		if err := c.client.rdb.Set(ctx, key, bytes, ttl).Err(); err != nil {
			// 缓存写入失败不影响返回结果
			logger.Warn(ctx, "cache set failed", "key", key, "error", err.Error())
		}
		return bytes, nil
	})
	span.SetAttributes(attribute.Bool("cache.shared", shared))
	if err != nil {
		span.RecordError(err)
		return err
	}

	return json.Unmarshal(result.([]byte), out)
}

// Delete 删除缓存
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Delete",
		trace.WithAttributes(attribute.Int("cache.key_count", len(keys))))
	defer span.End()

	return c.client.rdb.Del(ctx, keys...).Err()
}

// BuildCacheKey 构建缓存键
func BuildCacheKey(parts ...string) string {
	key := "cache"
	for _, p := range parts {
		key += ":" + p
	}
	return key
}
