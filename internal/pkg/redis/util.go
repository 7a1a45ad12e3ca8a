package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// HSet 批量写入哈希字段
func HSet(ctx context.Context, rdb redis.Cmdable, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return rdb.HSet(ctx, key, values).Err()
}

// HGetAll 获取哈希全部字段，不存在时返回空 map
func HGetAll(ctx context.Context, rdb redis.Cmdable, key string) (map[string]string, error) {
	value, err := rdb.HGetAll(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return value, nil
}

// HDel 删除哈希字段
func HDel(ctx context.Context, rdb redis.Cmdable, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return rdb.HDel(ctx, key, fields...).Err()
}
