package store

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	redis "github.com/redis/go-redis/v9"
)

// RedisBackend stores the latest content of each document in one string key.
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "piecetable"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Source(docID string) Source { return b.doc(docID) }

func (b *RedisBackend) Target(docID string) Target { return b.doc(docID) }

func (b *RedisBackend) doc(docID string) *redisDoc {
	return &redisDoc{rdb: b.rdb, key: contentKey(b.prefix, docID)}
}

type redisDoc struct {
	rdb redis.UniversalClient
	key string
}

func (d *redisDoc) Handle() string { return "redis:" + d.key }

func (d *redisDoc) Load(ctx context.Context) (string, error) {
	n, err := d.rdb.Exists(ctx, d.key).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMetadata, d.key, err)
	}
	if n == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, d.key)
	}
	content, err := d.rdb.Get(ctx, d.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// 两次调用之间被删除
			return "", fmt.Errorf("%w: %s", ErrNotFound, d.key)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrUnreadable, d.key, err)
	}
	return content, nil
}

func (d *redisDoc) Write(ctx context.Context, content string) (int, error) {
	if err := d.rdb.Set(ctx, d.key, content, 0).Err(); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrWriteFailed, d.key, err)
	}
	return utf8.RuneCountInString(content), nil
}
