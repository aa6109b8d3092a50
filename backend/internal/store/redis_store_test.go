package store

import (
	"context"
	"errors"
	"testing"

	redis "github.com/redis/go-redis/v9"
)

func TestRedisBackend_WriteThenLoad(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	ctx := context.Background()
	b := NewRedisBackend(rdb, "piecetable-test")
	defer rdb.Del(ctx, contentKey("piecetable-test", "doc1"), contentKey("piecetable-test", "missing"))

	if _, err := b.Source("missing").Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}

	n, err := b.Target("doc1").Write(ctx, "Hola, Matías")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 12 {
		t.Fatalf("Write() = %d, want 12", n)
	}
	got, err := b.Source("doc1").Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != "Hola, Matías" {
		t.Fatalf("Load() = %q, want %q", got, "Hola, Matías")
	}
}

func TestContentKey(t *testing.T) {
	if got, want := contentKey("pt", "a1"), "pt:doc:{docID:a1}:content"; got != want {
		t.Fatalf("contentKey() = %q, want %q", got, want)
	}
}
