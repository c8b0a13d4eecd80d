package redis

import (
	"context"
	"time"

	v9 "github.com/redis/go-redis/v9"
)

// Client defines the interface for a Redis client.
//
//go:generate mockgen -source interface.go -destination=mock/interface_mock.go -package=redis_mock
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Ping(ctx context.Context) error
	Reconnect(ctx context.Context) bool

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error

	ZRangeByScore(ctx context.Context, key string, min, max string) ([]string, error)
	ZRevRangeByScoreFirstN(ctx context.Context, key string, n int64) ([]string, error)

	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)

	PSubscribe(ctx context.Context, patterns ...string) (*v9.PubSub, error)
	Publish(ctx context.Context, channel string, message any) (int64, error)
}
