package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OpenRedis parses url, connects and pings. An empty url returns (nil, nil):
// callers fall back to in-process stores.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse: %w", err)
	}
	cli := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return cli, nil
}

func MustRedis(url string, log *zap.SugaredLogger) *redis.Client {
	cli, err := OpenRedis(context.Background(), url)
	if err != nil {
		log.Fatalw("redis", "err", err)
	}
	if cli != nil {
		log.Infow("redis ready", "addr", cli.Options().Addr)
	}
	return cli
}
