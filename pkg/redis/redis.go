package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/verdantleaf/pos-catalog-sync/config"
)

// New connects a go-redis client from a redis:// URL and pings it once so a
// misconfigured cache fails at startup, not mid-sync.
func New(cfg *config.Redis) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.DialTimeout = time.Duration(cfg.DialTimeout) * time.Second
	opts.ReadTimeout = time.Duration(cfg.ReadTimeout) * time.Second
	opts.WriteTimeout = time.Duration(cfg.WriteTimeout) * time.Second

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return client, nil
}
