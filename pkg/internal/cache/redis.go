package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// R is nil when no redis address is configured.
var R *redis.Client

func NewCache() error {
	addr := viper.GetString("cache.redis_addr")
	if len(addr) == 0 {
		return nil
	}

	R = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: viper.GetString("cache.redis_password"),
		DB:       viper.GetInt("cache.redis_db"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := R.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	newStore()
	return nil
}

func Close() error {
	if R != nil {
		return R.Close()
	}
	return nil
}

// S is the typed cache store backed by R.
var S store.StoreInterface

func newStore() {
	S = redisstore.NewRedis(R)
}
