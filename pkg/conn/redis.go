package conn

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	defaultRedisHost        = "localhost"
	defaultRedisPort        = 6379
	defaultRedisPingTimeout = 3 * time.Second
)

// RedisOption defines connection options for Redis.
type RedisOption struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedis creates a Redis client and verifies the connection with a
// ping.
func NewRedis(ctx context.Context, option RedisOption) (*redis.Client, error) {
	host := option.Host
	if host == "" {
		host = defaultRedisHost
	}
	port := option.Port
	if port == 0 {
		port = defaultRedisPort
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: option.Password,
		DB:       option.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultRedisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
