package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"trackmeta/internal/logger"
	"trackmeta/internal/metadata"
)

const redisKeyPrefix = "trackmeta:lookup:"

// RedisOptions configures a Redis cache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis shares lookup results between processes. NotFound is stored as the
// JSON literal null.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions, log *logger.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	log = log.Named("cache")
	log.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)
	return &Redis{client: client, ttl: ttl, logger: log}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (*metadata.Candidate, bool) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		r.logger.Warn("Redis get failed", "key", key, "error", err.Error())
		return nil, false
	}

	var c *metadata.Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		r.logger.Warn("Discarding unreadable cache entry", "key", key, "error", err.Error())
		return nil, false
	}
	return c, true
}

func (r *Redis) Set(ctx context.Context, key string, c *metadata.Candidate) {
	data, err := json.Marshal(c)
	if err != nil {
		r.logger.Error("Failed to encode cache entry", err, "key", key)
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, data, r.ttl).Err(); err != nil {
		r.logger.Warn("Redis set failed", "key", key, "error", err.Error())
	}
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
