package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix = "idempotency:"
	// Redis round-trips must not stall API responses.
	opTimeout = 2 * time.Second
)

// Redis is a Cache shared across replicas, so a retry landing on a
// different instance still replays the original response.
type Redis struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedis(addr, password string, log *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Redis{client: client, log: log}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (Response, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return Response{}, false
	}
	if err != nil {
		r.log.Warn("idempotency cache read failed", zap.Error(err))
		return Response{}, false
	}

	var resp Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		r.log.Warn("idempotency cache entry corrupt", zap.Error(err))
		return Response{}, false
	}
	return resp, true
}

func (r *Redis) Set(ctx context.Context, key string, resp Response) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(resp)
	if err != nil {
		r.log.Warn("idempotency cache encode failed", zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		r.log.Warn("idempotency cache write failed", zap.Error(err))
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
