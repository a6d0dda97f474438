package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis stores entries as plain string keys under a namespace prefix. Two
// processes pointed at the same server and namespace share one working copy.
type Redis struct {
	client    *redis.Client
	namespace string
}

// NewRedis wraps an existing client. The caller keeps ownership of client.
func NewRedis(client *redis.Client, namespace string) *Redis {
	if namespace == "" {
		namespace = "shopledger"
	}
	return &Redis{client: client, namespace: namespace}
}

func (r *Redis) redisKey(key string) string {
	return r.namespace + ":kv:" + key
}

// Get loads the value for key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	value, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: redis get %s: %w", key, err)
	}
	return value, nil
}

// Put stores the value for key without expiry.
func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("kv: redis set %s: %w", key, err)
	}
	return nil
}

// PutMany writes every entry in a MULTI/EXEC pipeline.
func (r *Redis) PutMany(ctx context.Context, entries map[string][]byte) error {
	for key := range entries {
		if err := checkKey(key); err != nil {
			return err
		}
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range entries {
			pipe.Set(ctx, r.redisKey(key), value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv: redis multi set: %w", err)
	}
	return nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("kv: redis del %s: %w", key, err)
	}
	return nil
}

// Close does not close the shared client.
func (r *Redis) Close() error { return nil }
