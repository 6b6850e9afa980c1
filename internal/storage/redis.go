package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgellow/agrosense/internal/crypto"
	"github.com/dgellow/agrosense/internal/log"
	"github.com/redis/go-redis/v9"
)

var _ Backend = (*RedisBackend)(nil)

// RedisBackend keeps the encrypted credential under one key per device.
// Shared kiosk devices use it so an operator can revoke a session by
// deleting the key.
type RedisBackend struct {
	rdb       *redis.Client
	key       string
	encryptor crypto.Encryptor
}

// NewRedisBackend connects to the server at redisURL
// (e.g. "redis://localhost:6379/0")
func NewRedisBackend(redisURL, deviceID string, encryptor crypto.Encryptor) (*RedisBackend, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if deviceID == "" {
		return nil, fmt.Errorf("deviceID is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	log.LogInfoWithFields("storage", "Using Redis storage", map[string]any{
		"addr": opts.Addr,
		"db":   opts.DB,
	})

	return &RedisBackend{
		rdb:       redis.NewClient(opts),
		key:       "agrosense:" + CredentialKey + ":" + deviceID,
		encryptor: encryptor,
	}, nil
}

func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) Get(ctx context.Context) (string, error) {
	sealed, err := r.rdb.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get credential from redis: %w", err)
	}

	value, err := r.encryptor.Decrypt(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return value, nil
}

func (r *RedisBackend) Put(ctx context.Context, value string) error {
	sealed, err := r.encryptor.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key, sealed, 0).Err(); err != nil {
		return fmt.Errorf("failed to store credential in redis: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to delete credential from redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisBackend) Close() error {
	return r.rdb.Close()
}
