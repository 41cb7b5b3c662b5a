package nullifiers

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vocdoni/anonsignal/crypto"
	"github.com/vocdoni/anonsignal/types"
)

// DefaultRedisPrefix namespaces the nullifier keys.
const DefaultRedisPrefix = "anonsignal:nullifier:"

// RedisOptions configures a RedisRegistry.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisRegistry keeps the consumed nullifiers in Redis, so several relay
// instances can share them. SETNX provides the insert-if-absent atomicity.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

// NewRedisRegistry connects to Redis and checks the connection.
func NewRedisRegistry(ctx context.Context, opts RedisOptions) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisRegistry{client: client, prefix: prefix}, nil
}

// Consume implements Registry.
func (r *RedisRegistry) Consume(ctx context.Context, nullifierHash *big.Int) error {
	key, err := r.key(nullifierHash)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, key, time.Now().Unix(), 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrNullifierAlreadyUsed, nullifierHash.String())
	}
	return nil
}

// Used implements Registry.
func (r *RedisRegistry) Used(ctx context.Context, nullifierHash *big.Int) (bool, error) {
	key, err := r.key(nullifierHash)
	if err != nil {
		return false, err
	}
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis client.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func (r *RedisRegistry) key(nullifierHash *big.Int) (string, error) {
	if nullifierHash == nil || nullifierHash.Sign() < 0 || nullifierHash.Cmp(crypto.FieldModulus) >= 0 {
		return "", fmt.Errorf("invalid nullifier hash %v", nullifierHash)
	}
	b := make([]byte, 32)
	nullifierHash.FillBytes(b)
	return r.prefix + hex.EncodeToString(b), nil
}
