package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"loyaltykit/core"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" yaml:"addr" env:"LOYALTYKIT_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" yaml:"password" env:"LOYALTYKIT_REDIS_PASSWORD"`
	DB           int           `json:"db" yaml:"db" env:"LOYALTYKIT_REDIS_DB"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size" env:"LOYALTYKIT_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	// KeyPrefix namespaces every key this store writes.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"LOYALTYKIT_REDIS_KEY_PREFIX"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "loyalty",
	}
}

// Store keeps one JSON document per user at {prefix}:user:{id}. Updates use
// WATCH/MULTI so a concurrent writer aborts the transaction instead of being
// overwritten; the aborted attempt surfaces as Transient for the caller to retry.
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, core.Wrap(core.KindTransient, "redis connect", fmt.Errorf("failed to connect to Redis: %w", err))
	}

	return &Store{client: client, prefix: prefixOrDefault(config.KeyPrefix)}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, prefix: prefixOrDefault("")}
}

func prefixOrDefault(p string) string {
	if p == "" {
		return "loyalty"
	}
	return p
}

// Client exposes the underlying client so the perk catalog can share it.
func (s *Store) Client() *redis.Client { return s.client }

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) userKey(userID core.UserID) string {
	return fmt.Sprintf("%s:user:%s", s.prefix, userID)
}

// Create stores a new vector. An existing key is a Conflict.
func (s *Store) Create(ctx context.Context, v core.AttributeVector) error {
	if err := v.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return core.Wrap(core.KindInvalidInput, "create vector", err)
	}
	ok, err := s.client.SetNX(ctx, s.userKey(v.UserID), data, 0).Result()
	if err != nil {
		return classify("create vector", err)
	}
	if !ok {
		return core.E(core.KindConflict, "create vector", "user %q already registered", v.UserID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID core.UserID) (core.AttributeVector, error) {
	return s.read(ctx, s.client, userID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) read(ctx context.Context, c getter, userID core.UserID) (core.AttributeVector, error) {
	data, err := c.Get(ctx, s.userKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.AttributeVector{}, core.E(core.KindNotFound, "get vector", "user %q not found", userID)
	}
	if err != nil {
		return core.AttributeVector{}, classify("get vector", err)
	}
	var v core.AttributeVector
	if err := json.Unmarshal(data, &v); err != nil {
		return core.AttributeVector{}, core.Wrap(core.KindConfiguration, "decode vector", err)
	}
	return v, nil
}

// AtomicUpdate reads, applies fn and writes back under WATCH. A write by anyone
// else between the read and EXEC fails the attempt with a Transient error.
func (s *Store) AtomicUpdate(ctx context.Context, userID core.UserID, fn core.UpdateFunc) (core.AttributeVector, error) {
	key := s.userKey(userID)
	var next core.AttributeVector
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.read(ctx, tx, userID)
		if err != nil {
			return err
		}
		next, err = fn(current)
		if err != nil {
			return err
		}
		next.UserID = userID
		if err := next.Validate(); err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return core.Wrap(core.KindInvalidInput, "encode vector", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return core.AttributeVector{}, classify("atomic update", err)
	}
	return next, nil
}

// classify leaves tagged errors alone and maps Redis failures to Transient.
func classify(op string, err error) error {
	var tagged *core.Error
	if errors.As(err, &tagged) {
		return err
	}
	if errors.Is(err, redis.TxFailedErr) {
		return core.E(core.KindTransient, op, "concurrent modification")
	}
	return core.Wrap(core.KindTransient, op, err)
}
