// Package flagstore provides the persistent flag and key/value store the
// daemon uses for cross-restart UX state: whether the first-run greeting
// was shown, which engine variant a device settled on, when a session was
// last seen. This package is internal and should not be imported by
// external projects.
package flagstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mailmind/mailmind/internal/metrics"
)

// ErrNotFound reports a missing key.
var ErrNotFound = errors.New("flagstore: not found")

// Config is the redis connection configuration.
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// KeyPrefix namespaces every key so several daemons can share one
	// redis.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// DefaultTTL applies to values written without an explicit TTL.
	// Zero means no expiry.
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	MaxRetries   int `yaml:"max_retries" json:"max_retries"`
	PoolSize     int `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// DefaultConfig returns flag store defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		KeyPrefix:    "mailmind:",
		DefaultTTL:   0,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// Store is a redis-backed flag and KV store.
type Store struct {
	client  *redis.Client
	cfg     Config
	metrics *metrics.Collector // optional
	logger  *zap.Logger
}

// New connects to redis and verifies the connection.
func New(cfg Config, collector *metrics.Collector, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("flag store connected", zap.String("addr", cfg.Addr))

	return &Store{
		client:  client,
		cfg:     cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "flagstore")),
	}, nil
}

func (s *Store) key(name string) string {
	return s.cfg.KeyPrefix + name
}

// IsSet reports whether flag has been raised.
func (s *Store) IsSet(ctx context.Context, flag string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(flag)).Result()
	if err != nil {
		return false, fmt.Errorf("check flag %q: %w", flag, err)
	}
	if s.metrics != nil {
		if n > 0 {
			s.metrics.RecordFlagHit(flag)
		} else {
			s.metrics.RecordFlagMiss(flag)
		}
	}
	return n > 0, nil
}

// Set raises flag with the default TTL.
func (s *Store) Set(ctx context.Context, flag string) error {
	return s.SetValue(ctx, flag, "1", s.cfg.DefaultTTL)
}

// SetOnce raises flag and reports whether this call was the first to do
// so. Used to gate one-time UX like the first-run greeting.
func (s *Store) SetOnce(ctx context.Context, flag string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(flag), "1", s.cfg.DefaultTTL).Result()
	if err != nil {
		return false, fmt.Errorf("set flag %q: %w", flag, err)
	}
	return ok, nil
}

// Clear lowers flag (or removes a value).
func (s *Store) Clear(ctx context.Context, flag string) error {
	if err := s.client.Del(ctx, s.key(flag)).Err(); err != nil {
		return fmt.Errorf("clear flag %q: %w", flag, err)
	}
	return nil
}

// GetValue fetches a stored value, ErrNotFound when absent.
func (s *Store) GetValue(ctx context.Context, name string) (string, error) {
	val, err := s.client.Get(ctx, s.key(name)).Result()
	if err == redis.Nil {
		if s.metrics != nil {
			s.metrics.RecordFlagMiss(name)
		}
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %q: %w", name, err)
	}
	if s.metrics != nil {
		s.metrics.RecordFlagHit(name)
	}
	return val, nil
}

// SetValue stores a value. Zero ttl falls back to the default, and a
// negative ttl means no expiry.
func (s *Store) SetValue(ctx context.Context, name, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = s.cfg.DefaultTTL
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(name), value, ttl).Err(); err != nil {
		return fmt.Errorf("set %q: %w", name, err)
	}
	return nil
}

// IsNotFound reports whether err is a missing-key error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Ping verifies connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}
