package store

import (
	"context"
	"errors"
	"strings"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
)

var ErrNotFound = errors.New("key not found")

// Store is a key value persistence backend. All operations are idempotent.
// Get returns ErrNotFound for an absent key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type Config struct {
	// Type is one of memory, redis, sqlite and mysql. Empty means no storage.
	Type string `json:"type" yaml:"type" toml:"type"`

	// DSN is the sqlite file path or the mysql data source name.
	DSN string `json:"dsn" yaml:"dsn" toml:"dsn"`

	RedisAddr     string `json:"redisAddr" yaml:"redisAddr" toml:"redisAddr"`
	RedisPassword string `json:"redisPassword" yaml:"redisPassword" toml:"redisPassword"`
	RedisDB       int    `json:"redisDB" yaml:"redisDB" toml:"redisDB"`
}

// Open builds the store described by cfg. It returns nil, nil when no storage
// is configured.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "":
		return nil, nil
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		s, err := NewRedisStore(ctx, RedisConfig{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case DialectSQLite, DialectMySQL:
		s, err := NewSQLStore(ctx, strings.ToLower(cfg.Type), cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	return nil, jsonrpc.ConfigErrorf("unknown storage type %s", cfg.Type)
}
