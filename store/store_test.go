package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "eip155:1:jsonrpc:pending")
	assert.Equal(t, ErrNotFound, err)

	require.NoError(t, s.Set(ctx, "eip155:1:jsonrpc:pending", []byte(`[]`)))
	require.NoError(t, s.Set(ctx, "eip155:1:jsonrpc:pending", []byte(`[{"id":1}]`)))

	v, err := s.Get(ctx, "eip155:1:jsonrpc:pending")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":1}]`, string(v))

	require.NoError(t, s.Delete(ctx, "eip155:1:jsonrpc:pending"))
	require.NoError(t, s.Delete(ctx, "eip155:1:jsonrpc:pending"))

	_, err = s.Get(ctx, "eip155:1:jsonrpc:pending")
	assert.Equal(t, ErrNotFound, err)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLStore(context.Background(), DialectSQLite, filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	defer s.Close()

	testStore(t, s)
}

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set")
	}

	s, err := NewSQLStore(context.Background(), DialectMySQL, dsn)
	require.NoError(t, err)
	defer s.Close()

	testStore(t, s)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	s, err := NewRedisStore(context.Background(), RedisConfig{Address: addr})
	require.NoError(t, err)
	defer s.Close()

	testStore(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(ctx, Config{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Config{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "gateway.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	_ = s.(*SQLStore).Close()

	_, err = Open(ctx, Config{Type: "etcd"})
	assert.True(t, errors.Is(err, jsonrpc.ErrConfig))
}
