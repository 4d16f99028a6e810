package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
)

type dialect struct {
	schema string
	get    string
	upsert string
	delete string
}

var dialects = map[string]dialect{
	DialectSQLite: {
		schema: `CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)`,
		get: `SELECT value FROM kv WHERE key = ?`,
		upsert: `INSERT INTO kv (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		delete: `DELETE FROM kv WHERE key = ?`,
	},
	DialectMySQL: {
		schema: "CREATE TABLE IF NOT EXISTS kv (" +
			"`key` VARCHAR(255) PRIMARY KEY, " +
			"value MEDIUMBLOB NOT NULL)",
		get: "SELECT value FROM kv WHERE `key` = ?",
		upsert: "INSERT INTO kv (`key`, value) VALUES (?, ?) " +
			"ON DUPLICATE KEY UPDATE value = VALUES(value)",
		delete: "DELETE FROM kv WHERE `key` = ?",
	},
}

// SQLStore keeps values in a single kv table.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

var _ Store = &SQLStore{}

func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %s", driver)
	}

	if dsn == "" {
		return nil, errors.New("sql dsn is empty")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DialectMySQL {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(10 * time.Minute)
	} else {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init %s schema: %w", driver, err)
	}

	return &SQLStore{db: db, dialect: d}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte

	err := s.db.QueryRowContext(ctx, s.dialect.get, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	return v, err
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.dialect.upsert, key, value)
	return err
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.delete, key)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
