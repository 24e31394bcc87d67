// Package sqlstore stores conversations in a SQL table (sqlite, postgres or mysql).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/innovaquest/webchat/internal/storage"
)

type dialect struct {
	driver string
	create string
	get    string
	upsert string
}

var dialects = map[string]dialect{
	"sqlite": {
		driver: "sqlite",
		create: `CREATE TABLE IF NOT EXISTS widget_storage (
			storage_key TEXT    PRIMARY KEY,
			payload     TEXT    NOT NULL,
			updated_ts  INTEGER NOT NULL
		)`,
		get: `SELECT payload FROM widget_storage WHERE storage_key = ?`,
		upsert: `INSERT INTO widget_storage (storage_key, payload, updated_ts) VALUES (?, ?, ?)
			ON CONFLICT(storage_key) DO UPDATE SET payload = excluded.payload, updated_ts = excluded.updated_ts`,
	},
	"postgres": {
		driver: "postgres",
		create: `CREATE TABLE IF NOT EXISTS widget_storage (
			storage_key TEXT   PRIMARY KEY,
			payload     TEXT   NOT NULL,
			updated_ts  BIGINT NOT NULL
		)`,
		get: `SELECT payload FROM widget_storage WHERE storage_key = $1`,
		upsert: `INSERT INTO widget_storage (storage_key, payload, updated_ts) VALUES ($1, $2, $3)
			ON CONFLICT (storage_key) DO UPDATE SET payload = EXCLUDED.payload, updated_ts = EXCLUDED.updated_ts`,
	},
	"mysql": {
		driver: "mysql",
		create: `CREATE TABLE IF NOT EXISTS widget_storage (
			storage_key VARCHAR(255) NOT NULL PRIMARY KEY,
			payload     LONGTEXT     NOT NULL,
			updated_ts  BIGINT       NOT NULL
		)`,
		get: `SELECT payload FROM widget_storage WHERE storage_key = ?`,
		upsert: `INSERT INTO widget_storage (storage_key, payload, updated_ts) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_ts = VALUES(updated_ts)`,
	},
}

// Store is a storage.KV backed by the widget_storage table.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects with the named dialect ("sqlite", "postgres" or "mysql"),
// pings the database and ensures the table exists.
func Open(ctx context.Context, name, dsn string) (*Store, error) {
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("unsupported sql dialect %q", name)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if d.driver == "sqlite" {
		// one writer at a time; also keeps ":memory:" on a single connection
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, dialect: d}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if _, err := db.ExecContext(ctx, d.create); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create widget_storage table: %w", err)
	}
	return s, nil
}

// Get returns the payload stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.dialect.get, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// Put upserts the payload stored under key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.dialect.upsert, key, string(value), time.Now().Unix())
	return err
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
