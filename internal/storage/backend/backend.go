// Package backend opens the storage.KV named by configuration.
package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/config"
	natsclient "github.com/innovaquest/webchat/internal/nats"
	"github.com/innovaquest/webchat/internal/storage"
	"github.com/innovaquest/webchat/internal/storage/bolt"
	"github.com/innovaquest/webchat/internal/storage/sqlstore"
	"github.com/innovaquest/webchat/pkg/logger"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverNATS     = "nats"
)

// Open returns the configured store and a function releasing it.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (storage.KV, func(), error) {
	switch cfg.StorageDriver {
	case DriverMemory, "":
		return storage.NewMemory(), func() {}, nil

	case DriverBolt:
		if dir := filepath.Dir(cfg.BoltPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		store, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return store, closeWith(store, log), nil

	case DriverSQLite, DriverPostgres, DriverMySQL:
		if cfg.StorageDSN == "" {
			return nil, nil, fmt.Errorf("STORAGE_DSN is required for the %s driver", cfg.StorageDriver)
		}
		store, err := sqlstore.Open(ctx, cfg.StorageDriver, cfg.StorageDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, closeWith(store, log), nil

	case DriverNATS:
		client, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		store, err := natsclient.NewKVStore(ctx, client, cfg.NATSKVBucket)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func closeWith(c storage.Closer, log *logger.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn("failed to close storage", zap.Error(err))
		}
	}
}
