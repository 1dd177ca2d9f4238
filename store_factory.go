package luckydraw

import (
	"context"
	"fmt"
)

// OpenStore builds the Store selected by cfg.Storage.Driver. The returned
// closer releases the underlying connection.
func OpenStore(ctx context.Context, cfg *Config, logger Logger) (Store, func() error, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = NewSilentLogger()
	}

	driver := StorageDriverMemory
	if cfg.Storage != nil && cfg.Storage.Driver != "" {
		driver = cfg.Storage.Driver
	}

	switch driver {
	case StorageDriverMemory:
		logger.Info("Using in-memory store")
		return NewMemoryStoreWithTimeout(cfg.Engine.LockWaitTimeout), func() error { return nil }, nil

	case StorageDriverRedis:
		client := NewRedisClientFromConfig(cfg.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, ErrStoreUnavailable.WithOperation("OpenStore").WithCause(err)
		}
		logger.Info("Using redis store at %s", client.Options().Addr)
		return NewRedisStoreWithConfig(client, logger, cfg.Engine), client.Close, nil

	case StorageDriverSQLite:
		store, err := NewSQLiteStore(cfg.Storage.SQLiteDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		store.SetLockWaitTimeout(cfg.Engine.LockWaitTimeout)
		logger.Info("Using sqlite store")
		return store, store.Close, nil
	}

	return nil, nil, ErrConfigInvalid.WithDetails(fmt.Sprintf("unknown storage driver %q", driver))
}
