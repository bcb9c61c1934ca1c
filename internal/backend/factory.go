package backend

import (
	"context"
	"fmt"

	"spendwatch/internal/log"
	"spendwatch/internal/store/memory"
	"spendwatch/internal/store/postgres"
	"spendwatch/internal/store/sqlite"
)

// DefaultFactory implements the Factory interface.
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend opens the configured store and checks it answers a ping
// before handing it out. A store that fails the ping is closed.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	res, err := f.open(ctx, config)
	if err != nil {
		return nil, err
	}

	timeout := config.PingTimeout
	if timeout == 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := res.Store.Ping(pingCtx); err != nil {
		if cerr := res.Cleanup(); cerr != nil {
			f.logger.Warn("Failed to close unreachable store", log.FieldBackend, config.Type.String(), log.FieldError, cerr)
		}
		return nil, fmt.Errorf("%s store unreachable: %w", config.Type, err)
	}
	return res, nil
}

func (f *DefaultFactory) open(ctx context.Context, config Config) (*BackendResult, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := sqlite.NewRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return &BackendResult{Store: repo, Cleanup: repo.Close}, nil

	case PostgresBackend:
		pg, err := postgres.New(ctx, config.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres store: %w", err)
		}
		f.logger.Info("Initialized Postgres backend")
		return &BackendResult{Store: pg, Cleanup: pg.Close}, nil

	case MemoryBackend:
		f.logger.Warn("Using in-memory backend, data is lost on restart")
		s := memory.New()
		return &BackendResult{Store: s, Cleanup: s.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
