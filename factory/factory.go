// Package factory wires a ria.Config into ready-to-use domain contexts,
// domain services and their stores.
//
// Client usage:
//
//	cfg, err := ria.LoadConfig("ria.yaml")
//	registry, err := factory.NewTypeRegistry(cfg)
//	dc := factory.NewDomainContext(cfg, factory.NewDomainClient(cfg, registry))
//
// Server usage:
//
//	service, closeStore, err := factory.NewDomainService(ctx, cfg)
//	defer closeStore()
package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/ria"
	"github.com/lychee-technology/ria/internal"
	"github.com/lychee-technology/ria/internal/httpclient"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger from the logging section.
func NewLogger(cfg ria.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch cfg.Format {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// NewTypeRegistry loads the entity types in cfg.Entity.TypeDirectory.
func NewTypeRegistry(cfg *ria.Config) (ria.TypeRegistry, error) {
	if cfg.Entity.TypeDirectory == "" {
		return nil, fmt.Errorf("entity.typeDirectory is required")
	}
	registry, err := internal.NewFileTypeRegistry(cfg.Entity.TypeDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity types: %w", err)
	}
	return registry, nil
}

// NewDomainClient creates the HTTP transport to the service at
// cfg.Client.BaseURL.
func NewDomainClient(cfg *ria.Config, registry ria.TypeRegistry) ria.DomainClient {
	return httpclient.New(&cfg.Client, registry)
}

// NewDomainContext creates a client session over client. Change sets are
// checked with the schema validator before submit when
// cfg.Entity.ValidateOnSubmit is set.
func NewDomainContext(cfg *ria.Config, client ria.DomainClient) ria.DomainContext {
	return internal.NewDomainContext(client, internal.DomainContextOptions{
		Validator:        internal.NewSchemaValidator(),
		ValidateOnSubmit: cfg.Entity.ValidateOnSubmit,
		Timeout:          cfg.Operation.DefaultTimeout,
	})
}

// NewDomainService creates the server side: registry, store and validator.
// The returned func releases the store.
func NewDomainService(ctx context.Context, cfg *ria.Config) (*internal.DomainService, func(), error) {
	registry, err := NewTypeRegistry(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := NewEntityStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	zap.S().Infow("domain service ready",
		"types", registry.ListEntityTypes(),
		"storeDriver", cfg.Server.StoreDriver,
	)
	return internal.NewDomainService(registry, store, internal.NewSchemaValidator()), closeStore, nil
}

// NewEntityStore opens the store selected by cfg.Server.StoreDriver. The
// Postgres table is created when missing.
func NewEntityStore(ctx context.Context, cfg *ria.Config) (internal.EntityStore, func(), error) {
	switch cfg.Server.StoreDriver {
	case "", ria.StoreDriverMemory:
		return internal.NewMemoryStore(), func() {}, nil
	case ria.StoreDriverPostgres:
		pool, err := newDatabasePool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		store := internal.NewPostgresStore(pool, cfg.Database.TableName)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Server.StoreDriver)
	}
}

func newDatabasePool(ctx context.Context, cfg ria.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
