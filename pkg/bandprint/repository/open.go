package repository

import (
	"context"
	"fmt"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
)

// Config selects and configures a backing store.
type Config struct {
	Driver string

	// Path is the SQLite file or the badger directory.
	Path string
	// DSN is the PostgreSQL connection string.
	DSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI      string
	MongoDatabase string

	MaxRetries int
	Logger     Logger
}

// Open returns the repository named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	var (
		repo Repository
		err  error
	)
	switch cfg.Driver {
	case DriverMemory:
		repo = NewMemory(MemoryOptions{})
	case "", DriverBadger:
		repo, err = asRepository(NewBadger(BadgerOptions{Dir: cfg.Path, MaxRetries: cfg.MaxRetries, Logger: cfg.Logger}))
	case DriverSQLite:
		repo, err = asRepository(OpenSQLite(cfg.Path, SQLOptions{}))
	case DriverPostgres:
		repo, err = asRepository(OpenPostgres(cfg.DSN, SQLOptions{MaxOpenConns: 25}))
	case DriverRedis:
		repo, err = asRepository(NewRedis(ctx, RedisOptions{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			MaxRetries: cfg.MaxRetries,
		}))
	case DriverMongo:
		repo, err = asRepository(NewMongo(ctx, MongoOptions{URI: cfg.MongoURI, Database: cfg.MongoDatabase}))
	default:
		err = fmt.Errorf("repository: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// asRepository keeps a failed constructor's typed nil out of the interface.
func asRepository[R Repository](r R, err error) (Repository, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}
