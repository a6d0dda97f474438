package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Driver    string
	Path      string
	Namespace string
	Redis     *redis.Client
	PGDSN     string
}

// Open builds the Store selected by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		return OpenFile(opts.Path)
	case "", DriverSQLite:
		if opts.Path == "" {
			return nil, errors.New("kv: sqlite path required")
		}
		return OpenSQLite(opts.Path)
	case DriverRedis:
		if opts.Redis == nil {
			return nil, errors.New("kv: redis client required")
		}
		return NewRedis(opts.Redis, opts.Namespace), nil
	case DriverPostgres:
		if opts.PGDSN == "" {
			return nil, errors.New("kv: postgres dsn required")
		}
		return OpenPostgres(ctx, opts.PGDSN, opts.Namespace)
	default:
		return nil, fmt.Errorf("kv: unknown driver %q", opts.Driver)
	}
}
