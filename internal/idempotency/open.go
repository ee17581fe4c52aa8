package idempotency

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
	BackendPebble = "pebble"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	Redis     RedisOptions
	MySQLDSN  string
	PebbleDir string
}

// Open creates the configured backend. An empty backend means memory.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		s, err := NewRedisStore(ctx, opts.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMySQL:
		s, err := NewMySQLStore(ctx, opts.MySQLDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPebble:
		s, err := NewPebbleStore(opts.PebbleDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", opts.Backend)
	}
}
