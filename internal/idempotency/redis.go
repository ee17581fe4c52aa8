package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "leadfeed:idem:"

// KEYS[1] record, KEYS[2] counter, ARGV[1] encoded record.
var putIfAbsentScript = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 1 then
	redis.call("INCR", KEYS[2])
	return 1
end
return 0
`)

// RedisStore keeps records as JSON strings written with SETNX, so the first
// writer for a key wins across every process sharing the server. The record
// and the counter are written by one script and commit together.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) recordKey(key string) string { return s.prefix + "rec:" + key }
func (s *RedisStore) countKey() string            { return s.prefix + "count" }

func (s *RedisStore) PutIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	data, err := encodeRecord(rec)
	if err != nil {
		return Record{}, false, err
	}

	inserted, err := putIfAbsentScript.Run(ctx, s.client, []string{s.recordKey(rec.Key), s.countKey()}, data).Int()
	if err != nil {
		return Record{}, false, fmt.Errorf("put %s: %w", rec.Key, err)
	}
	if inserted == 1 {
		return rec, true, nil
	}

	existing, err := s.Get(ctx, rec.Key)
	if err != nil {
		return Record{}, false, err
	}
	return existing, false, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", key, err)
	}
	return decodeRecord(data)
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.Get(ctx, s.countKey()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get count: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
