package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

var pebbleKeyPrefix = []byte("idem/")

// PebbleStore keeps records in an embedded Pebble database so they survive
// restarts of a single node. Writes are serialized by mu; Pebble has no
// conditional put.
type PebbleStore struct {
	mu sync.Mutex
	db *pebble.DB
}

// NewPebbleStore opens or creates the database in dir.
func NewPebbleStore(dir string) (*PebbleStore, error) {
	if dir == "" {
		return nil, errors.New("pebble: data dir is required")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func pebbleKey(key string) []byte {
	return append(append([]byte(nil), pebbleKeyPrefix...), key...)
}

func (s *PebbleStore) PutIfAbsent(_ context.Context, rec Record) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.get(rec.Key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Record{}, false, err
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return Record{}, false, err
	}
	if err := s.db.Set(pebbleKey(rec.Key), data, pebble.Sync); err != nil {
		return Record{}, false, fmt.Errorf("set %s: %w", rec.Key, err)
	}
	return rec, true, nil
}

func (s *PebbleStore) Get(_ context.Context, key string) (Record, error) {
	return s.get(key)
}

func (s *PebbleStore) get(key string) (Record, error) {
	val, closer, err := s.db.Get(pebbleKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()
	return decodeRecord(val)
}

func (s *PebbleStore) Len(context.Context) (int, error) {
	upper := append(append([]byte(nil), pebbleKeyPrefix[:len(pebbleKeyPrefix)-1]...), pebbleKeyPrefix[len(pebbleKeyPrefix)-1]+1)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: pebbleKeyPrefix, UpperBound: upper})
	if err != nil {
		return 0, fmt.Errorf("iterate records: %w", err)
	}
	defer it.Close()

	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	return n, it.Error()
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
