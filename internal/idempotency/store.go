// Package idempotency records the first accepted submission for each
// idempotency key. Every backend offers an atomic insert-if-absent so that
// concurrent submissions with one key converge on a single record.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("idempotency record not found")

// Record is the stored outcome for one key. Records are never mutated.
type Record struct {
	Key        string    `json:"key"`
	TrackingID string    `json:"trackingId"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// Store is implemented by every backend.
type Store interface {
	// PutIfAbsent stores rec unless a record for rec.Key exists. It returns
	// the record that is stored after the call and whether rec was inserted.
	PutIfAbsent(ctx context.Context, rec Record) (Record, bool, error)
	// Get returns the record for key or ErrNotFound.
	Get(ctx context.Context, key string) (Record, error)
	// Len returns the number of distinct keys recorded.
	Len(ctx context.Context) (int, error)
	Close() error
}

func encodeRecord(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.Key, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
