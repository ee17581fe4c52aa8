// Package client is the consumer side of the lead feed backend: a retrying
// HTTP client, a stale-while-revalidate quote loader and the realtime
// availability subscriber.
package client

import (
	"context"
	"math/rand/v2"
	"time"
)

// Clock abstracts time so retry and reconnect scheduling can be driven by
// tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	Stop() bool
}

// Rand is the jitter source.
type Rand interface {
	Int64N(n int64) int64
}

type realClock struct{}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type globalRand struct{}

// DefaultRand returns the process-wide random source.
func DefaultRand() Rand { return globalRand{} }

func (globalRand) Int64N(n int64) int64 { return rand.Int64N(n) }

// sleep waits for d on clock or until ctx is done.
func sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	fired := make(chan struct{})
	t := clock.AfterFunc(d, func() { close(fired) })
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-fired:
		return nil
	}
}
