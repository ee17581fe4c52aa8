package client

import "time"

// Backoff computes min(Base * 2^(attempt-1), Max) plus up to Jitter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// SubmitBackoff spaces quote and submission retries.
var SubmitBackoff = Backoff{Base: 350 * time.Millisecond, Max: 2 * time.Second, Jitter: 120 * time.Millisecond}

// ReconnectBackoff spaces realtime reconnects.
var ReconnectBackoff = Backoff{Base: time.Second, Max: 8 * time.Second, Jitter: 300 * time.Millisecond}

// Delay returns the capped delay for attempt (1-based) without jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		if d >= b.Max {
			break
		}
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Next returns Delay(attempt) plus a random jitter in [0, Jitter).
func (b Backoff) Next(attempt int, rng Rand) time.Duration {
	d := b.Delay(attempt)
	if b.Jitter > 0 && rng != nil {
		d += time.Duration(rng.Int64N(int64(b.Jitter)))
	}
	return d
}
