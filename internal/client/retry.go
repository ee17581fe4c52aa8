package client

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds one logical operation.
type RetryPolicy struct {
	MaxAttempts int
	Timeout     time.Duration // per attempt
	Backoff     Backoff
}

// DefaultRetryPolicy is three attempts of timeout each with SubmitBackoff.
func DefaultRetryPolicy(timeout time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Timeout: timeout, Backoff: SubmitBackoff}
}

// RetryNotice is passed to an observer before each retry.
type RetryNotice struct {
	Attempt     int // the attempt about to run
	MaxAttempts int
	Delay       time.Duration
	Reason      string
}

// Retrier runs operations under a RetryPolicy.
type Retrier struct {
	policy  RetryPolicy
	clock   Clock
	rng     Rand
	observe func(RetryNotice)
	logger  *zap.Logger
}

type RetryOption func(*Retrier)

func WithRetryClock(c Clock) RetryOption { return func(r *Retrier) { r.clock = c } }

func WithRetryRand(rng Rand) RetryOption { return func(r *Retrier) { r.rng = rng } }

// WithRetryObserver registers f to be told about every scheduled retry.
func WithRetryObserver(f func(RetryNotice)) RetryOption {
	return func(r *Retrier) { r.observe = f }
}

func NewRetrier(policy RetryPolicy, logger *zap.Logger, opts ...RetryOption) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	r := &Retrier{
		policy: policy,
		clock:  RealClock(),
		rng:    DefaultRand(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do calls op until it succeeds, fails permanently, or the attempts run
// out. Each call gets its own deadline. It returns the number of attempts
// made. Exhaustion yields a *TransientError.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	var (
		lastErr    error
		lastReason string
	)

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := r.attempt(ctx, op)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if !isRetryable(err) {
			return attempt, err
		}

		lastErr = err
		lastReason = FailureReason(err)

		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.policy.Backoff.Next(attempt, r.rng)
		r.logger.Debug("retrying request",
			zap.Int("attempt", attempt+1),
			zap.Int("maxAttempts", r.policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.String("reason", lastReason),
		)
		if r.observe != nil {
			r.observe(RetryNotice{
				Attempt:     attempt + 1,
				MaxAttempts: r.policy.MaxAttempts,
				Delay:       delay,
				Reason:      lastReason,
			})
		}
		if err := sleep(ctx, r.clock, delay); err != nil {
			return attempt, err
		}
	}

	return r.policy.MaxAttempts, &TransientError{
		Attempts: r.policy.MaxAttempts,
		Reason:   lastReason,
		Err:      lastErr,
	}
}

func (r *Retrier) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if r.policy.Timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
	defer cancel()
	return op(attemptCtx)
}

// isRetryable treats timeouts, network failures, 408, 429 and 5xx as
// transient. Everything else ends the operation.
func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
