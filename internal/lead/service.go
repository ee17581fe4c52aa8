package lead

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/idempotency"
	"github.com/dgnsrekt/leadfeed/internal/metrics"
	"github.com/dgnsrekt/leadfeed/internal/notify"
)

const notifyTimeout = 15 * time.Second

// Service accepts validated submissions, recording one tracking ID per
// idempotency key.
type Service struct {
	store    idempotency.Store
	notifier notify.Notifier
	now      func() time.Time
	newID    func() string
	logger   *zap.Logger
	metrics  *metrics.Metrics

	pending sync.WaitGroup
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the tracking ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService creates a Service. A nil notifier disables announcements.
func NewService(store idempotency.Store, notifier notify.Notifier, m *metrics.Metrics, logger *zap.Logger, opts ...Option) *Service {
	if notifier == nil {
		notifier = &notify.NoopNotifier{}
	}
	s := &Service{
		store:    store,
		notifier: notifier,
		now:      time.Now,
		newID:    NewTrackingID,
		logger:   logger,
		metrics:  m,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewTrackingID returns "trk_" followed by 8 random hex digits.
func NewTrackingID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "trk_" + id[:8]
}

// Submit validates sub and returns the tracking result for its idempotency
// key. Only the first call for a key creates a record; later calls return
// the same tracking ID with Deduplicated set.
func (s *Service) Submit(ctx context.Context, sub Submission, scenarioID string) (Result, error) {
	if err := Validate(sub); err != nil {
		s.metrics.Submission("invalid")
		return Result{}, err
	}

	existing, err := s.store.Get(ctx, sub.IdempotencyKey)
	if err == nil {
		s.metrics.Submission("deduplicated")
		return toResult(existing, true), nil
	}
	if !errors.Is(err, idempotency.ErrNotFound) {
		s.metrics.Submission("error")
		return Result{}, fmt.Errorf("lookup idempotency key: %w", err)
	}

	candidate := idempotency.Record{
		Key:        sub.IdempotencyKey,
		TrackingID: s.newID(),
		AcceptedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	stored, inserted, err := s.store.PutIfAbsent(ctx, candidate)
	if err != nil {
		s.metrics.Submission("error")
		return Result{}, fmt.Errorf("record submission: %w", err)
	}
	if !inserted {
		// Lost the race to a concurrent submission with the same key.
		s.metrics.Submission("deduplicated")
		return toResult(stored, true), nil
	}

	s.metrics.Submission("accepted")
	if n, err := s.store.Len(ctx); err == nil {
		s.metrics.IdempotencyRecords(n)
	}

	s.logger.Info("lead accepted",
		zap.String("trackingId", stored.TrackingID),
		zap.String("scenarioId", scenarioID),
	)

	s.announce(notify.Accepted{
		TrackingID:     stored.TrackingID,
		IdempotencyKey: stored.Key,
		AcceptedAt:     stored.AcceptedAt,
		ScenarioID:     scenarioID,
		Zip:            sub.Contact.Zip,
		CreditRange:    sub.Loan.CreditRange,
	})

	return toResult(stored, false), nil
}

// announce notifies in the background; failures never reach the caller.
func (s *Service) announce(a notify.Accepted) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := s.notifier.LeadAccepted(ctx, a); err != nil {
			s.metrics.NotifyFailed("lead_accepted")
			s.logger.Warn("lead notification failed",
				zap.String("trackingId", a.TrackingID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until background notifications have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

func toResult(rec idempotency.Record, deduplicated bool) Result {
	return Result{
		TrackingID:   rec.TrackingID,
		AcceptedAt:   rec.AcceptedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Deduplicated: deduplicated,
	}
}
