package client

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/availability"
	"github.com/dgnsrekt/leadfeed/internal/wire"
)

// Conn is one open realtime transport.
type Conn interface {
	// Next blocks for the next message. A *ProtocolError leaves the
	// connection usable; any other error means it is gone.
	Next() (wire.Message, error)
	Close() error
}

// Dialer opens realtime transports.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Resyncer fetches catch-up snapshots.
type Resyncer interface {
	Resync(ctx context.Context, after uint64) (availability.Event, error)
}

// SubscriberOptions tune a Subscriber. Zero values use the defaults.
type SubscriberOptions struct {
	Backoff Backoff
	Clock   Clock
	Rand    Rand
	// OnState is called from the run loop after every state change.
	OnState func(State)
}

// Subscriber drives a Machine against real transports. All state is owned
// by the Run goroutine; other goroutines post closures to it.
type Subscriber struct {
	machine  *Machine
	dialer   Dialer
	resyncer Resyncer
	clock    Clock
	onState  func(State)
	logger   *zap.Logger

	inbox chan func()
	done  chan struct{}

	// owned by the run loop
	ctx        context.Context
	conn       Conn
	connGen    uint64
	dialCancel context.CancelFunc
	timer      Timer
	timerGen   uint64
	published  State

	mu    sync.RWMutex
	state State
}

func NewSubscriber(dialer Dialer, resyncer Resyncer, opts SubscriberOptions, logger *zap.Logger) *Subscriber {
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = ReconnectBackoff
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Rand == nil {
		opts.Rand = DefaultRand()
	}
	s := &Subscriber{
		dialer:   dialer,
		resyncer: resyncer,
		clock:    opts.Clock,
		onState:  opts.OnState,
		logger:   logger,
		inbox:    make(chan func(), 64),
		done:     make(chan struct{}),
	}
	s.machine = NewMachine(opts.Backoff, opts.Rand, opts.Clock.Now)
	s.state = s.machine.State()
	s.published = s.state
	return s
}

// State returns the latest published state.
func (s *Subscriber) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Advisors = availability.CloneRecords(s.state.Advisors)
	return st
}

// Run activates the feed and processes events until ctx is done. The
// transport and any pending reconnect are torn down before it returns.
func (s *Subscriber) Run(ctx context.Context, enabled, online bool) error {
	s.ctx = ctx
	defer close(s.done)

	s.exec(s.machine.Activate(enabled, online))
	s.publish()

	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()
		case f := <-s.inbox:
			f()
			s.publish()
		}
	}
}

// SetActivation reports a change in the feature flag or connectivity.
func (s *Subscriber) SetActivation(enabled, online bool) {
	s.post(func() { s.exec(s.machine.Activate(enabled, online)) })
}

func (s *Subscriber) post(f func()) {
	select {
	case s.inbox <- f:
	case <-s.done:
	}
}

func (s *Subscriber) exec(actions []Action) {
	for _, a := range actions {
		switch a.Kind {
		case ActionDial:
			s.dial()
		case ActionResync:
			s.resync(a.After, a.Reason)
		case ActionScheduleReconnect:
			s.schedule(a)
		case ActionTeardown:
			s.teardown()
		}
	}
}

func (s *Subscriber) dial() {
	s.closeConn()
	s.connGen++
	gen := s.connGen

	ctx, cancel := context.WithCancel(s.ctx)
	s.dialCancel = cancel

	go func() {
		conn, err := s.dialer.Dial(ctx)
		s.post(func() {
			if gen != s.connGen {
				if conn != nil {
					_ = conn.Close()
				}
				return
			}
			if errors.Is(err, ErrFeedDisabled) {
				s.logger.Warn("advisor feed disabled by the backend")
				s.exec(s.machine.Activate(false, true))
				return
			}
			if err != nil {
				s.logger.Debug("dial failed", zap.Error(err))
				s.exec(s.machine.Closed(err))
				return
			}
			s.conn = conn
			s.exec(s.machine.Opened())
			go s.read(gen, conn)
		})
	}()
}

func (s *Subscriber) read(gen uint64, conn Conn) {
	for {
		msg, err := conn.Next()
		if err != nil {
			var pe *ProtocolError
			if errors.As(err, &pe) {
				s.post(func() {
					if gen == s.connGen {
						s.logger.Warn("invalid realtime payload", zap.Error(err))
						s.exec(s.machine.Malformed(err))
					}
				})
				continue
			}
			s.post(func() {
				if gen != s.connGen {
					return
				}
				s.logger.Info("feed disconnected", zap.Error(err))
				s.closeConn()
				s.exec(s.machine.Closed(err))
			})
			return
		}
		s.post(func() {
			if gen == s.connGen {
				s.exec(s.machine.Message(msg))
			}
		})
	}
}

func (s *Subscriber) resync(after uint64, reason string) {
	s.logger.Debug("resync", zap.Uint64("after", after), zap.String("reason", reason))
	ctx := s.ctx
	go func() {
		ev, err := s.resyncer.Resync(ctx, after)
		s.post(func() {
			if err != nil {
				s.logger.Warn("resync failed", zap.Uint64("after", after), zap.Error(err))
				s.exec(s.machine.ResyncFailed(err))
				return
			}
			s.exec(s.machine.Resynced(ev))
		})
	}()
}

// schedule replaces any pending reconnect timer.
func (s *Subscriber) schedule(a Action) {
	s.stopTimer()
	gen := s.timerGen
	s.logger.Debug("reconnect scheduled", zap.Duration("delay", a.Delay))
	s.timer = s.clock.AfterFunc(a.Delay, func() {
		s.post(func() {
			if gen != s.timerGen {
				return
			}
			s.timer = nil
			s.exec(s.machine.ReconnectDue())
		})
	})
}

func (s *Subscriber) stopTimer() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Subscriber) closeConn() {
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Subscriber) teardown() {
	s.stopTimer()
	s.connGen++
	s.closeConn()
}

func (s *Subscriber) publish() {
	st := s.machine.State()
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	prev := s.published
	if st.Status == prev.Status &&
		st.LastSeq == prev.LastSeq &&
		st.ErrorMessage == prev.ErrorMessage &&
		st.ReconnectAttempt == prev.ReconnectAttempt &&
		st.LastUpdated.Equal(prev.LastUpdated) {
		return
	}
	s.published = st
	if s.onState != nil {
		s.onState(st)
	}
}
