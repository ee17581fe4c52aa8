package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/availability"
)

type subscriberHarness struct {
	sub      *Subscriber
	dialer   *fakeDialer
	resyncer *fakeResyncer
	clock    *fakeClock
	log      *availability.EventLog
	cancel   context.CancelFunc
	done     chan error
}

func startSubscriber(t *testing.T, dialer *fakeDialer) *subscriberHarness {
	t.Helper()

	log := availability.NewEventLog(availability.DefaultCapacity, records(5))
	resyncer := &fakeResyncer{answer: func(after uint64) (availability.Event, error) {
		ev, _ := log.Resync(after)
		return ev, nil
	}}
	clock := newFakeClock()

	sub := NewSubscriber(dialer, resyncer, SubscriberOptions{
		Backoff: ReconnectBackoff,
		Clock:   clock,
		Rand:    fixedRand{0},
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx, true, true) }()

	h := &subscriberHarness{sub: sub, dialer: dialer, resyncer: resyncer, clock: clock, log: log, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *subscriberHarness) waitFor(t *testing.T, what string, cond func(State) bool) {
	t.Helper()
	if !eventually(func() bool { return cond(h.sub.State()) }) {
		t.Fatalf("timed out waiting for %s; state %+v", what, h.sub.State())
	}
}

func TestSubscriber_ConnectsAndResyncs(t *testing.T) {
	h := startSubscriber(t, &fakeDialer{})

	h.waitFor(t, "initial resync", func(s State) bool {
		return s.Status == StatusConnected && s.Advisors != nil
	})
	if got := h.resyncer.Afters(); len(got) != 1 || got[0] != 0 {
		t.Errorf("expected one resync after 0, got %v", got)
	}
	st := h.sub.State()
	if st.LastSeq != 0 || st.Advisors[0].AvailableSlots != 5 {
		t.Errorf("expected current snapshot at seq 0, got %+v", st)
	}
	if st.LastUpdated.IsZero() {
		t.Error("expected lastUpdated to be stamped")
	}
}

func TestSubscriber_GapRecovery(t *testing.T) {
	h := startSubscriber(t, &fakeDialer{})
	h.waitFor(t, "connected", func(s State) bool { return s.Status == StatusConnected && s.Advisors != nil })

	conn := h.dialer.Conn(0)
	for i := 1; i <= 3; i++ {
		ev := h.log.Append(records(i))
		conn.send(availabilityMsg(ev.Seq, i))
	}
	h.waitFor(t, "seq 3", func(s State) bool { return s.LastSeq == 3 })

	// Events 4 through 6 never reach this client.
	for i := 4; i <= 7; i++ {
		h.log.Append(records(i))
	}
	conn.send(availabilityMsg(7, 7))

	h.waitFor(t, "caught up", func(s State) bool { return s.LastSeq == 7 && s.Advisors[0].AvailableSlots == 7 })
	afters := h.resyncer.Afters()
	want := []uint64{3, 4, 5, 6}
	if len(afters) < len(want) {
		t.Fatalf("expected chained resyncs %v, got %v", want, afters)
	}
	tail := afters[len(afters)-len(want):]
	for i := range want {
		if tail[i] != want[i] {
			t.Fatalf("expected chained resyncs %v, got %v", want, afters)
		}
	}
}

func TestSubscriber_ReconnectsAfterClose(t *testing.T) {
	h := startSubscriber(t, &fakeDialer{})
	h.waitFor(t, "connected", func(s State) bool { return s.Status == StatusConnected })

	h.dialer.Conn(0).Close()
	h.waitFor(t, "reconnecting", func(s State) bool {
		return s.Status == StatusReconnecting && s.ReconnectAttempt == 1
	})

	if !eventually(func() bool { return len(h.clock.Pending()) == 1 }) {
		t.Fatal("expected a pending reconnect timer")
	}
	if d := h.clock.Pending()[0]; d != time.Second {
		t.Errorf("expected 1s reconnect delay, got %s", d)
	}

	h.clock.Advance(time.Second)
	h.waitFor(t, "reconnected", func(s State) bool { return s.Status == StatusConnected })
	if h.dialer.Dials() != 2 {
		t.Errorf("expected 2 dials, got %d", h.dialer.Dials())
	}
	if !eventually(func() bool { return len(h.resyncer.Afters()) == 2 }) {
		t.Errorf("expected a resync per connect, got %v", h.resyncer.Afters())
	}
}

func TestSubscriber_DialFailuresBackOff(t *testing.T) {
	h := startSubscriber(t, &fakeDialer{fail: errors.New("connection refused")})
	h.waitFor(t, "first failure", func(s State) bool { return s.ReconnectAttempt == 1 })

	h.clock.Advance(time.Second)
	h.waitFor(t, "second failure", func(s State) bool { return s.ReconnectAttempt == 2 })

	if !eventually(func() bool {
		p := h.clock.Pending()
		return len(p) == 1 && p[0] == 2*time.Second
	}) {
		t.Errorf("expected a single 2s timer, got %v", h.clock.Pending())
	}
}

func TestSubscriber_DeactivateTearsDown(t *testing.T) {
	h := startSubscriber(t, &fakeDialer{})
	h.waitFor(t, "connected", func(s State) bool { return s.Status == StatusConnected })

	h.dialer.Conn(0).Close()
	h.waitFor(t, "reconnecting", func(s State) bool { return s.Status == StatusReconnecting })

	h.sub.SetActivation(false, true)
	h.waitFor(t, "idle", func(s State) bool { return h.dialer.Dials() == 1 && s.Status == StatusIdle })

	if p := h.clock.Pending(); len(p) != 0 {
		t.Errorf("reconnect timer should be cancelled, pending %v", p)
	}
	h.clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if h.dialer.Dials() != 1 {
		t.Errorf("no dial expected after teardown, got %d dials", h.dialer.Dials())
	}
}

func TestSubscriber_MalformedKeepsConnection(t *testing.T) {
	h := startSubscriber(t, &fakeDialer{})
	h.waitFor(t, "connected", func(s State) bool { return s.Status == StatusConnected && s.Advisors != nil })

	conn := h.dialer.Conn(0)
	conn.sendErr(&ProtocolError{Err: errors.New("unexpected token")})
	h.waitFor(t, "error", func(s State) bool { return s.ErrorMessage == MsgInvalidPayload })

	ev := h.log.Append(records(2))
	conn.send(availabilityMsg(ev.Seq, 2))
	h.waitFor(t, "recovered", func(s State) bool { return s.Status == StatusConnected && s.LastSeq == 1 })

	if h.dialer.Dials() != 1 {
		t.Errorf("malformed payload must not reconnect, got %d dials", h.dialer.Dials())
	}
}

func TestSubscriber_RunClosesConnection(t *testing.T) {
	h := startSubscriber(t, &fakeDialer{})
	h.waitFor(t, "connected", func(s State) bool { return s.Status == StatusConnected })

	h.cancel()
	select {
	case err := <-h.done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		h.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	select {
	case <-h.dialer.Conn(0).closed:
	default:
		t.Error("connection left open after Run returned")
	}
}

func TestSubscriber_FeedDisabledGoesIdle(t *testing.T) {
	h := startSubscriber(t, &fakeDialer{fail: ErrFeedDisabled})
	h.waitFor(t, "idle", func(s State) bool { return h.dialer.Dials() == 1 && s.Status == StatusIdle })

	if p := h.clock.Pending(); len(p) != 0 {
		t.Errorf("no reconnect expected when the feed is disabled, pending %v", p)
	}
}
