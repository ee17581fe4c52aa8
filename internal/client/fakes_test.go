package client

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/leadfeed/internal/availability"
	"github.com/dgnsrekt/leadfeed/internal/wire"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 11, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Pending returns the delays of timers that have not fired or stopped.
func (c *fakeClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.at.Sub(c.now))
		}
	}
	return out
}

// Advance moves time forward and runs every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// fixedRand always returns n, clamped to the range.
type fixedRand struct{ n int64 }

func (r fixedRand) Int64N(max int64) int64 {
	if r.n >= max {
		return max - 1
	}
	return r.n
}

// fakeConn delivers scripted messages; closing it ends Next with an error.
type fakeConn struct {
	msgs   chan fakeFrame
	closed chan struct{}
	once   sync.Once
}

type fakeFrame struct {
	msg wire.Message
	err error
}

var errConnClosed = errors.New("connection closed")

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan fakeFrame, 32), closed: make(chan struct{})}
}

func (c *fakeConn) Next() (wire.Message, error) {
	select {
	case f := <-c.msgs:
		return f.msg, f.err
	case <-c.closed:
		return wire.Message{}, errConnClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(m wire.Message) { c.msgs <- fakeFrame{msg: m} }

func (c *fakeConn) sendErr(err error) { c.msgs <- fakeFrame{err: err} }

// fakeDialer hands out connections from a queue.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
	fail  error
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail != nil {
		return nil, d.fail
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// fakeResyncer records requests and answers from a function.
type fakeResyncer struct {
	mu     sync.Mutex
	afters []uint64
	answer func(after uint64) (availability.Event, error)
}

func (r *fakeResyncer) Resync(ctx context.Context, after uint64) (availability.Event, error) {
	r.mu.Lock()
	r.afters = append(r.afters, after)
	answer := r.answer
	r.mu.Unlock()
	if answer == nil {
		return availability.Event{}, errors.New("no answer")
	}
	return answer(after)
}

func (r *fakeResyncer) Afters() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.afters...)
}

func records(slots int) []availability.Record {
	return []availability.Record{{ID: "adv-001", Name: "Jordan Lee", AvailableSlots: slots}}
}

func availabilityMsg(seq uint64, slots int) wire.Message {
	return wire.Availability(availability.Event{Seq: seq, Records: records(slots)})
}

// eventually polls cond until it holds or the deadline passes.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
