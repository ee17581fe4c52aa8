package client

import (
	"fmt"
	"math"
	"time"

	"github.com/dgnsrekt/leadfeed/internal/availability"
	"github.com/dgnsrekt/leadfeed/internal/wire"
)

// Status is the subscriber's connection state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "error"
)

// Advisory messages.
const (
	MsgOffline        = "Offline"
	MsgInvalidPayload = "Invalid realtime payload"
	MsgResyncFailed   = "Resync failed"
)

// Resync reasons.
const (
	ResyncOnConnect = "connect"
	ResyncOnGap     = "gap"
)

// State is the subscriber's view of the feed. LastSeq never decreases
// within a connection; the first snapshot after a connect replaces it.
type State struct {
	Status           Status
	Advisors         []availability.Record
	LastSeq          uint64
	LastUpdated      time.Time
	ErrorMessage     string
	ReconnectAttempt int
}

// ActionKind tells the runtime what to do after a transition.
type ActionKind int

const (
	ActionDial ActionKind = iota + 1
	ActionResync
	ActionScheduleReconnect
	ActionTeardown
)

func (k ActionKind) String() string {
	switch k {
	case ActionDial:
		return "dial"
	case ActionResync:
		return "resync"
	case ActionScheduleReconnect:
		return "schedule_reconnect"
	case ActionTeardown:
		return "teardown"
	}
	return fmt.Sprintf("action(%d)", int(k))
}

// Action is a side effect requested by the machine.
type Action struct {
	Kind   ActionKind
	After  uint64        // ActionResync
	Reason string        // ActionResync
	Delay  time.Duration // ActionScheduleReconnect
}

// Machine is the subscriber state machine. It performs no I/O; every
// transition returns the actions the runtime must carry out. It is not safe
// for concurrent use.
type Machine struct {
	state   State
	active  bool
	seenSeq uint64 // highest seq observed on the stream
	fresh   bool   // no snapshot applied since Opened
	backoff Backoff
	rng     Rand
	now     func() time.Time
}

func NewMachine(backoff Backoff, rng Rand, now func() time.Time) *Machine {
	if rng == nil {
		rng = DefaultRand()
	}
	if now == nil {
		now = time.Now
	}
	return &Machine{
		state:   State{Status: StatusIdle},
		backoff: backoff,
		rng:     rng,
		now:     now,
	}
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	s := m.state
	s.Advisors = availability.CloneRecords(m.state.Advisors)
	return s
}

// Active reports whether the machine wants a transport.
func (m *Machine) Active() bool { return m.active }

// Activate starts or stops the feed. A disabled feed goes idle; an enabled
// feed while offline reports the Offline error. Both tear down the
// transport.
func (m *Machine) Activate(enabled, online bool) []Action {
	switch {
	case !enabled:
		wasActive := m.active
		m.active = false
		m.state.Status = StatusIdle
		if wasActive {
			return []Action{{Kind: ActionTeardown}}
		}
		return nil
	case !online:
		wasActive := m.active
		m.active = false
		m.state.Status = StatusFailed
		m.state.ErrorMessage = MsgOffline
		if wasActive {
			return []Action{{Kind: ActionTeardown}}
		}
		return nil
	}

	if m.active {
		return nil
	}
	m.active = true
	m.state.ReconnectAttempt = 0
	m.state.Status = StatusConnecting
	m.state.ErrorMessage = ""
	return []Action{{Kind: ActionDial}}
}

// Opened handles a transport that finished connecting.
func (m *Machine) Opened() []Action {
	if !m.active {
		return nil
	}
	m.state.Status = StatusConnected
	m.state.ReconnectAttempt = 0
	m.state.ErrorMessage = ""
	m.fresh = true
	return []Action{{Kind: ActionResync, After: m.state.LastSeq, Reason: ResyncOnConnect}}
}

// Message applies one decoded realtime message.
func (m *Machine) Message(msg wire.Message) []Action {
	if !m.active {
		return nil
	}
	if m.state.Status == StatusFailed {
		m.state.Status = StatusConnected
		m.state.ErrorMessage = ""
	}

	switch msg.Type {
	case wire.TypeHeartbeat:
		return nil
	case wire.TypeSnapshot:
		if m.fresh || msg.Seq > m.state.LastSeq || m.state.Advisors == nil {
			m.fresh = false
			m.seenSeq = msg.Seq
			m.apply(msg.Seq, msg.Advisors)
		}
		return nil
	case wire.TypeAvailability:
		if msg.Seq > m.seenSeq {
			m.seenSeq = msg.Seq
		}
		switch {
		case msg.Seq <= m.state.LastSeq:
			return nil
		case msg.Seq > m.state.LastSeq+1:
			return []Action{{Kind: ActionResync, After: m.state.LastSeq, Reason: ResyncOnGap}}
		}
		m.apply(msg.Seq, msg.Advisors)
	}
	return nil
}

// Malformed records an undecodable message. Connection and backoff state
// are untouched.
func (m *Machine) Malformed(err error) []Action {
	if !m.active {
		return nil
	}
	m.state.Status = StatusFailed
	m.state.ErrorMessage = MsgInvalidPayload
	return nil
}

// Resynced applies a resync answer unless the stream already moved past it.
// The answer is the oldest event after the requested seq, so while the
// stream has shown a later seq the machine asks again from the new position.
func (m *Machine) Resynced(ev availability.Event) []Action {
	if !m.active {
		return nil
	}
	if ev.Seq <= m.state.LastSeq && m.state.Advisors != nil {
		return nil
	}
	m.apply(ev.Seq, ev.Records)
	m.state.ErrorMessage = ""
	if ev.Seq < m.seenSeq {
		return []Action{{Kind: ActionResync, After: ev.Seq, Reason: ResyncOnGap}}
	}
	return nil
}

// ResyncFailed keeps the current state and notes the failure.
func (m *Machine) ResyncFailed(err error) []Action {
	if !m.active {
		return nil
	}
	m.state.ErrorMessage = MsgResyncFailed
	return nil
}

// Closed handles a transport close or a failed dial and schedules the next
// attempt.
func (m *Machine) Closed(err error) []Action {
	if !m.active {
		return nil
	}
	m.state.ReconnectAttempt++
	delay := m.backoff.Next(m.state.ReconnectAttempt, m.rng)
	m.state.Status = StatusReconnecting
	m.state.ErrorMessage = fmt.Sprintf("Disconnected. Reconnecting in %ds.", int(math.Ceil(delay.Seconds())))
	return []Action{{Kind: ActionScheduleReconnect, Delay: delay}}
}

// ReconnectDue handles the reconnect timer firing.
func (m *Machine) ReconnectDue() []Action {
	if !m.active || m.state.Status != StatusReconnecting {
		return nil
	}
	m.state.Status = StatusConnecting
	m.state.ErrorMessage = ""
	return []Action{{Kind: ActionDial}}
}

func (m *Machine) apply(seq uint64, records []availability.Record) {
	m.state.LastSeq = seq
	m.state.Advisors = availability.CloneRecords(records)
	if m.state.Advisors == nil {
		m.state.Advisors = []availability.Record{}
	}
	m.state.LastUpdated = m.now()
}
