// Package wire defines the realtime availability messages and their two
// encodings: JSON text frames and zstd-compressed protobuf binary frames.
package wire

import (
	"errors"
	"fmt"

	"github.com/dgnsrekt/leadfeed/internal/availability"
)

// MessageType tags the server->client message union.
type MessageType string

const (
	TypeHeartbeat    MessageType = "heartbeat"
	TypeSnapshot     MessageType = "snapshot"
	TypeAvailability MessageType = "availability"
)

// ErrMalformed is wrapped by every decoding failure.
var ErrMalformed = errors.New("malformed realtime message")

// Message is one realtime frame. Seq and Advisors are meaningful only for
// snapshot and availability messages; TS only for heartbeats.
type Message struct {
	Type     MessageType
	Seq      uint64
	Advisors []availability.Record
	TS       int64
}

// Snapshot builds the full-replace message sent on connect.
func Snapshot(ev availability.Event) Message {
	return Message{Type: TypeSnapshot, Seq: ev.Seq, Advisors: availability.CloneRecords(ev.Records)}
}

// Availability builds the per-tick message.
func Availability(ev availability.Event) Message {
	return Message{Type: TypeAvailability, Seq: ev.Seq, Advisors: availability.CloneRecords(ev.Records)}
}

// Heartbeat builds a liveness message stamped with ts (unix millis).
func Heartbeat(ts int64) Message {
	return Message{Type: TypeHeartbeat, TS: ts}
}

// Event returns the availability event carried by a data message.
func (m Message) Event() availability.Event {
	return availability.Event{Seq: m.Seq, Records: availability.CloneRecords(m.Advisors)}
}

// validate checks fields common to both encodings.
func (m Message) validate() error {
	switch m.Type {
	case TypeHeartbeat:
		return nil
	case TypeSnapshot, TypeAvailability:
		for _, r := range m.Advisors {
			if err := r.Validate(); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrMalformed, m.Type)
	}
}
