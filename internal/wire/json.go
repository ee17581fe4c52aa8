package wire

import (
	"encoding/json"
	"fmt"

	"github.com/dgnsrekt/leadfeed/internal/availability"
)

// buildMessageJSON creates the JSON body for m.
func buildMessageJSON(m Message) ([]byte, error) {
	var msg map[string]interface{}
	switch m.Type {
	case TypeHeartbeat:
		msg = map[string]interface{}{
			"type": string(TypeHeartbeat),
			"ts":   m.TS,
		}
	case TypeSnapshot, TypeAvailability:
		advisors := m.Advisors
		if advisors == nil {
			advisors = []availability.Record{}
		}
		msg = map[string]interface{}{
			"type":     string(m.Type),
			"seq":      m.Seq,
			"advisors": advisors,
		}
	default:
		return nil, fmt.Errorf("unknown message type: %s", m.Type)
	}
	return json.Marshal(msg)
}

// jsonEnvelope uses pointers so absent fields can be told apart from zero values.
type jsonEnvelope struct {
	Type     string                 `json:"type"`
	Seq      *uint64                `json:"seq"`
	Advisors *[]availability.Record `json:"advisors"`
	TS       int64                  `json:"ts"`
}

// parseMessageJSON parses a JSON text frame.
func parseMessageJSON(data []byte) (Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := Message{Type: MessageType(env.Type), TS: env.TS}
	switch msg.Type {
	case TypeHeartbeat:
	case TypeSnapshot, TypeAvailability:
		if env.Seq == nil {
			return Message{}, fmt.Errorf("%w: %s message without seq", ErrMalformed, env.Type)
		}
		if env.Advisors == nil {
			return Message{}, fmt.Errorf("%w: %s message without advisors", ErrMalformed, env.Type)
		}
		msg.Seq = *env.Seq
		msg.Advisors = *env.Advisors
	}

	if err := msg.validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}
