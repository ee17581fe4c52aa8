package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dgnsrekt/leadfeed/internal/availability"
)

// Binary frame layout (protobuf wire format):
//
//	message Message {
//	  Type type = 1;            // 1 heartbeat, 2 snapshot, 3 availability
//	  uint64 seq = 2;
//	  int64 ts = 3;
//	  repeated Record advisors = 4;
//	}
//	message Record {
//	  string id = 1;
//	  string name = 2;
//	  uint32 available_slots = 3;
//	}
const (
	fieldType     protowire.Number = 1
	fieldSeq      protowire.Number = 2
	fieldTS       protowire.Number = 3
	fieldAdvisors protowire.Number = 4

	fieldRecordID    protowire.Number = 1
	fieldRecordName  protowire.Number = 2
	fieldRecordSlots protowire.Number = 3
)

var typeCodes = map[MessageType]uint64{
	TypeHeartbeat:    1,
	TypeSnapshot:     2,
	TypeAvailability: 3,
}

func marshalProto(m Message) ([]byte, error) {
	code, ok := typeCodes[m.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", m.Type)
	}

	var b []byte
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, code)

	if m.Type == TypeHeartbeat {
		b = protowire.AppendTag(b, fieldTS, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.TS))
		return b, nil
	}

	// seq is always written so a zero sequence is distinguishable from a missing one.
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Seq)

	for _, r := range m.Advisors {
		var rb []byte
		rb = protowire.AppendTag(rb, fieldRecordID, protowire.BytesType)
		rb = protowire.AppendString(rb, r.ID)
		rb = protowire.AppendTag(rb, fieldRecordName, protowire.BytesType)
		rb = protowire.AppendString(rb, r.Name)
		rb = protowire.AppendTag(rb, fieldRecordSlots, protowire.VarintType)
		rb = protowire.AppendVarint(rb, uint64(r.AvailableSlots))

		b = protowire.AppendTag(b, fieldAdvisors, protowire.BytesType)
		b = protowire.AppendBytes(b, rb)
	}
	return b, nil
}

func unmarshalProto(b []byte) (Message, error) {
	var (
		msg     Message
		hasType bool
		hasSeq  bool
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: type: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			msg.Type = typeFromCode(v)
			hasType = true

		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: seq: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			msg.Seq = v
			hasSeq = true

		case num == fieldTS && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: ts: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			msg.TS = int64(v)

		case num == fieldAdvisors && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: advisors: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			rec, err := unmarshalRecord(v)
			if err != nil {
				return Message{}, err
			}
			msg.Advisors = append(msg.Advisors, rec)

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !hasType {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if msg.Type != TypeHeartbeat {
		if !hasSeq {
			return Message{}, fmt.Errorf("%w: %s message without seq", ErrMalformed, msg.Type)
		}
		if msg.Advisors == nil {
			msg.Advisors = []availability.Record{}
		}
	}
	if err := msg.validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func unmarshalRecord(b []byte) (availability.Record, error) {
	var r availability.Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("%w: record: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldRecordID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, fmt.Errorf("%w: record id: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			r.ID = v
		case num == fieldRecordName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, fmt.Errorf("%w: record name: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			r.Name = v
		case num == fieldRecordSlots && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, fmt.Errorf("%w: record slots: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			if v > availability.MaxSlots {
				return r, fmt.Errorf("%w: record slots %d above ceiling", ErrMalformed, v)
			}
			r.AvailableSlots = int(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, fmt.Errorf("%w: record field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return r, nil
}

func typeFromCode(code uint64) MessageType {
	for t, c := range typeCodes {
		if c == code {
			return t
		}
	}
	return MessageType(fmt.Sprintf("unknown(%d)", code))
}
