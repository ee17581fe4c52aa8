package wire

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Protocol is the negotiated frame encoding for one connection.
type Protocol string

const (
	ProtocolJSON     Protocol = "json"
	ProtocolProtobuf Protocol = "protobuf"
)

// Websocket subprotocol names.
const (
	SubprotocolJSON     = "json.advisor-feed.v1"
	SubprotocolProtobuf = "protobuf.advisor-feed.v1"
)

// Subprotocols lists the names a server accepts, in preference order.
var Subprotocols = []string{SubprotocolProtobuf, SubprotocolJSON}

// NegotiateProtocol picks the encoding from the client's requested
// subprotocols. It returns the subprotocol to echo back, empty when the
// client asked for none (JSON is used in that case).
func NegotiateProtocol(requested []string) (Protocol, string) {
	for _, name := range requested {
		switch name {
		case SubprotocolProtobuf:
			return ProtocolProtobuf, name
		case SubprotocolJSON:
			return ProtocolJSON, name
		}
	}
	return ProtocolJSON, ""
}

// ProtocolFor maps a negotiated subprotocol name back to its encoding.
func ProtocolFor(subprotocol string) Protocol {
	if subprotocol == SubprotocolProtobuf {
		return ProtocolProtobuf
	}
	return ProtocolJSON
}

// Codec converts messages to and from wire frames. It is safe for concurrent use.
type Codec struct {
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
}

// NewCodec creates a Codec with Zstd compression for binary frames.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{zstdEncoder: enc, zstdDecoder: dec}, nil
}

// Encode renders m for the given protocol.
func (c *Codec) Encode(p Protocol, m Message) ([]byte, error) {
	switch p {
	case ProtocolProtobuf:
		pbData, err := marshalProto(m)
		if err != nil {
			return nil, fmt.Errorf("marshal protobuf: %w", err)
		}
		return c.zstdEncoder.EncodeAll(pbData, nil), nil
	default:
		return buildMessageJSON(m)
	}
}

// Decode parses a frame. Every failure wraps ErrMalformed.
func (c *Codec) Decode(p Protocol, data []byte) (Message, error) {
	switch p {
	case ProtocolProtobuf:
		raw, err := c.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return Message{}, fmt.Errorf("%w: zstd: %v", ErrMalformed, err)
		}
		return unmarshalProto(raw)
	default:
		return parseMessageJSON(data)
	}
}

// Close releases encoder resources.
func (c *Codec) Close() {
	if c.zstdEncoder != nil {
		c.zstdEncoder.Close()
	}
	if c.zstdDecoder != nil {
		c.zstdDecoder.Close()
	}
}
