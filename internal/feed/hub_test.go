package feed

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/availability"
	"github.com/dgnsrekt/leadfeed/internal/wire"
)

type testFeed struct {
	hub    *Hub
	log    *availability.EventLog
	codec  *wire.Codec
	server *httptest.Server
	cancel context.CancelFunc
}

func newTestFeed(t *testing.T) *testFeed {
	t.Helper()

	codec, err := wire.NewCodec()
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	log := availability.NewEventLog(10, availability.DefaultRecords())
	hub := NewHub(log, codec, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.HandleFunc("/sse", hub.HandleSSE)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		cancel()
		srv.Close()
		codec.Close()
	})
	return &testFeed{hub: hub, log: log, codec: codec, server: srv, cancel: cancel}
}

func (f *testFeed) dial(t *testing.T, subprotocols ...string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: subprotocols, HandshakeTimeout: 2 * time.Second}
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn, codec *wire.Codec, protocol wire.Protocol) wire.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := codec.Decode(protocol, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestHub_SnapshotThenAvailability(t *testing.T) {
	f := newTestFeed(t)
	conn := f.dial(t)

	snap := readMessage(t, conn, f.codec, wire.ProtocolJSON)
	if snap.Type != wire.TypeSnapshot || snap.Seq != 0 || len(snap.Advisors) != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	ev := f.log.Append([]availability.Record{{ID: "adv-001", Name: "Jordan Lee", AvailableSlots: 2}})
	if n := f.hub.Broadcast(wire.Availability(ev)); n != 1 {
		t.Fatalf("expected delivery to 1 client, got %d", n)
	}

	msg := readMessage(t, conn, f.codec, wire.ProtocolJSON)
	if msg.Type != wire.TypeAvailability || msg.Seq != 1 || msg.Advisors[0].AvailableSlots != 2 {
		t.Errorf("unexpected availability: %+v", msg)
	}
}

func TestHub_ProtobufSubprotocol(t *testing.T) {
	f := newTestFeed(t)
	conn := f.dial(t, wire.SubprotocolProtobuf)

	if conn.Subprotocol() != wire.SubprotocolProtobuf {
		t.Fatalf("expected negotiated %q, got %q", wire.SubprotocolProtobuf, conn.Subprotocol())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Errorf("expected binary frame, got %d", mt)
	}
	msg, err := f.codec.Decode(wire.ProtocolProtobuf, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != wire.TypeSnapshot || len(msg.Advisors) != 3 {
		t.Errorf("unexpected snapshot: %+v", msg)
	}
}

func TestHub_DisconnectSendsRestartCode(t *testing.T) {
	f := newTestFeed(t)
	conn := f.dial(t)
	readMessage(t, conn, f.codec, wire.ProtocolJSON)

	if n := f.hub.Disconnect(CloseServiceRestart, RestartReason); n != 1 {
		t.Fatalf("expected 1 closed connection, got %d", n)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	ce, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if ce.Code != CloseServiceRestart || ce.Text != RestartReason {
		t.Errorf("close = %d %q, want %d %q", ce.Code, ce.Text, CloseServiceRestart, RestartReason)
	}
	if f.hub.Len() != 0 {
		t.Errorf("expected no live clients, got %d", f.hub.Len())
	}
}

func TestHub_ShutdownClosesGoingAway(t *testing.T) {
	f := newTestFeed(t)
	conn := f.dial(t)
	readMessage(t, conn, f.codec, wire.ProtocolJSON)

	f.cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

func TestHub_SlowClientMissesMessages(t *testing.T) {
	f := newTestFeed(t)

	client := f.hub.newClient(nil, transportWS, wire.ProtocolJSON)
	if !f.hub.join(client) {
		t.Fatal("hub refused client")
	}

	// The snapshot already occupies one slot.
	for i := 0; i < sendBufferSize-1; i++ {
		if n := f.hub.Broadcast(wire.Heartbeat(int64(i))); n != 1 {
			t.Fatalf("broadcast %d: expected delivery, got %d", i, n)
		}
	}
	if n := f.hub.Broadcast(wire.Heartbeat(0)); n != 0 {
		t.Errorf("expected full buffer to drop, delivered to %d", n)
	}
	if f.hub.Len() != 1 {
		t.Errorf("slow client should stay registered, have %d", f.hub.Len())
	}
}

func TestHub_SSEStream(t *testing.T) {
	f := newTestFeed(t)

	resp, err := http.Get(f.server.URL + "/sse")
	if err != nil {
		t.Fatalf("GET /sse: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	event := readSSEEvent(t, reader)
	if event["event"] != "snapshot" || event["id"] != "0" {
		t.Fatalf("unexpected first event: %v", event)
	}
	msg, err := f.codec.Decode(wire.ProtocolJSON, []byte(event["data"]))
	if err != nil || len(msg.Advisors) != 3 {
		t.Fatalf("bad snapshot data %q: %v", event["data"], err)
	}

	f.hub.Broadcast(wire.Availability(f.log.Append(availability.DefaultRecords())))
	event = readSSEEvent(t, reader)
	if event["event"] != "availability" || event["id"] != "1" {
		t.Errorf("unexpected availability event: %v", event)
	}

	f.hub.Disconnect(CloseServiceRestart, RestartReason)
	event = readSSEEvent(t, reader)
	if event["event"] != "restart" || !strings.Contains(event["data"], RestartReason) {
		t.Errorf("unexpected close event: %v", event)
	}
}

func readSSEEvent(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	event := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse: %v (partial %v)", err, event)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if len(event) == 0 {
				continue
			}
			return event
		}
		key, value, _ := strings.Cut(line, ": ")
		event[key] = value
	}
}
