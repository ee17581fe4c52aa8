// Package feed pushes availability events to realtime subscribers over
// websocket and server-sent events, and drives the periodic broadcaster.
package feed

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/availability"
	"github.com/dgnsrekt/leadfeed/internal/metrics"
	"github.com/dgnsrekt/leadfeed/internal/wire"
)

// Close codes sent when the hub drops every connection.
const (
	CloseServiceRestart = websocket.CloseServiceRestart // 1012
	CloseGoingAway      = websocket.CloseGoingAway      // 1001

	RestartReason  = "service_restart_simulation"
	ShutdownReason = "server_shutdown"
)

// Transport labels used in logs and metrics.
const (
	transportWS  = "ws"
	transportSSE = "sse"
)

// Hub tracks live subscribers and fans messages out to them.
type Hub struct {
	log        *availability.EventLog
	codec      *wire.Codec
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewHub creates a Hub that snapshots new subscribers from log.
func NewHub(log *availability.EventLog, codec *wire.Codec, m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		log:        log,
		codec:      codec,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    m,
	}
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down", zap.Int("clients", h.Len()))
			close(h.done)
			h.Disconnect(CloseGoingAway, ShutdownReason)
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.mu.Lock()
			removed := h.removeLocked(client)
			h.mu.Unlock()
			if removed {
				h.logger.Debug("client unregistered",
					zap.String("connID", client.connID),
					zap.String("transport", client.transport),
				)
			}
		}
	}
}

// addClient enqueues the current snapshot and registers the client under the
// write lock, so no broadcast can slip between the snapshot and registration.
func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := wire.Snapshot(h.log.Current())
	payload, err := h.codec.Encode(client.protocol, snapshot)
	if err != nil {
		h.logger.Error("failed to encode snapshot", zap.Error(err))
		client.closeCode = websocket.CloseInternalServerErr
		client.closeReason = "snapshot_failed"
		close(client.send)
		return
	}
	client.send <- frame{msgType: wire.TypeSnapshot, seq: snapshot.Seq, payload: payload}
	h.clients[client] = true
	h.metrics.ConnectionOpened(client.transport)

	h.logger.Debug("client registered",
		zap.String("connID", client.connID),
		zap.String("transport", client.transport),
		zap.String("protocol", string(client.protocol)),
		zap.Uint64("snapshotSeq", snapshot.Seq),
	)
}

func (h *Hub) removeLocked(client *Client) bool {
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	close(client.send)
	h.metrics.ConnectionClosed(client.transport)
	return true
}

// join hands a client to the run loop. It reports false once the hub has stopped.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// leave is safe to call after the client was already dropped.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast delivers msg to every subscriber without blocking. Subscribers
// whose buffers are full miss the message and recover through resync.
// It returns the number of subscribers the message was queued for.
func (h *Hub) Broadcast(msg wire.Message) int {
	encoded := make(map[wire.Protocol][]byte, 2)

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients {
		payload, ok := encoded[client.protocol]
		if !ok {
			var err error
			payload, err = h.codec.Encode(client.protocol, msg)
			if err != nil {
				h.logger.Error("failed to encode message",
					zap.String("type", string(msg.Type)),
					zap.String("protocol", string(client.protocol)),
					zap.Error(err),
				)
				return delivered
			}
			encoded[client.protocol] = payload
		}

		select {
		case client.send <- frame{msgType: msg.Type, seq: msg.Seq, payload: payload}:
			delivered++
		default:
			h.metrics.MessageDropped()
			h.logger.Debug("client buffer full, dropping message",
				zap.String("connID", client.connID),
				zap.String("type", string(msg.Type)),
				zap.Uint64("seq", msg.Seq),
			)
		}
	}
	h.metrics.MessageSent(string(msg.Type))
	return delivered
}

// Disconnect closes every live connection with the given close code and
// reason. It returns the number of connections closed.
func (h *Hub) Disconnect(code int, reason string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for client := range h.clients {
		client.closeCode = code
		client.closeReason = reason
		if h.removeLocked(client) {
			n++
		}
	}
	return n
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
