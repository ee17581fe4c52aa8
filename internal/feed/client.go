package feed

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// The feed is server->client only; client frames are read and discarded.
	maxMessageSize = 4 * 1024

	// Send buffer size per client.
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is one encoded message queued for a subscriber.
type frame struct {
	msgType wire.MessageType
	seq     uint64
	payload []byte
}

// Client is one realtime subscriber. conn is nil for SSE subscribers.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan frame
	connID    string
	transport string
	protocol  wire.Protocol
	logger    *zap.Logger

	// Set by the hub before send is closed.
	closeCode   int
	closeReason string
}

func (h *Hub) newClient(conn *websocket.Conn, transport string, protocol wire.Protocol) *Client {
	return &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan frame, sendBufferSize),
		connID:    uuid.New().String(),
		transport: transport,
		protocol:  protocol,
		logger:    h.logger,
	}
}

// HandleWS upgrades the request to a websocket and streams the feed.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	requested := websocket.Subprotocols(r)
	protocol, echo := wire.NegotiateProtocol(requested)

	var responseHeader http.Header
	if echo != "" {
		responseHeader = http.Header{"Sec-WebSocket-Protocol": {echo}}
	}

	h.logger.Debug("websocket subprotocol negotiated",
		zap.String("protocol", string(protocol)),
		zap.Strings("requested", requested),
	)

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := h.newClient(conn, transportWS, protocol)
	if !h.join(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseGoingAway, ShutdownReason),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection so control frames are processed and a
// closed peer is noticed.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			return
		}
	}
}

// writePump writes queued frames and pings. When the hub closes send, it
// writes a close frame carrying the hub's code and reason.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.TextMessage
	if c.protocol == wire.ProtocolProtobuf {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				code := c.closeCode
				if code == 0 {
					code = websocket.CloseNormalClosure
				}
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, c.closeReason))
				return
			}
			if err := c.conn.WriteMessage(msgType, f.payload); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
