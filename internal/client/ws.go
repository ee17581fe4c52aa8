package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/wire"
)

const (
	// Three missed heartbeats mark the link dead.
	feedIdleTimeout = 35 * time.Second
	closeWait       = time.Second
)

// FeedURL derives the websocket feed address from the API base URL.
func FeedURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/advisor-availability"
}

// WSDialer opens websocket feed connections.
type WSDialer struct {
	url      string
	protocol wire.Protocol
	codec    *wire.Codec
	dialer   *websocket.Dialer
	header   http.Header
	logger   *zap.Logger
}

func NewWSDialer(url string, protocol wire.Protocol, codec *wire.Codec, logger *zap.Logger) *WSDialer {
	sub := wire.SubprotocolJSON
	if protocol == wire.ProtocolProtobuf {
		sub = wire.SubprotocolProtobuf
	}
	return &WSDialer{
		url:      url,
		protocol: protocol,
		codec:    codec,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			Subprotocols:     []string{sub},
		},
		header: http.Header{},
		logger: logger,
	}
}

func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("dial %s: %w", d.url, ErrFeedDisabled)
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}

	protocol := wire.ProtocolFor(conn.Subprotocol())
	d.logger.Debug("feed connected",
		zap.String("url", d.url),
		zap.String("protocol", string(protocol)),
	)
	return &wsConn{conn: conn, codec: d.codec, protocol: protocol, logger: d.logger}, nil
}

type wsConn struct {
	conn     *websocket.Conn
	codec    *wire.Codec
	protocol wire.Protocol
	logger   *zap.Logger
}

func (c *wsConn) Next() (wire.Message, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(feedIdleTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseServiceRestart) {
			c.logger.Info("feed closed for service restart")
		}
		return wire.Message{}, err
	}
	msg, err := c.codec.Decode(c.protocol, data)
	if err != nil {
		return wire.Message{}, &ProtocolError{Err: err}
	}
	return msg, nil
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWait))
	return c.conn.Close()
}
