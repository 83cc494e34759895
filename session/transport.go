package session

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zlnvch/layerlink/models"
)

const writeWait = 10 * time.Second

// Conn is one established connection to the relay server. Reads and writes
// each happen on a single goroutine.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(message []byte) error
	// WriteClose sends a normal closure frame.
	WriteClose() error
	Close() error
}

// Transport opens connections. The session redials through it on every
// reconnect.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// DefaultDialer is gorilla's default dialer without compression.
var DefaultDialer = &websocket.Dialer{
	Proxy:            websocket.DefaultDialer.Proxy,
	HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
}

// WebsocketTransport dials the relay's /ws endpoint.
type WebsocketTransport struct {
	URL string
	// Token is the signed identity, required when the server has an
	// identity secret.
	Token  string
	Header http.Header
	Dialer *websocket.Dialer
}

func (t *WebsocketTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := DefaultDialer
	if t.Dialer != nil {
		dialer = t.Dialer
	}
	d := *dialer
	d.Subprotocols = []string{models.Subprotocol}
	if t.Token != "" {
		d.Subprotocols = append(d.Subprotocols, t.Token)
	}

	conn, res, err := d.DialContext(ctx, t.URL, t.Header)
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(models.MaxServerMessageSize)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, message, err := c.conn.ReadMessage()
	return message, err
}

func (c *wsConn) WriteMessage(message []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

func (c *wsConn) WriteClose() error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
