package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/zlnvch/layerlink/metrics"
	"github.com/zlnvch/layerlink/models"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Rate limiting: 20 messages per second with a burst of 30
	messagesPerSecond = 20
	burstLimit        = 30

	sendBuffer = 128
)

type MessageHandler func(client *Client, messageBytes []byte)

func NewClient(conn *websocket.Conn, identity *models.User, handler MessageHandler, m *metrics.Metrics) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		identity: identity,
		handler:  handler,
		metrics:  m,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		limiter:  rate.NewLimiter(rate.Limit(messagesPerSecond), burstLimit),
	}
	if identity != nil {
		c.user = *identity
	}
	return c
}

// Client is a middleman between the websocket connection and the relay. It
// is the relay subscriber of the document it is joined to.
type Client struct {
	conn     *websocket.Conn
	identity *models.User
	handler  MessageHandler
	metrics  *metrics.Metrics
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	limiter  *rate.Limiter

	mu         sync.Mutex
	user       models.User
	documentId string
}

func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user.Id
}

func (c *Client) User() models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Client) setUser(user models.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
}

func (c *Client) DocumentId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.documentId
}

func (c *Client) setDocumentId(documentId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.documentId = documentId
}

// Deliver queues a message without blocking; a full buffer drops it.
func (c *Client) Deliver(message []byte) bool {
	select {
	case <-c.done:
		return false
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Close ends the connection from the server side, e.g. when a newer
// connection of the same user supersedes it.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) sendEvent(ev models.Event) {
	message, err := models.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("eventType", string(ev.EventType())).Msg("Failed to encode event")
		return
	}
	if !c.Deliver(message) {
		log.Debug().Str("userId", c.UserID()).Str("eventType", string(ev.EventType())).Msg("Client buffer full, event dropped")
	}
}

// ReadPump reads until the connection fails and then runs teardown, so the
// document is always left when the connection goes away.
func (c *Client) ReadPump(teardown func(*Client)) {
	defer func() {
		c.cancel()
		c.conn.Close()
		teardown(c)
	}()

	c.conn.SetReadLimit(models.MaxClientMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("userId", c.UserID()).Msg("WS close error")
			}
			break
		}

		if !c.limiter.Allow() {
			c.metrics.AddRejected(models.CodeRateLimited)
			c.reject(models.CodeRateLimited, "message rate limit exceeded")
			continue
		}

		c.handler(c, messageBytes)
	}
}

func (c *Client) reject(code string, message string) {
	log.Warn().Str("userId", c.UserID()).Str("code", code).Msg(message)
	c.sendEvent(models.Error{Code: code, Message: message})
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("userId", c.UserID()).Msg("WS send error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Superseded by another connection"),
			)
			return

		case <-shutdownCtx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Websocket service shutting down"),
			)
			return
		}
	}
}
