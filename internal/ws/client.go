package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/KeshavSoni17/halo-backend/pkg/logger"
	"github.com/KeshavSoni17/halo-backend/pkg/ws"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
)

var (
	ErrConnectionClosed = stderrors.New("connection closed")
	ErrSendBufferFull   = stderrors.New("send buffer full")
)

// Session is what a dispatcher knows about the connection a message came
// from. It remembers the visit the connection last started or resumed so
// audio chunks may omit the visit ID.
type Session struct {
	Conn   Connection
	UserID string

	mu      sync.Mutex
	visitID string
}

// NewSession creates a session for conn
func NewSession(conn Connection, userID string) *Session {
	return &Session{Conn: conn, UserID: userID}
}

// VisitID returns the connection's active visit
func (s *Session) VisitID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visitID
}

// SetVisitID records the connection's active visit
func (s *Session) SetVisitID(id string) {
	s.mu.Lock()
	s.visitID = id
	s.mu.Unlock()
}

// Dispatcher handles inbound control messages. Calls for one connection are
// made one at a time in arrival order.
type Dispatcher interface {
	Dispatch(ctx context.Context, s *Session, msg ws.Message)
}

// AudioLimiter throttles audio chunks per connection
type AudioLimiter interface {
	Allow(key string) bool
	Forget(key string)
}

// Client is a gorilla connection registered with the hub
type Client struct {
	id         string
	conn       *websocket.Conn
	hub        *Hub
	session    *Session
	dispatcher Dispatcher
	limiter    AudioLimiter
	log        *logger.Logger

	maxMessageSize int64

	send  chan []byte
	inbox chan ws.Message

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

// ID returns the connection ID
func (c *Client) ID() string {
	return c.id
}

// Send queues ev for the write pump. It never blocks; a full buffer is an
// error so a stuck client cannot stall broadcasts to the others.
func (c *Client) Send(ev ws.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the pumps. Safe to call more than once.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// ReadPump reads control messages until the peer goes away
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c.session.UserID, c)
		if c.limiter != nil {
			c.limiter.Forget(c.id)
		}
		_ = c.Close()
		c.conn.Close()
		c.log.Info("connection closed")
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.LogError(err, "unexpected close")
			}
			return
		}

		var msg ws.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("invalid message", "error", err)
			c.hub.ToSender(c, ws.NewErrorEvent("invalid message: "+err.Error()))
			continue
		}

		if msg.Type == ws.TypeAudioChunk && c.limiter != nil && !c.limiter.Allow(c.id) {
			c.hub.ToSender(c, ws.NewErrorEvent("audio rate limit exceeded, chunk dropped"))
			continue
		}

		select {
		case c.inbox <- msg:
		default:
			c.log.Warn("inbox full, dropping message", "type", msg.Type)
			c.hub.ToSender(c, ws.NewErrorEvent("server busy, "+msg.Type+" dropped"))
		}
	}
}

// DispatchLoop hands queued messages to the dispatcher in order. Handlers run
// under ctx rather than the connection's lifetime, so a visit that is
// finishing keeps generating its note after the client disconnects.
func (c *Client) DispatchLoop(ctx context.Context) {
	for {
		select {
		case msg := <-c.inbox:
			c.dispatcher.Dispatch(ctx, c.session, msg)
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// WritePump writes queued events and keeps the connection alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
