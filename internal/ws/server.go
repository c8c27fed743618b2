package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/KeshavSoni17/halo-backend/pkg/errors"
	"github.com/KeshavSoni17/halo-backend/pkg/logger"
	"github.com/KeshavSoni17/halo-backend/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Options configures accepted connections
type Options struct {
	SendBuffer     int
	InboxSize      int
	MaxMessageSize int64
	AllowedOrigins []string
	AllowAnyOrigin bool
}

// Server upgrades HTTP requests into hub connections
type Server struct {
	ctx        context.Context
	hub        *Hub
	dispatcher Dispatcher
	limiter    AudioLimiter
	opts       Options
	upgrader   websocket.Upgrader
	log        *logger.Logger
}

// NewServer creates a WebSocket server. Dispatch runs under ctx.
func NewServer(ctx context.Context, hub *Hub, dispatcher Dispatcher, limiter AudioLimiter, opts Options, log *logger.Logger) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 256
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 1 << 20
	}

	s := &Server{
		ctx:        ctx,
		hub:        hub,
		dispatcher: dispatcher,
		limiter:    limiter,
		opts:       opts,
		log:        log.WithComponent("ws"),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:      s.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.opts.AllowAnyOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// ServeWs handles GET /ws?user_id=...
func (s *Server) ServeWs(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		userID = c.GetHeader(logger.UserIDHeader)
	}
	if userID == "" {
		_ = c.Error(errors.NewValidationError("user_id is required"))
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.LogError(err, "failed to upgrade connection", "user_id", userID)
		return
	}

	client := s.newClient(conn, userID)
	s.hub.Register(userID, client)
	client.log.Info("connection opened", "connections", s.hub.Count(userID))

	go client.WritePump()
	go client.DispatchLoop(s.ctx)
	go client.ReadPump()
}

func (s *Server) newClient(conn *websocket.Conn, userID string) *Client {
	id := uuid.New().String()
	client := &Client{
		id:             id,
		conn:           conn,
		hub:            s.hub,
		dispatcher:     s.dispatcher,
		limiter:        s.limiter,
		log:            s.log.WithUserID(userID).WithConnectionID(id),
		maxMessageSize: s.opts.MaxMessageSize,
		send:           make(chan []byte, s.opts.SendBuffer),
		inbox:          make(chan ws.Message, s.opts.InboxSize),
		done:           make(chan struct{}),
	}
	client.session = NewSession(client, userID)
	return client
}
