package wsserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/calldeck/calldeck/internal/auth"
	"github.com/calldeck/calldeck/internal/protocol"
	"github.com/calldeck/calldeck/internal/registry"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Outbound envelope buffer per connection.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server upgrades streaming connections and pumps envelopes between the
// websocket and the session registry.
type Server struct {
	registry *registry.Registry
	verifier *auth.Verifier
	logger   *zap.Logger
}

func New(reg *registry.Registry, verifier *auth.Verifier, logger *zap.Logger) *Server {
	return &Server{registry: reg, verifier: verifier, logger: logger}
}

// Handle serves GET /ws/:session_id.
func (s *Server) Handle(c echo.Context) error {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	if s.verifier.Enabled() {
		if err := s.authorize(c); err != nil {
			s.logger.Warn("Rejected unauthorized connection",
				zap.String("sessionID", sessionID),
				zap.Error(err))
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", zap.Error(err))
		return err
	}

	cl := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: s.logger.With(zap.String("sessionID", sessionID)),
	}
	go cl.writePump()

	call, err := s.registry.Accept(c.Request().Context(), sessionID, cl)
	if err != nil {
		cl.Send(protocol.NewError(err.Error()))
		cl.shutdown()
		return nil
	}

	cl.readPump(call)
	return nil
}

// authorize accepts the token from the Authorization header or, since
// browser websocket clients cannot set headers, a token query parameter.
func (s *Server) authorize(c echo.Context) error {
	token := c.QueryParam("token")
	if header := c.Request().Header.Get("Authorization"); header != "" {
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token == "" {
		return fmt.Errorf("no token presented")
	}
	_, err := s.verifier.ValidateCallToken(token)
	return err
}

// client is the middleman between one websocket connection and its call.
type client struct {
	conn   *websocket.Conn
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// Send queues an envelope for the write pump. It never blocks: a full
// buffer means the peer is not draining and the envelope is dropped.
func (c *client) Send(env protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// shutdown closes the outbound channel exactly once; the write pump drains
// it and closes the connection.
func (c *client) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// readPump pumps messages from the websocket into the call until the
// connection drops or the peer closes.
func (c *client) readPump(call *registry.Call) {
	defer func() {
		c.shutdown()
		call.HandleDisconnect(context.Background())
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Unexpected connection close", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			call.HandleAudio(data)
		case websocket.TextMessage:
			c.handleText(call, data)
		}
	}
}

func (c *client) handleText(call *registry.Call, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.logger.Warn("Dropping undecodable message", zap.Error(err))
		c.Send(protocol.NewError("malformed message: " + err.Error()))
		return
	}

	switch env.Type {
	case protocol.TypeAudio:
		audio, err := env.DecodeAudio()
		if err != nil {
			c.Send(protocol.NewError("malformed audio payload: " + err.Error()))
			return
		}
		call.HandleAudio(audio)
	case protocol.TypePing:
		call.HandlePing(env)
	case protocol.TypeStop:
		// The peer keeps the socket open until the stopped confirmation
		// arrives, so the read loop continues until it closes.
		call.HandleStop(context.Background())
	default:
		c.logger.Debug("Ignoring client envelope",
			zap.String("type", string(env.Type)))
	}
}

// writePump pumps queued envelopes to the websocket and keeps the
// connection alive with protocol-level pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
