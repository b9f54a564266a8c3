package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/calldeck/calldeck/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// DefaultBaseDelay is the linear backoff unit between reconnect attempts.
	DefaultBaseDelay = time.Second

	// DefaultMaxAttempts bounds reconnection under a sustained outage.
	DefaultMaxAttempts = 5
)

// Options configures a Channel.
type Options struct {
	// ServerURL is the WebSocket base URL, e.g. "ws://localhost:8080".
	ServerURL string

	// Token is an optional call token sent as a bearer Authorization header.
	Token string

	BaseDelay   time.Duration
	MaxAttempts int

	Logger *zap.Logger
}

// Channel owns one full-duplex connection to the streaming server. It is
// constructed per call and never shared between sessions. All state
// transitions happen under a single mutex; reads run on one goroutine per
// underlying connection.
type Channel struct {
	opts       Options
	dispatcher *Dispatcher
	logger     *zap.Logger

	// dialFn is swapped out in tests to drive the reconnect state machine
	// without a network.
	dialFn func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	sessionID      string
	intentional    bool
	attempts       int
	reconnectTimer *time.Timer

	writeMu sync.Mutex

	bytesSent  atomic.Int64
	chunksSent atomic.Int64
}

// NewChannel creates a disconnected channel in the Idle state.
func NewChannel(opts Options) *Channel {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Channel{
		opts:       opts,
		logger:     opts.Logger,
		dispatcher: NewDispatcher(opts.Logger),
		state:      StateIdle,
		dialFn: func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
			return conn, err
		},
	}
}

// On registers a handler for inbound envelopes of type t. The returned
// function removes the handler.
func (c *Channel) On(t protocol.Type, fn Handler) func() {
	return c.dispatcher.On(t, fn)
}

// Connect dials the server for the given session identifier and returns once
// the channel is Open. It fails without scheduling retries if the connection
// never opens; the reconnection policy only covers drops of an established
// connection.
func (c *Channel) Connect(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect from state %s", state)
	}
	c.sessionID = sessionID
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return fmt.Errorf("failed to connect session %s: %w", sessionID, err)
	}

	c.adopt(conn)
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	url := strings.TrimRight(c.opts.ServerURL, "/") + "/ws/" + sessionID

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	return c.dialFn(ctx, url, header)
}

// adopt installs an open connection and starts its read loop.
func (c *Channel) adopt(conn *websocket.Conn) {
	c.mu.Lock()
	if c.intentional {
		// Disconnect raced a reconnect dial; the intentional close wins.
		c.state = StateClosed
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("Channel open", zap.String("sessionID", c.sessionID))
	go c.readLoop(conn)
}

// Send transmits env as a JSON text frame. When the channel is not Open the
// send is a logged no-op: nothing is queued or retried. Callers that need
// guaranteed delivery must check State first.
func (c *Channel) Send(env protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		c.logger.Debug("Dropping send on non-open channel",
			zap.String("type", string(env.Type)),
			zap.String("state", c.State().String()))
		return nil
	}

	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	return nil
}

// SendBinary transmits an audio chunk as a binary frame, bypassing JSON
// encoding. Like Send, it is a logged no-op when the channel is not Open.
func (c *Channel) SendBinary(chunk []byte) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		c.logger.Debug("Dropping binary send on non-open channel",
			zap.Int("bytes", len(chunk)))
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("failed to write audio chunk: %w", err)
	}
	c.bytesSent.Add(int64(len(chunk)))
	c.chunksSent.Add(1)
	return nil
}

// Disconnect closes the channel intentionally: a best-effort stop envelope,
// then Closing → Closed. Any pending reconnect timer is cancelled; an
// intentional close always wins over a scheduled reconnect attempt.
// Disconnect is idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.state == StateClosed && c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.intentional = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	if conn != nil {
		c.state = StateClosing
	}
	c.mu.Unlock()

	if conn != nil {
		stop, _ := protocol.NewStop().Encode()
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, stop)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	c.logger.Info("Channel closed", zap.String("sessionID", c.sessionID))
}

// readLoop decodes inbound frames from one connection and fans them out.
// It exits when the connection drops and decides whether that drop triggers
// the reconnection policy.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			env, err := protocol.Decode(data)
			if err != nil {
				c.logger.Warn("Dropping undecodable frame", zap.Error(err))
				continue
			}
			c.dispatcher.Dispatch(env)
		case websocket.BinaryMessage:
			// The server does not stream audio back on this protocol.
			c.logger.Debug("Dropping unexpected binary frame",
				zap.Int("bytes", len(data)))
		}
	}
}

// handleClose runs the reconnect state machine for an observed drop of conn.
func (c *Channel) handleClose(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection (or an intentional Disconnect) already
		// superseded this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil

	if c.intentional {
		c.state = StateClosed
		c.mu.Unlock()
		return
	}

	if c.attempts >= c.opts.MaxAttempts {
		c.state = StateClosed
		c.mu.Unlock()
		c.logger.Error("Reconnect attempts exhausted",
			zap.String("sessionID", c.sessionID),
			zap.Int("attempts", c.opts.MaxAttempts),
			zap.Error(cause))
		c.dispatcher.Dispatch(protocol.NewError("connection lost: reconnect attempts exhausted"))
		return
	}

	c.attempts++
	attempt := c.attempts
	delay := c.opts.BaseDelay * time.Duration(attempt)
	c.state = StateConnecting
	c.reconnectTimer = time.AfterFunc(delay, c.attemptReconnect)
	c.mu.Unlock()

	c.logger.Warn("Connection dropped, scheduling reconnect",
		zap.String("sessionID", c.sessionID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(cause))
}

func (c *Channel) attemptReconnect() {
	c.mu.Lock()
	if c.intentional || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		// Counts as another unintentional failure; the state machine
		// either schedules the next attempt or settles into Closed.
		c.handleDialFailure(err)
		return
	}
	c.adopt(conn)
}

func (c *Channel) handleDialFailure(cause error) {
	c.mu.Lock()
	if c.intentional {
		c.state = StateClosed
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.opts.MaxAttempts {
		c.state = StateClosed
		c.mu.Unlock()
		c.logger.Error("Reconnect attempts exhausted",
			zap.String("sessionID", c.sessionID),
			zap.Int("attempts", c.opts.MaxAttempts),
			zap.Error(cause))
		c.dispatcher.Dispatch(protocol.NewError("connection lost: reconnect attempts exhausted"))
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.opts.BaseDelay * time.Duration(attempt)
	c.reconnectTimer = time.AfterFunc(delay, c.attemptReconnect)
	c.mu.Unlock()

	c.logger.Warn("Reconnect attempt failed",
		zap.Int("attempt", attempt),
		zap.Duration("nextDelay", delay),
		zap.Error(cause))
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the identifier this channel was connected with.
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// BytesSent returns the cumulative audio bytes written to the wire.
func (c *Channel) BytesSent() int64 {
	return c.bytesSent.Load()
}

// ChunksSent returns the cumulative audio chunks written to the wire.
func (c *Channel) ChunksSent() int64 {
	return c.chunksSent.Load()
}
