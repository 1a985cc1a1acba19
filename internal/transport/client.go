// Package transport maintains the single duplex WebSocket connection between
// the client and the tutor backend.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/tutor-client/internal/observability"
	"github.com/lexiqai/tutor-client/internal/protocol"
	"github.com/lexiqai/tutor-client/internal/resilience"
)

// Status is the connection lifecycle state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

const writeTimeout = 10 * time.Second

// Config describes where and how to connect.
type Config struct {
	URL string
	// SampleRate is sent as the sampleRate query parameter when positive.
	SampleRate     int
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
}

// Client owns at most one live socket. Inbound messages are decoded on a
// single read goroutine and handed to the message handler in arrival order.
type Client struct {
	cfg       Config
	dialer    *websocket.Dialer
	reconnect *resilience.ReconnectScheduler
	logger    zerolog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	status    Status
	conn      *websocket.Conn
	epoch     uint64
	wanted    bool
	baseCtx   context.Context
	onMessage func(protocol.Message)
	onStatus  func(Status)
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		}
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	return &Client{
		cfg:       cfg,
		dialer:    dialer,
		reconnect: resilience.NewReconnectScheduler(cfg.ReconnectDelay),
		logger:    logger.With().Str("component", "transport").Logger(),
		status:    StatusDisconnected,
	}
}

// OnMessage registers the inbound message handler.
func (c *Client) OnMessage(fn func(protocol.Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnStatus registers the status change handler.
func (c *Client) OnStatus(fn func(Status)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) Connected() bool {
	return c.Status() == StatusConnected
}

// Endpoint returns the URL dialed, including the sampleRate parameter.
func (c *Client) Endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	if c.cfg.SampleRate > 0 {
		q := u.Query()
		q.Set("sampleRate", strconv.Itoa(c.cfg.SampleRate))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect starts a connection attempt and returns immediately. It is a no-op
// while an attempt is in flight or a connection is live. ctx bounds this
// attempt and every automatic reconnection after it.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.status == StatusConnecting || c.status == StatusConnected {
		c.mu.Unlock()
		return
	}
	c.wanted = true
	c.baseCtx = ctx
	c.epoch++
	epoch := c.epoch
	notify := c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	notify()
	go c.dial(ctx, epoch)
}

func (c *Client) dial(ctx context.Context, epoch uint64) {
	endpoint, err := c.Endpoint()
	var conn *websocket.Conn
	if err == nil {
		conn, _, err = c.dialer.DialContext(ctx, endpoint, nil)
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		notify := c.setStatusLocked(StatusError)
		c.mu.Unlock()

		observability.RecordError("dial", "transport")
		c.logger.Warn().Err(err).Str("url", c.cfg.URL).Msg("WebSocket connection failed")
		notify()
		c.scheduleReconnect()
		return
	}
	c.conn = conn
	notify := c.setStatusLocked(StatusConnected)
	c.mu.Unlock()

	c.logger.Info().Str("url", endpoint).Msg("WebSocket connected")
	notify()
	go c.readLoop(conn, epoch)
}

func (c *Client) readLoop(conn *websocket.Conn, epoch uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(epoch, err)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			observability.RecordError("decode", "transport")
			c.logger.Warn().Err(err).Msg("Ignoring undecodable message")
			continue
		}
		observability.RecordMessage("in", string(msg.MessageType()))

		c.mu.Lock()
		live := epoch == c.epoch
		handler := c.onMessage
		c.mu.Unlock()
		if !live {
			return
		}
		if handler != nil {
			handler(msg)
		}
	}
}

func (c *Client) handleClose(epoch uint64, err error) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	next := StatusError
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		next = StatusDisconnected
	}
	notify := c.setStatusLocked(next)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if next == StatusError {
		observability.RecordError("connection_lost", "transport")
		c.logger.Warn().Err(err).Msg("WebSocket closed unexpectedly")
	} else {
		c.logger.Info().Msg("WebSocket closed by server")
	}
	notify()
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	armed := c.reconnect.Schedule(func() {
		c.mu.Lock()
		wanted, ctx := c.wanted, c.baseCtx
		c.mu.Unlock()
		if !wanted || ctx == nil || ctx.Err() != nil {
			return
		}
		observability.RecordReconnect()
		c.logger.Info().Msg("Reconnecting")
		c.Connect(ctx)
	})
	if armed {
		c.logger.Info().Dur("delay", c.reconnect.Delay()).Msg("Reconnect scheduled")
	}
}

// Disconnect closes the socket and cancels any pending reconnection.
func (c *Client) Disconnect() {
	c.reconnect.Cancel()

	c.mu.Lock()
	c.wanted = false
	c.epoch++
	conn := c.conn
	c.conn = nil
	notify := c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	notify()
}

// Send writes msg if connected. Otherwise it logs a warning and returns
// false; nothing is queued.
func (c *Client) Send(msg protocol.Message) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if conn == nil || !connected {
		c.logger.Warn().Str("type", string(msg.MessageType())).Msg("Not connected, dropping outbound message")
		return false
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		observability.RecordError("encode", "transport")
		c.logger.Error().Err(err).Msg("Failed to encode message")
		return false
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		observability.RecordError("write", "transport")
		c.logger.Warn().Err(err).Msg("Failed to send message")
		return false
	}

	observability.RecordMessage("out", string(msg.MessageType()))
	return true
}

// setStatusLocked updates the status and returns a func that notifies the
// handler. The func must be called after c.mu is released.
func (c *Client) setStatusLocked(s Status) func() {
	if c.status == s {
		return func() {}
	}
	c.status = s
	observability.SetTransportStatus(int(s))
	handler := c.onStatus
	return func() {
		if handler != nil {
			handler(s)
		}
	}
}
