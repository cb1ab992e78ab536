package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/ratelimit"
)

// Client represents a WebSocket client connection in the chat system. It is
// the chat.Conn of one browser: events are marshalled on Send, queued on a
// bounded channel and written one frame each by writePump.
type Client struct {
	id        string
	conn      *websocket.Conn
	server    *Server
	addr      string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *ratelimit.Limiter
	logger    zerolog.Logger

	mu      sync.Mutex
	session *chat.Session
}

// NewClient creates a Client for an upgraded connection. The send channel
// is bounded by the configured buffer; a client that falls that far behind
// is dropped by the hub.
func NewClient(conn *websocket.Conn, s *Server, addr string) *Client {
	cfg := s.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.New().String()

	return &Client{
		id:      id,
		conn:    conn,
		server:  s,
		addr:    addr,
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
		limiter: ratelimit.New(cfg.RateBurst, cfg.RateRefill),
		logger: s.logger.With().
			Str("conn_id", id).
			Str("client_addr", addr).
			Logger(),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) RemoteAddr() string { return c.addr }

// Send queues env as one {"event", "data"} frame without blocking.
func (c *Client) Send(env chat.Envelope) error {
	payload, err := json.Marshal(outboundFrame{Event: env.Event, Data: env.Payload()})
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Event, err)
	}

	select {
	case <-c.done:
		return chat.ErrTransportClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return chat.ErrDeliveryFailure
	}
}

// Close stops accepting sends. writePump flushes what is queued, sends a
// close frame and closes the socket.
func (c *Client) Close() error {
	err := chat.ErrTransportClosed
	c.closeOnce.Do(func() {
		close(c.done)
		err = nil
	})
	return err
}

// Session returns the chat session bound to the client, or nil before the
// username was accepted.
func (c *Client) Session() *chat.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) bind(sess *chat.Session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	pongWait := c.server.cfg.PongWait
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the read error at a level matching its cause and
// returns the disconnect reason recorded for the session.
func (c *Client) handleReadError(err error) string {
	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn().Int64("limit", c.server.cfg.MaxMessageSize).Msg("message exceeded maximum size")
		return "message too large"
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		c.logger.Info().Err(err).Msg("client disconnected")
		return "client disconnected"
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Info().Err(err).Msg("client connection closed")
		return "connection closed"
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Warn().Err(err).Msg("unexpected websocket close")
		return "unexpected close"
	}

	c.logger.Warn().Err(err).Msg("websocket read error")
	return "read error"
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.limiter.Allow() {
		return true
	}
	c.logger.Warn().
		Int("burst", c.server.cfg.RateBurst).
		Dur("refill", c.server.cfg.RateRefill).
		Msg("rate limit exceeded; discarding message")
	_ = c.server.hub.SendTo(c.Session(), chat.Warning(chat.ErrRateLimited))
	return false
}

// readPump drives the session: it reads client events until the connection
// fails, then tears the session down through the hub.
func (c *Client) readPump() {
	reason := "connection closed"
	defer func() {
		if !c.server.hub.Disconnect(c, reason) {
			_ = c.Close()
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			reason = c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		if err := c.server.router.Dispatch(c, raw); errors.Is(err, chat.ErrDeliveryFailure) {
			reason = "delivery failure"
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
		_ = c.Close()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-ticker.C:
		return c.handlePing()
	case <-c.done:
		c.flush()
		c.writeCloseMessage()
		return false
	}
}

// flush writes whatever was queued before Close.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			if !c.writeTextMessage(message) {
				return
			}
		default:
			return
		}
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("error closing connection in writePump")
	}
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteWait)); err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("error writing close message")
	}
}

// writeTextMessage writes one event as its own text frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting write deadline")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error writing ping message")
		}
		return false
	}
	return true
}
