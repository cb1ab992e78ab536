package tcpserver

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// lineConn is the chat.Conn of one TCP client. Sends are queued on a bounded
// channel and written by a single writer goroutine, so texts reach the peer
// in the order they were queued.
type lineConn struct {
	id        string
	raw       net.Conn
	send      chan string
	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	writeWait time.Duration
	logger    zerolog.Logger
}

func newLineConn(raw net.Conn, buffer int, writeWait time.Duration, logger zerolog.Logger) *lineConn {
	id := uuid.New().String()
	return &lineConn{
		id:        id,
		raw:       raw,
		send:      make(chan string, buffer),
		done:      make(chan struct{}),
		closed:    make(chan struct{}),
		writeWait: writeWait,
		logger:    logger.With().Str("conn_id", id).Str("client_addr", raw.RemoteAddr().String()).Logger(),
	}
}

func (c *lineConn) ID() string { return c.id }

func (c *lineConn) RemoteAddr() string { return c.raw.RemoteAddr().String() }

// Send queues the line form of env. Envelopes with nothing to show on a
// line transport are dropped silently.
func (c *lineConn) Send(env chat.Envelope) error {
	line := env.Line()
	if line == "" {
		return nil
	}
	return c.enqueue(line)
}

func (c *lineConn) enqueue(text string) error {
	select {
	case <-c.done:
		return chat.ErrTransportClosed
	default:
	}
	select {
	case c.send <- text:
		return nil
	default:
		return chat.ErrDeliveryFailure
	}
}

// Close stops accepting sends. The writer flushes what is already queued
// and then closes the socket.
func (c *lineConn) Close() error {
	err := chat.ErrTransportClosed
	c.closeOnce.Do(func() {
		close(c.done)
		err = nil
	})
	return err
}

// wait blocks until the socket is closed.
func (c *lineConn) wait() {
	<-c.closed
}

func (c *lineConn) writePump() {
	defer func() {
		_ = c.raw.Close()
		close(c.closed)
	}()

	for {
		select {
		case text := <-c.send:
			if !c.write(text) {
				_ = c.Close()
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

func (c *lineConn) flush() {
	for {
		select {
		case text := <-c.send:
			if !c.write(text) {
				return
			}
		default:
			return
		}
	}
}

func (c *lineConn) write(text string) bool {
	if err := c.raw.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("failed to set write deadline")
		return false
	}
	if _, err := c.raw.Write([]byte(text)); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("write failed")
		}
		return false
	}
	return true
}
