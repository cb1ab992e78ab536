// Package tcpserver is the line transport: it accepts raw TCP clients,
// negotiates a username and feeds each input line to the command
// dispatcher.
package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/command"
	"github.com/Tyrowin/roomchat/internal/ratelimit"
)

// Prompts sent while negotiating a username.
const (
	UsernamePrompt = "Enter your username: "
	WelcomeText    = "✅ You are now connected to the chat server."
	HintText       = "Type /help for a list of commands."
)

// Config configures the line transport.
type Config struct {
	Addr           string
	MaxLineLength  int
	SendBuffer     int
	WriteWait      time.Duration
	RateBurst      int
	RateRefill     time.Duration
	AcceptBackoff  time.Duration
	NegotiateLimit int
}

func (c Config) sanitized() Config {
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = 1024
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 5
	}
	if c.RateRefill <= 0 {
		c.RateRefill = time.Second
	}
	if c.AcceptBackoff <= 0 {
		c.AcceptBackoff = 50 * time.Millisecond
	}
	if c.NegotiateLimit <= 0 {
		c.NegotiateLimit = 10
	}
	return c
}

// Server accepts line-transport clients.
type Server struct {
	cfg        Config
	hub        *chat.Hub
	dispatcher *command.Dispatcher
	logger     zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[*lineConn]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// New creates a server; call Listen and then Serve.
func New(cfg Config, hub *chat.Hub, dispatcher *command.Dispatcher, logger zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg.sanitized(),
		hub:        hub,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "tcp").Logger(),
		conns:      make(map[*lineConn]struct{}),
	}
}

// Listen binds the listening socket. Failing to bind is the one fatal error
// of the service, so it is done synchronously before serving.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("line transport listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("tcpserver: Serve called before Listen")
	}

	for {
		raw, err := ln.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.AcceptBackoff):
			}
			continue
		}

		conn := newLineConn(raw, s.cfg.SendBuffer, s.cfg.WriteWait, s.logger)
		if !s.track(conn) {
			_ = raw.Close()
			continue
		}
		go conn.writePump()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			newDriver(s, conn).run()
		}()
	}
}

func (s *Server) track(conn *lineConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *lineConn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Shutdown closes the listener and every connection still open, then waits
// for the lifecycle drivers to finish or ctx to expire. Sessions should be
// torn down through the hub first so clients hear why they are dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	ln := s.listener
	conns := make([]*lineConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("close listener: %w", cerr)
		}
	}
	for _, c := range conns {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("line transport stopped")
		return err
	case <-ctx.Done():
		for _, c := range conns {
			_ = c.raw.Close()
		}
		return fmt.Errorf("line transport shutdown: %w", ctx.Err())
	}
}

// State is a stage of a connection's lifecycle.
type State int

const (
	StateConnecting State = iota
	StateNegotiating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// driver runs one connection from accept to close.
type driver struct {
	srv     *Server
	conn    *lineConn
	scanner *bufio.Scanner
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
	state   State
	sess    *chat.Session
}

func newDriver(s *Server, conn *lineConn) *driver {
	scanner := bufio.NewScanner(conn.raw)
	// Room for the line plus its CRLF terminator. The initial capacity
	// counts toward the limit, so it must not exceed it.
	limit := s.cfg.MaxLineLength + 2
	scanner.Buffer(make([]byte, 0, min(limit, 4096)), limit)
	return &driver{
		srv:     s,
		conn:    conn,
		scanner: scanner,
		limiter: ratelimit.New(s.cfg.RateBurst, s.cfg.RateRefill),
		logger:  conn.logger,
		state:   StateConnecting,
	}
}

func (d *driver) transition(next State) {
	d.logger.Debug().Stringer("from", d.state).Stringer("to", next).Msg("connection state changed")
	d.state = next
}

func (d *driver) run() {
	d.logger.Info().Msg("client connected")
	var reason string

	d.transition(StateNegotiating)
	sess, err := d.negotiate()
	if err == nil {
		d.sess = sess
		d.transition(StateActive)
		reason = d.serve()
	} else {
		reason = err.Error()
	}

	d.transition(StateClosing)
	if d.sess != nil {
		d.srv.hub.Disconnect(d.conn, reason)
	}
	_ = d.conn.Close()
	d.conn.wait()
	d.transition(StateClosed)
	d.logger.Info().Str("reason", reason).Msg("client disconnected")
}

// negotiate prompts until a free username is registered.
func (d *driver) negotiate() (*chat.Session, error) {
	for attempt := 0; attempt < d.srv.cfg.NegotiateLimit; attempt++ {
		if err := d.conn.enqueue(UsernamePrompt); err != nil {
			return nil, err
		}
		if !d.scanner.Scan() {
			return nil, d.readError()
		}

		sess, err := d.srv.hub.Connect(d.conn, d.scanner.Text())
		switch {
		case err == nil:
			_ = d.conn.Send(chat.Status(WelcomeText))
			_ = d.conn.Send(chat.Status(HintText))
			d.logger = d.logger.With().Str("username", sess.Username()).Logger()
			return sess, nil
		case errors.Is(err, chat.ErrUsernameTaken), errors.Is(err, chat.ErrUsageError):
			if err := d.conn.Send(chat.Status(chat.Notice(err))); err != nil {
				return nil, err
			}
		default:
			_ = d.conn.Send(chat.Status(chat.Notice(err)))
			return nil, err
		}
	}
	return nil, errors.New("too many username attempts")
}

// serve reads lines until the client leaves and returns why it stopped.
func (d *driver) serve() string {
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if !d.limiter.Allow() {
			d.logger.Warn().Msg("rate limit exceeded, message dropped")
			_ = d.srv.hub.SendTo(d.sess, chat.Warning(chat.ErrRateLimited))
			continue
		}

		err := d.srv.dispatcher.Dispatch(d.sess, line)
		switch {
		case errors.Is(err, command.ErrQuit):
			return "quit"
		case errors.Is(err, chat.ErrDeliveryFailure):
			return "delivery failure"
		}
	}
	return d.readError().Error()
}

func (d *driver) readError() error {
	err := d.scanner.Err()
	switch {
	case err == nil:
		return errors.New("client closed")
	case errors.Is(err, bufio.ErrTooLong):
		_ = d.conn.Send(chat.Status(fmt.Sprintf("%sLine longer than %d bytes, closing connection.", chat.WarningPrefix, d.srv.cfg.MaxLineLength)))
		return fmt.Errorf("line too long: %w", err)
	case isExpectedCloseError(err):
		return fmt.Errorf("connection closed: %w", err)
	default:
		d.logger.Warn().Err(err).Msg("read failed")
		return fmt.Errorf("read failed: %w", err)
	}
}
