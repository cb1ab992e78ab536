package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/storage"
)

// Config holds the settings of the HTTP and WebSocket transport.
type Config struct {
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	RateBurst      int
	RateRefill     time.Duration
	ReplayLimit    int
	UploadMaxSize  int64
}

func (c Config) sanitized() Config {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
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
	if c.ReplayLimit <= 0 {
		c.ReplayLimit = 50
	}
	if c.UploadMaxSize <= 0 {
		c.UploadMaxSize = 16 << 20
	}
	return c
}

// Server is the HTTP side of the chat service: the WebSocket event
// transport plus the room, upload and activity endpoints.
type Server struct {
	cfg      Config
	hub      *chat.Hub
	store    storage.Store
	router   *eventRouter
	origins  *originPolicy
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	unsubscribe func()

	mu      sync.Mutex
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
}

// New creates the server. Every activity log entry recorded by hub from
// here on is pushed to the connected WebSocket clients.
func New(cfg Config, hub *chat.Hub, store storage.Store, logger zerolog.Logger) *Server {
	cfg = cfg.sanitized()
	logger = logger.With().Str("component", "http").Logger()

	s := &Server{
		cfg:     cfg,
		hub:     hub,
		store:   store,
		router:  newEventRouter(hub, cfg.ReplayLimit, logger),
		origins: newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:  logger,
		clients: make(map[*Client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.unsubscribe = hub.Activity().Subscribe(s.broadcastActivity)
	return s
}

func (s *Server) broadcastActivity(entry chat.ActivityEntry) {
	if s.hub.Closing() {
		return
	}
	s.hub.BroadcastAll(chat.Envelope{Event: chat.EventActivity, Data: entry, Time: entry.Time}, nil)
}

// start registers c and launches its pumps. It reports false once the
// server is shutting down.
func (s *Server) start(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writePump()
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()
	return true
}

// serveClient launches the read loop of a client whose session is bound.
func (s *Server) serveClient(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.readPump()
	}()
	return true
}

// ClientCount returns the number of WebSocket clients whose writer is
// still running.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Shutdown stops pushing activity, closes every client still open and
// waits for their pumps to finish or ctx to expire. Sessions should be torn
// down through the hub first so clients hear why they are dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.unsubscribe()
	for _, c := range clients {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Int("clients", len(clients)).Msg("websocket clients stopped")
		return nil
	case <-ctx.Done():
		for _, c := range clients {
			c.closeConnection()
		}
		return fmt.Errorf("websocket shutdown: %w", ctx.Err())
	}
}
