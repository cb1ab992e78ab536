package chat

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// HubConfig configures a Hub.
type HubConfig struct {
	Rooms        RoomPolicy
	ActivitySize int
	// ShutdownParallelism bounds concurrent session teardown on Shutdown.
	ShutdownParallelism int
	Logger              *zerolog.Logger
}

// Hub ties the registry, the room directory and the activity log together
// and is the only place messages fan out to connections. Every operation
// snapshots its targets under the owning lock and delivers after releasing
// it.
type Hub struct {
	registry *Registry
	rooms    *Directory
	activity *ActivityLog
	logger   zerolog.Logger
	parallel int
	closing  atomic.Bool
}

// NewHub creates a hub with a fresh registry, directory and activity log.
func NewHub(cfg HubConfig) *Hub {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.ShutdownParallelism <= 0 {
		cfg.ShutdownParallelism = 16
	}
	return &Hub{
		registry: NewRegistry(),
		rooms:    NewDirectory(cfg.Rooms),
		activity: NewActivityLog(cfg.ActivitySize),
		logger:   logger.With().Str("component", "hub").Logger(),
		parallel: cfg.ShutdownParallelism,
	}
}

// Registry returns the hub's session registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Rooms returns the hub's room directory.
func (h *Hub) Rooms() *Directory { return h.rooms }

// Activity returns the hub's activity log.
func (h *Hub) Activity() *ActivityLog { return h.activity }

// Closing reports whether Shutdown has started.
func (h *Hub) Closing() bool { return h.closing.Load() }

// Connect registers conn under username and places the session in the
// default room. Others in the room are told about the arrival and every
// connection receives the new user list.
func (h *Hub) Connect(conn Conn, username string) (*Session, error) {
	if h.Closing() {
		return nil, ErrTransportClosed
	}
	sess, err := h.registry.Register(conn, username)
	if err != nil {
		return nil, err
	}

	defaultRoom := h.rooms.DefaultRoom()
	if _, _, err := h.rooms.Join(defaultRoom, sess); err != nil {
		// Shutdown may have torn the session down already.
		_, _ = h.registry.Remove(conn)
		return nil, fmt.Errorf("join %s: %w", defaultRoom, err)
	}
	if h.Closing() {
		// Shutdown started after the check above and may have missed this
		// session in its snapshot.
		h.Disconnect(conn, "server shutdown")
		return nil, ErrTransportClosed
	}

	h.logger.Info().
		Str("username", sess.Username()).
		Str("client_addr", conn.RemoteAddr()).
		Int("sessions", h.registry.Count()).
		Msg("session registered")

	h.activity.Record(ActivityConnect, sess.Username(), defaultRoom, sess.Username()+" connected")
	_, _ = h.BroadcastRoom(defaultRoom, Status(fmt.Sprintf("🎉 %s joined the chat!", sess.Username())), conn)
	h.BroadcastUsers()
	return sess, nil
}

// Disconnect tears down the session bound to conn. It is safe to call from
// any number of goroutines; only the first call for a connection does the
// work and reports true.
func (h *Hub) Disconnect(conn Conn, reason string) bool {
	sess, err := h.registry.Remove(conn)
	if err != nil {
		return false
	}
	h.teardown(sess, reason)
	return true
}

// teardown finishes removing a session already taken out of the registry.
// Recipients that fail while the departure is announced are claimed and
// torn down by the same loop.
func (h *Hub) teardown(first *Session, reason string) {
	queue := []*Session{first}
	for len(queue) > 0 {
		sess := queue[0]
		queue = queue[1:]

		left := h.rooms.RemoveSession(sess)
		h.closeConn(sess.Conn())

		h.logger.Info().
			Str("username", sess.Username()).
			Str("client_addr", sess.Conn().RemoteAddr()).
			Str("reason", reason).
			Strs("rooms", left).
			Int("sessions", h.registry.Count()).
			Msg("session removed")

		h.activity.Record(ActivityDisconnect, sess.Username(), "", sess.Username()+" disconnected: "+reason)
		if h.Closing() {
			continue
		}

		notice := Status(fmt.Sprintf("%s%s has left the chat.", WarningPrefix, sess.Username()))
		for _, room := range left {
			queue = append(queue, h.claim(h.deliverRoom(room, notice, nil))...)
		}
		queue = append(queue, h.claim(h.deliver(h.registry.Conns(), h.usersEnvelope(), nil))...)
		reason = "delivery failure"
	}
}

// claim removes failed connections from the registry and returns the
// sessions this caller is now responsible for tearing down.
func (h *Hub) claim(failed []Conn) []*Session {
	var claimed []*Session
	for _, conn := range failed {
		if sess, err := h.registry.Remove(conn); err == nil {
			claimed = append(claimed, sess)
		}
	}
	return claimed
}

func (h *Hub) reap(failed []Conn) {
	for _, sess := range h.claim(failed) {
		h.teardown(sess, "delivery failure")
	}
}

func (h *Hub) closeConn(conn Conn) {
	if err := conn.Close(); err != nil && !errors.Is(err, ErrTransportClosed) {
		h.logger.Debug().Err(err).Str("client_addr", conn.RemoteAddr()).Msg("error closing connection")
	}
}

// deliver sends env to every target except exclude and returns the targets
// that could not take it.
func (h *Hub) deliver(targets []Conn, env Envelope, exclude Conn) []Conn {
	var failed []Conn
	for _, conn := range targets {
		if exclude != nil && conn == exclude {
			continue
		}
		if err := conn.Send(env); err != nil {
			h.logger.Warn().Err(err).Str("client_addr", conn.RemoteAddr()).Str("event", env.Event).Msg("delivery failed")
			failed = append(failed, conn)
		}
	}
	return failed
}

func (h *Hub) deliverRoom(room string, env Envelope, exclude Conn) []Conn {
	sessions, err := h.rooms.MemberSessions(room)
	if err != nil {
		return nil
	}
	return h.deliver(sessionConns(sessions), env, exclude)
}

// Deliver sends env to every target except exclude. Targets that fail are
// torn down exactly once; the rest still receive the envelope. It returns
// how many targets accepted it.
func (h *Hub) Deliver(targets []Conn, env Envelope, exclude Conn) int {
	attempted := 0
	for _, conn := range targets {
		if exclude == nil || conn != exclude {
			attempted++
		}
	}
	failed := h.deliver(targets, env, exclude)
	h.reap(failed)
	return attempted - len(failed)
}

// BroadcastRoom delivers env to the members of room except exclude.
func (h *Hub) BroadcastRoom(room string, env Envelope, exclude Conn) (int, error) {
	sessions, err := h.rooms.MemberSessions(room)
	if err != nil {
		return 0, err
	}
	return h.Deliver(sessionConns(sessions), env, exclude), nil
}

// BroadcastAll delivers env to every live connection except exclude.
func (h *Hub) BroadcastAll(env Envelope, exclude Conn) int {
	return h.Deliver(h.registry.Conns(), env, exclude)
}

// SendTo delivers env to one session, tearing it down when it cannot keep up.
func (h *Hub) SendTo(sess *Session, env Envelope) error {
	if err := sess.Send(env); err != nil {
		h.reap([]Conn{sess.Conn()})
		return fmt.Errorf("%w: %s", ErrDeliveryFailure, sess.Username())
	}
	return nil
}

func sessionConns(sessions []*Session) []Conn {
	conns := make([]Conn, len(sessions))
	for i, sess := range sessions {
		conns[i] = sess.Conn()
	}
	return conns
}

// Shutdown tells every live connection the server is going away and tears
// each session down. Departure notices are not broadcast while closing.
func (h *Hub) Shutdown(ctx context.Context) error {
	if !h.closing.CompareAndSwap(false, true) {
		return nil
	}
	sessions := h.registry.Sessions()
	h.logger.Info().Int("sessions", len(sessions)).Msg("shutting down all sessions")

	notice := Status("🛑 Server is shutting down.")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.parallel)
	for _, sess := range sessions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_ = sess.Send(notice)
			h.Disconnect(sess.Conn(), "server shutdown")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("hub shutdown: %w", err)
	}
	h.logger.Info().Int("sessions", len(sessions)).Msg("hub shutdown completed")
	return nil
}
