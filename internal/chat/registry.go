package chat

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry owns the set of live sessions. A username belongs to at most one
// live session at any time.
type Registry struct {
	mu         sync.RWMutex
	byConn     map[Conn]*Session
	byUsername map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn:     make(map[Conn]*Session),
		byUsername: make(map[string]*Session),
	}
}

// Register binds username to conn. It fails with ErrUsernameTaken when a
// live session already uses the name, and with ErrUsageError when the name
// is empty or the connection is already registered.
func (r *Registry) Register(conn Conn, username string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username must not be empty", ErrUsageError)
	}
	if strings.ContainsAny(username, " \t") {
		return nil, fmt.Errorf("%w: username must not contain spaces", ErrUsageError)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUsername[username]; ok {
		return nil, fmt.Errorf("%w: %s", ErrUsernameTaken, username)
	}
	if _, ok := r.byConn[conn]; ok {
		return nil, fmt.Errorf("%w: connection already registered", ErrUsageError)
	}

	sess := newSession(conn, username)
	r.byConn[conn] = sess
	r.byUsername[username] = sess
	return sess, nil
}

// LookupByUsername returns the live session for name.
func (r *Registry) LookupByUsername(name string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byUsername[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, name)
	}
	return sess, nil
}

// LookupByConn returns the session bound to conn.
func (r *Registry) LookupByConn(conn Conn) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byConn[conn]
	if !ok {
		return nil, ErrUserNotFound
	}
	return sess, nil
}

// RecordMessageSent bumps the session's message counter.
func (r *Registry) RecordMessageSent(sess *Session) {
	sess.incrementSent()
}

// Remove unbinds conn and returns its session. A second call for the same
// connection returns ErrUserNotFound, which lets exactly one caller run the
// teardown.
func (r *Registry) Remove(conn Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byConn[conn]
	if !ok {
		return nil, ErrUserNotFound
	}
	delete(r.byConn, conn)
	delete(r.byUsername, sess.username)
	return sess, nil
}

// Sessions returns a snapshot of live sessions ordered by join time.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byConn))
	for _, sess := range r.byConn {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].joinedAt.Equal(sessions[j].joinedAt) {
			return sessions[i].username < sessions[j].username
		}
		return sessions[i].joinedAt.Before(sessions[j].joinedAt)
	})
	return sessions
}

// Conns returns a snapshot of live connections.
func (r *Registry) Conns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Conn, 0, len(r.byConn))
	for conn := range r.byConn {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
