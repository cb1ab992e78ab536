package chat

import (
	"sort"
	"sync"
	"time"
)

// Session is the live identity bound to one connection.
type Session struct {
	conn     Conn
	username string
	joinedAt time.Time

	// closed is set once the session has been removed from the directory.
	// Guarded by Directory.mu.
	closed bool

	mu         sync.RWMutex
	sent       int
	rooms      map[string]struct{}
	activeRoom string
}

func newSession(conn Conn, username string) *Session {
	return &Session{
		conn:     conn,
		username: username,
		joinedAt: time.Now(),
		rooms:    make(map[string]struct{}),
	}
}

// Conn returns the connection the session is bound to.
func (s *Session) Conn() Conn { return s.conn }

// Username returns the session's unique username.
func (s *Session) Username() string { return s.username }

// JoinedAt returns when the session completed negotiation.
func (s *Session) JoinedAt() time.Time { return s.joinedAt }

// MessagesSent returns how many plain messages the session has sent.
func (s *Session) MessagesSent() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sent
}

// Rooms returns the names of the rooms the session is in, sorted.
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]string, 0, len(s.rooms))
	for name := range s.rooms {
		rooms = append(rooms, name)
	}
	sort.Strings(rooms)
	return rooms
}

// InRoom reports whether the session is a member of room.
func (s *Session) InRoom(room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok
}

// ActiveRoom is the room plain messages go to.
func (s *Session) ActiveRoom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeRoom
}

// SetActiveRoom switches the target of plain messages. The session must be
// a member of room.
func (s *Session) SetActiveRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room]; !ok {
		return false
	}
	s.activeRoom = room
	return true
}

// Send queues env on the session's connection.
func (s *Session) Send(env Envelope) error {
	return s.conn.Send(env)
}

func (s *Session) addRoom(room string) {
	s.mu.Lock()
	s.rooms[room] = struct{}{}
	if s.activeRoom == "" {
		s.activeRoom = room
	}
	s.mu.Unlock()
}

// removeRoom drops room and falls back to fallback when it was active.
func (s *Session) removeRoom(room, fallback string) {
	s.mu.Lock()
	delete(s.rooms, room)
	if s.activeRoom == room {
		s.activeRoom = ""
		if _, ok := s.rooms[fallback]; ok {
			s.activeRoom = fallback
		}
	}
	s.mu.Unlock()
}

func (s *Session) incrementSent() {
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
}

// UserInfo is the public view of a session.
type UserInfo struct {
	Username string   `json:"username"`
	JoinedAt string   `json:"joined_at"`
	Rooms    []string `json:"rooms"`
}

// Info returns the public view of the session.
func (s *Session) Info() UserInfo {
	return UserInfo{
		Username: s.username,
		JoinedAt: s.joinedAt.Format(DateFormat),
		Rooms:    s.Rooms(),
	}
}
