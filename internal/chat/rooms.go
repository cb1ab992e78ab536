package chat

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Defaults for the distinguished room.
const (
	DefaultRoomName        = "General"
	DefaultRoomDescription = "Main chat room for everyone"
	DefaultCategory        = "Other"
	SystemUser             = "System"
)

// RoomPolicy controls the parts of room lifecycle that differ between
// deployments.
type RoomPolicy struct {
	// DefaultRoom always exists and cannot be left.
	DefaultRoom string
	// HistorySize caps each room's history; the oldest entry is evicted first.
	HistorySize int
	// AutoCreate lets Join create a missing room instead of failing.
	AutoCreate bool
	// DeleteEmpty removes a room once its last member leaves.
	DeleteEmpty bool
}

func (p RoomPolicy) sanitized() RoomPolicy {
	if strings.TrimSpace(p.DefaultRoom) == "" {
		p.DefaultRoom = DefaultRoomName
	}
	if p.HistorySize <= 0 {
		p.HistorySize = 100
	}
	return p
}

// Room is a named group with membership and a bounded history.
type Room struct {
	Name        string
	Description string
	Category    string
	CreatedBy   string
	CreatedAt   time.Time
	Private     bool

	// members is guarded by the owning Directory's lock.
	members map[string]*Session

	mu       sync.RWMutex
	history  []Message
	capacity int
}

func newRoom(name, creator, description, category string, private bool, capacity int) *Room {
	if category == "" {
		category = DefaultCategory
	}
	return &Room{
		Name:        name,
		Description: description,
		Category:    category,
		CreatedBy:   creator,
		CreatedAt:   time.Now(),
		Private:     private,
		members:     make(map[string]*Session),
		capacity:    capacity,
	}
}

func (r *Room) append(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, msg)
	if over := len(r.history) - r.capacity; over > 0 {
		// Copy so the evicted prefix does not pin the backing array.
		r.history = append([]Message(nil), r.history[over:]...)
	}
}

func (r *Room) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, msg := range r.history {
		if msg.ID == id {
			r.history = append(r.history[:i], r.history[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) update(id string, fn func(*Message) error) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.history {
		if r.history[i].ID == id {
			if err := fn(&r.history[i]); err != nil {
				return Message{}, err
			}
			return r.history[i].clone(), nil
		}
	}
	return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
}

func (r *Room) recent(limit int) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	start := 0
	if limit >= 0 && len(r.history) > limit {
		start = len(r.history) - limit
	}
	out := make([]Message, 0, len(r.history)-start)
	for _, msg := range r.history[start:] {
		out = append(out, msg.clone())
	}
	return out
}

// RoomSummary is the public listing entry of a room.
type RoomSummary struct {
	Name        string `json:"-"`
	Description string `json:"description"`
	UsersCount  int    `json:"users_count"`
	Category    string `json:"category"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	Private     bool   `json:"is_private"`
}

// Directory owns every room and its membership. Membership changes and
// room creation or deletion happen under mu; message history has its own
// per-room lock so traffic in one room does not contend with another.
type Directory struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	policy RoomPolicy
}

// NewDirectory creates a directory holding only the distinguished room.
func NewDirectory(policy RoomPolicy) *Directory {
	policy = policy.sanitized()
	d := &Directory{
		rooms:  make(map[string]*Room),
		policy: policy,
	}
	d.rooms[policy.DefaultRoom] = newRoom(policy.DefaultRoom, SystemUser, DefaultRoomDescription, DefaultRoomName, false, policy.HistorySize)
	return d
}

// DefaultRoom returns the name of the distinguished room.
func (d *Directory) DefaultRoom() string { return d.policy.DefaultRoom }

// Policy returns the directory's room policy.
func (d *Directory) Policy() RoomPolicy { return d.policy }

// EnsureRoom returns the named room, creating it with default metadata.
func (d *Directory) EnsureRoom(name, creator string) *Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, _ := d.ensureLocked(name, creator)
	return room
}

func (d *Directory) ensureLocked(name, creator string) (*Room, bool) {
	if room, ok := d.rooms[name]; ok {
		return room, false
	}
	room := newRoom(name, creator, "", DefaultCategory, false, d.policy.HistorySize)
	d.rooms[name] = room
	return room, true
}

// CreateRoom adds a room with explicit metadata. It never overwrites an
// existing room.
func (d *Directory) CreateRoom(name, creator, description, category string, private bool) (*Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: room name must not be empty", ErrUsageError)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rooms[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	room := newRoom(name, creator, description, category, private, d.policy.HistorySize)
	d.rooms[name] = room
	return room, nil
}

// Join adds sess to the named room. With AutoCreate a missing room is
// created on the spot and created reports true. Joining a room twice is a
// no-op.
func (d *Directory) Join(name string, sess *Session) (room *Room, created bool, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, fmt.Errorf("%w: room name must not be empty", ErrUsageError)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if sess.closed {
		return nil, false, fmt.Errorf("%w: %s", ErrTransportClosed, sess.Username())
	}
	room, ok := d.rooms[name]
	if !ok {
		if !d.policy.AutoCreate {
			return nil, false, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
		}
		room, created = d.ensureLocked(name, sess.Username())
	}
	room.members[sess.Username()] = sess
	sess.addRoom(name)
	return room, created, nil
}

// Leave removes sess from the named room. It reports whether the room was
// deleted because it became empty.
func (d *Directory) Leave(name string, sess *Session) (deleted bool, err error) {
	if name == d.policy.DefaultRoom {
		return false, fmt.Errorf("%w: %s", ErrCannotLeaveDefaultRoom, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	room, ok := d.rooms[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	if room.members[sess.Username()] != sess {
		return false, fmt.Errorf("%w: %s", ErrNotMember, name)
	}
	return d.removeMemberLocked(room, sess), nil
}

// RemoveSession drops sess from every room it belongs to, the default room
// included, and returns the names of those rooms. The session can not join
// any room afterwards.
func (d *Directory) RemoveSession(sess *Session) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	sess.closed = true

	var left []string
	for _, name := range sess.Rooms() {
		room, ok := d.rooms[name]
		if !ok || room.members[sess.Username()] != sess {
			sess.removeRoom(name, d.policy.DefaultRoom)
			continue
		}
		d.removeMemberLocked(room, sess)
		left = append(left, name)
	}
	return left
}

func (d *Directory) removeMemberLocked(room *Room, sess *Session) bool {
	delete(room.members, sess.Username())
	sess.removeRoom(room.Name, d.policy.DefaultRoom)
	if d.policy.DeleteEmpty && len(room.members) == 0 && room.Name != d.policy.DefaultRoom {
		delete(d.rooms, room.Name)
		return true
	}
	return false
}

// Room returns the named room.
func (d *Directory) Room(name string) (*Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	return room, nil
}

// AppendMessage adds msg to the named room's history.
func (d *Directory) AppendMessage(name string, msg Message) error {
	room, err := d.Room(name)
	if err != nil {
		return err
	}
	room.append(msg)
	return nil
}

// DeleteMessage removes the message with id from the room's history. It
// reports whether a message was removed; a missing id is not an error.
func (d *Directory) DeleteMessage(name, id string) (bool, error) {
	room, err := d.Room(name)
	if err != nil {
		return false, err
	}
	return room.remove(id), nil
}

// EditMessage replaces the content of a message. Only its author may edit.
func (d *Directory) EditMessage(name, id, author, content string) (Message, error) {
	room, err := d.Room(name)
	if err != nil {
		return Message{}, err
	}
	return room.update(id, func(m *Message) error {
		if m.Username != author {
			return fmt.Errorf("%w: only %s can edit this message", ErrForbidden, m.Username)
		}
		m.Content = content
		m.Edited = true
		return nil
	})
}

// AddReaction attaches reaction to its target message. Identical reactions
// are kept; there is no uniqueness constraint.
func (d *Directory) AddReaction(name string, reaction Reaction) (Message, error) {
	room, err := d.Room(name)
	if err != nil {
		return Message{}, err
	}
	if reaction.CreatedAt.IsZero() {
		reaction.CreatedAt = time.Now()
	}
	return room.update(reaction.MessageID, func(m *Message) error {
		m.Reactions = append(m.Reactions, reaction)
		return nil
	})
}

// RecentHistory returns up to limit messages, oldest first.
func (d *Directory) RecentHistory(name string, limit int) ([]Message, error) {
	room, err := d.Room(name)
	if err != nil {
		return nil, err
	}
	return room.recent(limit), nil
}

// MembersOf returns the sorted usernames in the named room.
func (d *Directory) MembersOf(name string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	names := make([]string, 0, len(room.members))
	for username := range room.members {
		names = append(names, username)
	}
	sort.Strings(names)
	return names, nil
}

// MemberSessions snapshots the sessions in the named room. The snapshot is
// safe to use for delivery after the lock is released.
func (d *Directory) MemberSessions(name string) ([]*Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	sessions := make([]*Session, 0, len(room.members))
	for _, sess := range room.members {
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// ListRooms summarizes every room, private ones included, sorted by name.
func (d *Directory) ListRooms() []RoomSummary {
	return d.list(true)
}

// ListPublicRooms summarizes the rooms not flagged private, sorted by name.
func (d *Directory) ListPublicRooms() []RoomSummary {
	return d.list(false)
}

func (d *Directory) list(includePrivate bool) []RoomSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RoomSummary, 0, len(d.rooms))
	for _, room := range d.rooms {
		if room.Private && !includePrivate {
			continue
		}
		out = append(out, RoomSummary{
			Name:        room.Name,
			Description: room.Description,
			UsersCount:  len(room.members),
			Category:    room.Category,
			CreatedBy:   room.CreatedBy,
			CreatedAt:   room.CreatedAt.Format(DateFormat),
			Private:     room.Private,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
