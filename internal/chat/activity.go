package chat

import (
	"sync"
	"time"
)

// ActivityKind classifies entries of the activity log.
type ActivityKind string

const (
	ActivityConnect       ActivityKind = "connect"
	ActivityDisconnect    ActivityKind = "disconnect"
	ActivityMessage       ActivityKind = "message"
	ActivityRoomCreated   ActivityKind = "room_created"
	ActivityJoin          ActivityKind = "join"
	ActivityLeave         ActivityKind = "leave"
	ActivityDeleteMessage ActivityKind = "delete_message"
)

// ActivityEntry is one notable server event.
type ActivityEntry struct {
	Kind     ActivityKind `json:"type"`
	Username string       `json:"username,omitempty"`
	Room     string       `json:"room,omitempty"`
	Detail   string       `json:"detail"`
	Time     time.Time    `json:"-"`
	Stamp    string       `json:"timestamp"`
}

// ActivitySubscriber is notified of every entry after it is recorded.
type ActivitySubscriber func(ActivityEntry)

// ActivityLog is a bounded append-only record of server events. The
// oldest entries are evicted first.
type ActivityLog struct {
	mu          sync.RWMutex
	entries     []ActivityEntry
	max         int
	subscribers map[int]ActivitySubscriber
	nextID      int
}

// NewActivityLog creates a log holding at most max entries.
func NewActivityLog(max int) *ActivityLog {
	if max <= 0 {
		max = 200
	}
	return &ActivityLog{
		max:         max,
		subscribers: make(map[int]ActivitySubscriber),
	}
}

// Subscribe registers fn and returns a function that removes it.
func (l *ActivityLog) Subscribe(fn ActivitySubscriber) (unsubscribe func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subscribers[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subscribers, id)
		l.mu.Unlock()
	}
}

// Record appends an entry and then notifies subscribers outside the lock.
// Callers record only after the state change the entry describes has been
// committed.
func (l *ActivityLog) Record(kind ActivityKind, username, room, detail string) ActivityEntry {
	now := time.Now()
	entry := ActivityEntry{
		Kind:     kind,
		Username: username,
		Room:     room,
		Detail:   detail,
		Time:     now,
		Stamp:    now.Format(DateFormat),
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = append([]ActivityEntry(nil), l.entries[over:]...)
	}
	subs := make([]ActivitySubscriber, 0, len(l.subscribers))
	for _, fn := range l.subscribers {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn(entry)
	}
	return entry
}

// Entries returns a copy of the log, oldest first.
func (l *ActivityLog) Entries() []ActivityEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ActivityEntry(nil), l.entries...)
}

// Len returns the number of entries held.
func (l *ActivityLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
