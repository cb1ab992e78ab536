// Package chat holds the shared state of the chat service: the session
// registry, the room directory, the activity log and the hub that fans
// messages out to live connections. Transports (line-based TCP and
// WebSocket) plug in through the Conn interface.
package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Conn is a live transport connection. Send must not block: it either
// queues the envelope for the connection's writer or fails with
// ErrDeliveryFailure. Envelopes queued on one Conn are written in order.
type Conn interface {
	ID() string
	RemoteAddr() string
	Send(env Envelope) error
	Close() error
}

// Event names shared by both transports.
const (
	EventStatus        = "status"
	EventMessage       = "message"
	EventPrivate       = "private_message"
	EventUpdateUsers   = "update_users"
	EventTypingStatus  = "typing_status"
	EventDeleteMessage = "delete_message"
	EventMessageEdited = "message_edited"
	EventReaction      = "reaction_update"
	EventRoomCreated   = "room_created"
	EventInvited       = "invited"
	EventActivity      = "activity"
	EventActivityLog   = "activity_log"
	EventError         = "error"
)

// Clock formats used on the wire.
const (
	ClockFormat = "15:04:05"
	DateFormat  = "2006-01-02 15:04:05"
)

// Envelope is one outbound unit. Line transports render Text; structured
// transports render Event and Data. An envelope without Text is not shown
// on line transports.
type Envelope struct {
	Event string
	Text  string
	Data  any
	Time  time.Time
}

// StatusPayload is the data of a status envelope.
type StatusPayload struct {
	Msg       string `json:"msg"`
	Timestamp string `json:"timestamp"`
}

// Status builds a status notice.
func Status(text string) Envelope {
	now := time.Now()
	return Envelope{
		Event: EventStatus,
		Text:  text,
		Data:  StatusPayload{Msg: text, Timestamp: now.Format(ClockFormat)},
		Time:  now,
	}
}

// Warning builds the notice for a command-level error.
func Warning(err error) Envelope {
	env := Status(Notice(err))
	env.Event = EventError
	return env
}

// Payload returns the structured form of the envelope.
func (e Envelope) Payload() any {
	if e.Data != nil {
		return e.Data
	}
	return StatusPayload{Msg: e.Text, Timestamp: e.stamp().Format(ClockFormat)}
}

// Line renders the envelope for line transports, or "" when the envelope
// has nothing to show there.
func (e Envelope) Line() string {
	if e.Text == "" {
		return ""
	}
	return fmt.Sprintf("[%s] %s\n", e.stamp().Format(ClockFormat), e.Text)
}

func (e Envelope) stamp() time.Time {
	if e.Time.IsZero() {
		return time.Now()
	}
	return e.Time
}

// MessageKind tells clients how to render a message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// ParseKind maps a client supplied kind onto a known one, defaulting to text.
func ParseKind(s string) MessageKind {
	switch MessageKind(s) {
	case KindImage:
		return KindImage
	case KindFile:
		return KindFile
	default:
		return KindText
	}
}

// Reaction is one emoji attached to a message by a user.
type Reaction struct {
	Emoji     string    `json:"emoji"`
	Username  string    `json:"username"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a chat message kept in a room's history.
type Message struct {
	ID        string      `json:"id"`
	Room      string      `json:"room"`
	Username  string      `json:"username"`
	Content   string      `json:"message"`
	Timestamp time.Time   `json:"-"`
	Kind      MessageKind `json:"type"`
	FileURL   string      `json:"file_url,omitempty"`
	ClientID  string      `json:"client_id,omitempty"`
	Edited    bool        `json:"edited"`
	Reactions []Reaction  `json:"reactions,omitempty"`
}

// NewMessage stamps a new text message with an id and the current time.
func NewMessage(room, username, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Room:      room,
		Username:  username,
		Content:   content,
		Timestamp: time.Now(),
		Kind:      KindText,
	}
}

// MessagePayload is the wire form of a message.
type MessagePayload struct {
	Message
	Time string `json:"timestamp"`
}

// Envelope wraps the message for delivery to the room.
func (m Message) Envelope() Envelope {
	text := fmt.Sprintf("[%s] %s: %s", m.Room, m.Username, m.Content)
	if m.FileURL != "" {
		text += " (" + m.FileURL + ")"
	}
	return Envelope{
		Event: EventMessage,
		Text:  text,
		Data:  MessagePayload{Message: m.clone(), Time: m.Timestamp.Format(ClockFormat)},
		Time:  m.Timestamp,
	}
}

func (m Message) clone() Message {
	if m.Reactions != nil {
		m.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return m
}
