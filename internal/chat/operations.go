package chat

import (
	"fmt"
	"strings"
)

// JoinResult describes a successful join.
type JoinResult struct {
	Room    *Room
	Created bool
}

// JoinRoom adds sess to room, makes it the session's active room and
// announces the arrival to the other members.
func (h *Hub) JoinRoom(sess *Session, room string) (JoinResult, error) {
	room = strings.TrimSpace(room)
	already := sess.InRoom(room)
	r, created, err := h.rooms.Join(room, sess)
	if err != nil {
		return JoinResult{}, err
	}
	sess.SetActiveRoom(room)
	if already {
		return JoinResult{Room: r}, nil
	}

	if created {
		h.announceRoomCreated(r)
	}
	h.activity.Record(ActivityJoin, sess.Username(), room, sess.Username()+" joined "+room)
	_, _ = h.BroadcastRoom(room, Status(fmt.Sprintf("👋 %s has joined %s!", sess.Username(), room)), sess.Conn())
	return JoinResult{Room: r, Created: created}, nil
}

// LeaveRoom removes sess from room and tells the remaining members.
func (h *Hub) LeaveRoom(sess *Session, room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return fmt.Errorf("%w: room name must not be empty", ErrUsageError)
	}
	deleted, err := h.rooms.Leave(room, sess)
	if err != nil {
		return err
	}
	h.activity.Record(ActivityLeave, sess.Username(), room, sess.Username()+" left "+room)
	if deleted {
		h.logger.Info().Str("room", room).Msg("empty room deleted")
		return nil
	}
	_, _ = h.BroadcastRoom(room, Status(fmt.Sprintf("👋 %s has left %s.", sess.Username(), room)), nil)
	return nil
}

// CreateRoom adds a room with explicit metadata and tells every connection.
func (h *Hub) CreateRoom(creator, name, description, category string, private bool) (*Room, error) {
	r, err := h.rooms.CreateRoom(name, creator, description, category, private)
	if err != nil {
		return nil, err
	}
	h.announceRoomCreated(r)
	return r, nil
}

// RoomCreatedPayload is the data of a room_created event.
type RoomCreatedPayload struct {
	Room        string `json:"room"`
	Description string `json:"description"`
	Category    string `json:"category"`
	CreatedBy   string `json:"created_by"`
	Private     bool   `json:"is_private"`
}

func (h *Hub) announceRoomCreated(r *Room) {
	h.logger.Info().Str("room", r.Name).Str("created_by", r.CreatedBy).Msg("room created")
	h.activity.Record(ActivityRoomCreated, r.CreatedBy, r.Name, "room "+r.Name+" created by "+r.CreatedBy)
	if r.Private {
		return
	}
	env := Envelope{
		Event: EventRoomCreated,
		Text:  fmt.Sprintf("🏠 Room %s created by %s", r.Name, r.CreatedBy),
		Data: RoomCreatedPayload{
			Room:        r.Name,
			Description: r.Description,
			Category:    r.Category,
			CreatedBy:   r.CreatedBy,
			Private:     r.Private,
		},
	}
	h.BroadcastAll(env, nil)
}

// requireMember fails with ErrRoomNotFound or ErrNotMember unless sess is in
// room.
func (h *Hub) requireMember(sess *Session, room string) error {
	if sess.InRoom(room) {
		return nil
	}
	if _, err := h.rooms.Room(room); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrNotMember, room)
}

// PostMessage records msg in its room's history and broadcasts it to the
// room. The sender receives its own message only when echo is set.
func (h *Hub) PostMessage(sess *Session, msg Message, echo bool) (Message, error) {
	if err := h.requireMember(sess, msg.Room); err != nil {
		return Message{}, err
	}
	msg.Username = sess.Username()
	if err := h.rooms.AppendMessage(msg.Room, msg); err != nil {
		return Message{}, err
	}
	h.registry.RecordMessageSent(sess)
	h.activity.Record(ActivityMessage, sess.Username(), msg.Room, sess.Username()+" sent a message")

	var exclude Conn
	if !echo {
		exclude = sess.Conn()
	}
	if _, err := h.BroadcastRoom(msg.Room, msg.Envelope(), exclude); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// DeletedPayload is the data of a delete_message event.
type DeletedPayload struct {
	Room      string `json:"room"`
	MessageID string `json:"message_id"`
	Username  string `json:"username"`
}

// DeleteMessage removes a message from room and notifies its members. A
// missing message is not an error and notifies nobody.
func (h *Hub) DeleteMessage(sess *Session, room, id string) error {
	if err := h.requireMember(sess, room); err != nil {
		return err
	}
	removed, err := h.rooms.DeleteMessage(room, id)
	if err != nil || !removed {
		return err
	}
	h.activity.Record(ActivityDeleteMessage, sess.Username(), room, sess.Username()+" deleted message "+id)
	env := Envelope{
		Event: EventDeleteMessage,
		Data:  DeletedPayload{Room: room, MessageID: id, Username: sess.Username()},
	}
	_, err = h.BroadcastRoom(room, env, nil)
	return err
}

// EditMessage changes the content of one of the session's own messages.
func (h *Hub) EditMessage(sess *Session, room, id, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, fmt.Errorf("%w: message must not be empty", ErrUsageError)
	}
	if err := h.requireMember(sess, room); err != nil {
		return Message{}, err
	}
	msg, err := h.rooms.EditMessage(room, id, sess.Username(), content)
	if err != nil {
		return Message{}, err
	}
	env := msg.Envelope()
	env.Event = EventMessageEdited
	env.Text = ""
	_, err = h.BroadcastRoom(room, env, nil)
	return msg, err
}

// ReactionPayload is the data of a reaction_update event.
type ReactionPayload struct {
	Room      string `json:"room"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	Username  string `json:"username"`
	Count     int    `json:"count"`
}

// React attaches an emoji to a message and notifies the room.
func (h *Hub) React(sess *Session, room, id, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return fmt.Errorf("%w: emoji must not be empty", ErrUsageError)
	}
	if err := h.requireMember(sess, room); err != nil {
		return err
	}
	msg, err := h.rooms.AddReaction(room, Reaction{Emoji: emoji, Username: sess.Username(), MessageID: id})
	if err != nil {
		return err
	}
	count := 0
	for _, r := range msg.Reactions {
		if r.Emoji == emoji {
			count++
		}
	}
	env := Envelope{
		Event: EventReaction,
		Data:  ReactionPayload{Room: room, MessageID: id, Emoji: emoji, Username: sess.Username(), Count: count},
	}
	_, err = h.BroadcastRoom(room, env, nil)
	return err
}

// TypingPayload is the data of a typing_status event.
type TypingPayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

// Typing tells the other members of room whether sess is typing.
func (h *Hub) Typing(sess *Session, room string, typing bool) error {
	if !sess.InRoom(room) {
		return fmt.Errorf("%w: %s", ErrNotMember, room)
	}
	env := Envelope{
		Event: EventTypingStatus,
		Data:  TypingPayload{Room: room, Username: sess.Username(), Typing: typing},
	}
	_, err := h.BroadcastRoom(room, env, sess.Conn())
	return err
}

// InvitePayload is the data of an invited event.
type InvitePayload struct {
	From string `json:"from"`
	Room string `json:"room"`
}

// Invite asks the user named to to join room.
func (h *Hub) Invite(sess *Session, to, room string) error {
	if _, err := h.rooms.Room(room); err != nil {
		return err
	}
	target, err := h.registry.LookupByUsername(to)
	if err != nil {
		return err
	}
	env := Envelope{
		Event: EventInvited,
		Text:  fmt.Sprintf("📨 %s invited you to join %s", sess.Username(), room),
		Data:  InvitePayload{From: sess.Username(), Room: room},
	}
	_ = h.SendTo(target, env)
	return nil
}

// PrivatePayload is the data of a private_message event.
type PrivatePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// PrivateMessage delivers text to the user named to only. Nothing is
// delivered when the user is not live.
func (h *Hub) PrivateMessage(sess *Session, to, text string) error {
	target, err := h.registry.LookupByUsername(to)
	if err != nil {
		return err
	}
	env := Status(fmt.Sprintf("💬 [private] %s: %s", sess.Username(), text))
	env.Event = EventPrivate
	env.Data = PrivatePayload{
		From:      sess.Username(),
		To:        target.Username(),
		Message:   text,
		Timestamp: env.Time.Format(ClockFormat),
	}
	_ = h.SendTo(target, env)
	return nil
}

// UsersPayload is the data of an update_users event.
type UsersPayload struct {
	Users []UserInfo `json:"users"`
}

// Users returns the public view of every live session.
func (h *Hub) Users() []UserInfo {
	sessions := h.registry.Sessions()
	users := make([]UserInfo, len(sessions))
	for i, sess := range sessions {
		users[i] = sess.Info()
	}
	return users
}

func (h *Hub) usersEnvelope() Envelope {
	return Envelope{Event: EventUpdateUsers, Data: UsersPayload{Users: h.Users()}}
}

// BroadcastUsers sends the current user list to every connection.
func (h *Hub) BroadcastUsers() {
	h.BroadcastAll(h.usersEnvelope(), nil)
}

// ReplayHistory sends up to limit recent messages of room to sess, oldest
// first.
func (h *Hub) ReplayHistory(sess *Session, room string, limit int) error {
	history, err := h.rooms.RecentHistory(room, limit)
	if err != nil {
		return err
	}
	for _, msg := range history {
		if err := h.SendTo(sess, msg.Envelope()); err != nil {
			return err
		}
	}
	return nil
}
