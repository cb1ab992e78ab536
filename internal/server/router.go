package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kyokomi/emoji/v2"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
)

type eventHandler func(r *eventRouter, sess *chat.Session, data json.RawMessage) error

// eventRouter maps inbound event names onto hub operations. Errors are
// answered with an error event to the sending client only.
type eventRouter struct {
	hub         *chat.Hub
	replayLimit int
	logger      zerolog.Logger
	handlers    map[string]eventHandler
}

func newEventRouter(hub *chat.Hub, replayLimit int, logger zerolog.Logger) *eventRouter {
	return &eventRouter{
		hub:         hub,
		replayLimit: replayLimit,
		logger:      logger,
		handlers: map[string]eventHandler{
			"join":            (*eventRouter).join,
			"join_room":       (*eventRouter).join,
			"leave":           (*eventRouter).leave,
			"leave_room":      (*eventRouter).leave,
			"message":         (*eventRouter).message,
			"typing":          (*eventRouter).typing,
			"delete_message":  (*eventRouter).deleteMessage,
			"edit_message":    (*eventRouter).editMessage,
			"reaction":        (*eventRouter).reaction,
			"invite":          (*eventRouter).invite,
			"create_room":     (*eventRouter).createRoom,
			"private_message": (*eventRouter).privateMessage,
		},
	}
}

// Dispatch decodes one frame from c and runs its handler. Only a delivery
// failure of c itself is returned; every other error has already been
// reported to the client.
func (r *eventRouter) Dispatch(c *Client, raw []byte) error {
	sess := c.Session()
	if sess == nil {
		return chat.ErrTransportClosed
	}

	var frame inboundFrame
	err := json.Unmarshal(raw, &frame)
	if err != nil {
		err = fmt.Errorf("%w: invalid event: %v", chat.ErrUsageError, err)
	} else if h, ok := r.handlers[frame.Event]; ok {
		err = h(r, sess, frame.Data)
	} else {
		err = fmt.Errorf("%w: %q", chat.ErrUnknownCommand, frame.Event)
	}

	if err == nil || errors.Is(err, chat.ErrDeliveryFailure) {
		return err
	}
	r.logger.Debug().Err(err).
		Str("username", sess.Username()).
		Str("event", frame.Event).
		Msg("event rejected")
	return r.hub.SendTo(sess, chat.Warning(err))
}

func decode(data json.RawMessage, v any) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%w: missing event data", chat.ErrUsageError)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: invalid event data: %v", chat.ErrUsageError, err)
	}
	return nil
}

// roomOrActive falls back to the session's active room when the client did
// not name one.
func roomOrActive(sess *chat.Session, room string) string {
	if room = strings.TrimSpace(room); room != "" {
		return room
	}
	return sess.ActiveRoom()
}

func (r *eventRouter) join(sess *chat.Session, data json.RawMessage) error {
	var req roomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	res, err := r.hub.JoinRoom(sess, req.Room)
	if err != nil {
		return err
	}
	return r.hub.ReplayHistory(sess, res.Room.Name, r.replayLimit)
}

func (r *eventRouter) leave(sess *chat.Session, data json.RawMessage) error {
	var req roomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	return r.hub.LeaveRoom(sess, req.Room)
}

func (r *eventRouter) message(sess *chat.Session, data json.RawMessage) error {
	var req messageRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	content := strings.TrimSpace(emoji.Sprint(req.Message))
	if content == "" && req.FileURL == "" {
		return nil
	}

	msg := chat.NewMessage(roomOrActive(sess, req.Room), sess.Username(), content)
	msg.Kind = chat.ParseKind(req.Type)
	msg.FileURL = req.FileURL
	msg.ClientID = req.ClientID
	_, err := r.hub.PostMessage(sess, msg, true)
	return err
}

func (r *eventRouter) typing(sess *chat.Session, data json.RawMessage) error {
	var req typingRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	return r.hub.Typing(sess, roomOrActive(sess, req.Room), req.Typing)
}

func (r *eventRouter) deleteMessage(sess *chat.Session, data json.RawMessage) error {
	var req messageRef
	if err := decode(data, &req); err != nil {
		return err
	}
	return r.hub.DeleteMessage(sess, roomOrActive(sess, req.Room), req.MessageID)
}

func (r *eventRouter) editMessage(sess *chat.Session, data json.RawMessage) error {
	var req editRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	content := strings.TrimSpace(emoji.Sprint(req.Message))
	_, err := r.hub.EditMessage(sess, roomOrActive(sess, req.Room), req.MessageID, content)
	return err
}

func (r *eventRouter) reaction(sess *chat.Session, data json.RawMessage) error {
	var req reactionRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	return r.hub.React(sess, roomOrActive(sess, req.Room), req.MessageID, strings.TrimSpace(emoji.Sprint(req.Emoji)))
}

func (r *eventRouter) invite(sess *chat.Session, data json.RawMessage) error {
	var req inviteRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	return r.hub.Invite(sess, req.To, roomOrActive(sess, req.Room))
}

func (r *eventRouter) createRoom(sess *chat.Session, data json.RawMessage) error {
	var req createRoomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	_, err := r.hub.CreateRoom(sess.Username(), req.roomName(), req.Description, req.Category, req.Private)
	return err
}

func (r *eventRouter) privateMessage(sess *chat.Session, data json.RawMessage) error {
	var req privateRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	text := strings.TrimSpace(emoji.Sprint(req.Message))
	if text == "" {
		return fmt.Errorf("%w: private message must not be empty", chat.ErrUsageError)
	}
	return r.hub.PrivateMessage(sess, req.To, text)
}
