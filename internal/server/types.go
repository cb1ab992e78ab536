package server

import (
	"encoding/json"
	"strings"
)

// inboundFrame is one client event: {"event": name, "data": {...}}.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// outboundFrame is one server event.
type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type roomRequest struct {
	Room string `json:"room"`
}

type messageRequest struct {
	Room     string `json:"room"`
	Message  string `json:"message"`
	ClientID string `json:"client_id"`
	Type     string `json:"type"`
	FileURL  string `json:"file_url"`
}

type typingRequest struct {
	Room   string `json:"room"`
	Typing bool   `json:"typing"`
}

type messageRef struct {
	Room      string `json:"room"`
	MessageID string `json:"message_id"`
}

type editRequest struct {
	messageRef
	Message string `json:"message"`
}

type reactionRequest struct {
	messageRef
	Emoji string `json:"emoji"`
}

type inviteRequest struct {
	To   string `json:"to"`
	Room string `json:"room"`
}

// createRoomRequest is accepted both as a WebSocket event and as the body of
// POST /create_room, so the room name may arrive as room or name.
type createRoomRequest struct {
	Room        string `json:"room"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Private     bool   `json:"is_private"`
	Username    string `json:"username"`
}

func (r createRoomRequest) roomName() string {
	if r.Room != "" {
		return r.Room
	}
	return r.Name
}

type privateRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
