package chat

import (
	"errors"
	"strings"
)

// Errors reported by the registry, the room directory and the dispatchers.
// Command-level errors are resolved locally: they are rendered with Notice
// and sent only to the connection that caused them.
var (
	ErrUsernameTaken          = errors.New("username is already taken")
	ErrUsageError             = errors.New("usage error")
	ErrUnknownCommand         = errors.New("unknown command")
	ErrUserNotFound           = errors.New("user not found")
	ErrRoomNotFound           = errors.New("room not found")
	ErrAlreadyExists          = errors.New("room already exists")
	ErrCannotLeaveDefaultRoom = errors.New("cannot leave the default room")
	ErrNotMember              = errors.New("not a member of the room")
	ErrMessageNotFound        = errors.New("message not found")
	ErrForbidden              = errors.New("not allowed")
	ErrRateLimited            = errors.New("rate limit exceeded, message dropped.")

	// ErrDeliveryFailure means a recipient could not accept a payload in
	// time. The recipient is torn down; the sender never sees this error.
	ErrDeliveryFailure = errors.New("delivery failure")

	// ErrTransportClosed means the connection itself is gone.
	ErrTransportClosed = errors.New("transport closed")
)

// WarningPrefix starts every user-visible error notice.
const WarningPrefix = "⚠️ "

// Notice renders err as the short human-readable text shown to the origin
// connection.
func Notice(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.HasPrefix(msg, WarningPrefix) {
		return msg
	}
	return WarningPrefix + strings.ToUpper(msg[:1]) + msg[1:]
}
