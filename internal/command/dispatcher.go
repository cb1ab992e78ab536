// Package command parses the slash commands of the line transport and runs
// them against the chat hub. Replies go only to the issuing session; the
// only thing broadcast from here is a plain message to the active room.
package command

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Prefix starts every command line.
const Prefix = "/"

// ErrQuit is returned by Dispatch when the session asked to leave.
var ErrQuit = errors.New("quit")

const helpText = `📖 Available commands:
  /help               show this help
  /msg <user> <text>  send a private message
  /list               list online users
  /join <room>        join or create a room
  /leave <room>       leave a room
  /rooms              list rooms and their member counts
  /stats              show your session stats
  /quit               leave the chat`

type handler func(d *Dispatcher, sess *chat.Session, args []string) error

// Dispatcher runs commands for line-transport sessions.
type Dispatcher struct {
	hub         *chat.Hub
	replayLimit int
	logger      zerolog.Logger
	handlers    map[string]handler
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithReplayLimit sets how many history messages /join replays.
func WithReplayLimit(n int) Option {
	return func(d *Dispatcher) { d.replayLimit = n }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// New creates a dispatcher bound to hub.
func New(hub *chat.Hub, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		hub:         hub,
		replayLimit: 50,
		logger:      zerolog.Nop(),
		handlers: map[string]handler{
			"help":  (*Dispatcher).help,
			"msg":   (*Dispatcher).msg,
			"list":  (*Dispatcher).list,
			"join":  (*Dispatcher).join,
			"leave": (*Dispatcher).leave,
			"rooms": (*Dispatcher).rooms,
			"stats": (*Dispatcher).stats,
			"quit":  (*Dispatcher).quit,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch handles one input line from sess. Command errors are reported to
// the session as a warning notice and also returned so the caller can log
// them; ErrQuit means the session should be closed.
func (d *Dispatcher) Dispatch(sess *chat.Session, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var err error
	if strings.HasPrefix(line, Prefix) {
		err = d.runCommand(sess, line)
	} else {
		err = d.plain(sess, line)
	}

	switch {
	case err == nil, errors.Is(err, ErrQuit):
		return err
	case errors.Is(err, chat.ErrDeliveryFailure):
		// The session itself could not take the reply and is gone.
		return err
	default:
		_ = d.hub.SendTo(sess, chat.Warning(err))
		d.logger.Debug().Err(err).Str("username", sess.Username()).Msg("command rejected")
		return err
	}
}

func (d *Dispatcher) runCommand(sess *chat.Session, line string) error {
	fields := strings.Fields(strings.TrimPrefix(line, Prefix))
	if len(fields) == 0 {
		return fmt.Errorf("%w: %s", chat.ErrUnknownCommand, line)
	}
	name := strings.ToLower(fields[0])
	h, ok := d.handlers[name]
	if !ok {
		return fmt.Errorf("%w: /%s (try /help)", chat.ErrUnknownCommand, fields[0])
	}
	return h(d, sess, fields[1:])
}

func (d *Dispatcher) reply(sess *chat.Session, text string) error {
	return d.hub.SendTo(sess, chat.Status(text))
}

func (d *Dispatcher) plain(sess *chat.Session, text string) error {
	room := sess.ActiveRoom()
	if room == "" {
		room = d.hub.Rooms().DefaultRoom()
	}
	_, err := d.hub.PostMessage(sess, chat.NewMessage(room, sess.Username(), text), false)
	return err
}

func (d *Dispatcher) help(sess *chat.Session, _ []string) error {
	return d.reply(sess, helpText)
}

func (d *Dispatcher) msg(sess *chat.Session, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: /msg <username> <message>", chat.ErrUsageError)
	}
	text := strings.Join(args[1:], " ")
	if err := d.hub.PrivateMessage(sess, args[0], text); err != nil {
		return err
	}
	return d.reply(sess, fmt.Sprintf("💬 [private to %s] %s", args[0], text))
}

func (d *Dispatcher) list(sess *chat.Session, _ []string) error {
	sessions := d.hub.Registry().Sessions()
	var sb strings.Builder
	fmt.Fprintf(&sb, "👥 Online users (%d):", len(sessions))
	for _, s := range sessions {
		fmt.Fprintf(&sb, "\n  %s (joined %s)", s.Username(), s.JoinedAt().Format(chat.ClockFormat))
	}
	return d.reply(sess, sb.String())
}

func (d *Dispatcher) join(sess *chat.Session, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: /join <room>", chat.ErrUsageError)
	}
	res, err := d.hub.JoinRoom(sess, args[0])
	if err != nil {
		return err
	}
	if err := d.reply(sess, fmt.Sprintf("✅ You joined %s.", res.Room.Name)); err != nil {
		return err
	}
	return d.hub.ReplayHistory(sess, res.Room.Name, d.replayLimit)
}

func (d *Dispatcher) leave(sess *chat.Session, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: /leave <room>", chat.ErrUsageError)
	}
	if err := d.hub.LeaveRoom(sess, args[0]); err != nil {
		return err
	}
	return d.reply(sess, fmt.Sprintf("👋 You left %s. Now chatting in %s.", args[0], sess.ActiveRoom()))
}

func (d *Dispatcher) rooms(sess *chat.Session, _ []string) error {
	rooms := d.hub.Rooms().ListPublicRooms()
	active := sess.ActiveRoom()

	var sb strings.Builder
	fmt.Fprintf(&sb, "🏠 Rooms (%d):", len(rooms))
	for _, r := range rooms {
		marker := " "
		if r.Name == active {
			marker = "*"
		}
		fmt.Fprintf(&sb, "\n %s %s (%d users)", marker, r.Name, r.UsersCount)
	}
	return d.reply(sess, sb.String())
}

func (d *Dispatcher) stats(sess *chat.Session, _ []string) error {
	online := time.Since(sess.JoinedAt()).Truncate(time.Second)
	text := fmt.Sprintf("📊 Joined at %s (%s ago), %d messages sent, rooms: %s",
		sess.JoinedAt().Format(chat.DateFormat),
		online,
		sess.MessagesSent(),
		strings.Join(sess.Rooms(), ", "),
	)
	return d.reply(sess, text)
}

func (d *Dispatcher) quit(sess *chat.Session, _ []string) error {
	_ = d.reply(sess, "👋 Goodbye!")
	return ErrQuit
}
