package chat_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/testhelpers"
)

func newSession(t *testing.T, reg *chat.Registry, name string) *chat.Session {
	t.Helper()
	sess, err := reg.Register(testhelpers.NewFakeConn(name), name)
	require.NoError(t, err)
	return sess
}

func TestNewDirectoryHasDefaultRoom(t *testing.T) {
	dir := chat.NewDirectory(chat.RoomPolicy{})

	room, err := dir.Room(chat.DefaultRoomName)
	require.NoError(t, err)
	assert.Equal(t, chat.SystemUser, room.CreatedBy)
	assert.Equal(t, chat.DefaultRoomDescription, room.Description)
	assert.Equal(t, chat.DefaultRoomName, dir.DefaultRoom())
}

// TestJoinLeaveRestoresMembership checks that a join followed by a leave
// leaves the session's rooms exactly as before.
func TestJoinLeaveRestoresMembership(t *testing.T) {
	dir := chat.NewDirectory(chat.RoomPolicy{AutoCreate: true})
	sess := newSession(t, chat.NewRegistry(), "alice")

	_, _, err := dir.Join(dir.DefaultRoom(), sess)
	require.NoError(t, err)
	before := sess.Rooms()

	_, created, err := dir.Join("sports", sess)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, sess.Rooms(), "sports")

	_, err = dir.Leave("sports", sess)
	require.NoError(t, err)
	assert.Equal(t, before, sess.Rooms())

	members, err := dir.MembersOf("sports")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestLeaveDefaultRoomFails(t *testing.T) {
	dir := chat.NewDirectory(chat.RoomPolicy{})
	sess := newSession(t, chat.NewRegistry(), "alice")
	_, _, err := dir.Join(dir.DefaultRoom(), sess)
	require.NoError(t, err)

	_, err = dir.Leave(dir.DefaultRoom(), sess)
	assert.ErrorIs(t, err, chat.ErrCannotLeaveDefaultRoom)
	assert.True(t, sess.InRoom(dir.DefaultRoom()))
}

func TestLeaveErrors(t *testing.T) {
	dir := chat.NewDirectory(chat.RoomPolicy{AutoCreate: true})
	sess := newSession(t, chat.NewRegistry(), "alice")

	_, err := dir.Leave("nowhere", sess)
	assert.ErrorIs(t, err, chat.ErrRoomNotFound)

	dir.EnsureRoom("music", "bob")
	_, err = dir.Leave("music", sess)
	assert.ErrorIs(t, err, chat.ErrNotMember)
}

func TestJoinWithoutAutoCreate(t *testing.T) {
	dir := chat.NewDirectory(chat.RoomPolicy{AutoCreate: false})
	sess := newSession(t, chat.NewRegistry(), "alice")

	_, _, err := dir.Join("sports", sess)
	assert.ErrorIs(t, err, chat.ErrRoomNotFound)

	_, _, err = dir.Join("", sess)
	assert.ErrorIs(t, err, chat.ErrUsageError)
}

func TestDeleteEmptyPolicy(t *testing.T) {
	tests := []struct {
		name        string
		deleteEmpty bool
	}{
		{name: "rooms persist", deleteEmpty: false},
		{name: "empty rooms are deleted", deleteEmpty: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := chat.NewDirectory(chat.RoomPolicy{AutoCreate: true, DeleteEmpty: tt.deleteEmpty})
			sess := newSession(t, chat.NewRegistry(), "alice")

			_, _, err := dir.Join("sports", sess)
			require.NoError(t, err)
			deleted, err := dir.Leave("sports", sess)
			require.NoError(t, err)
			assert.Equal(t, tt.deleteEmpty, deleted)

			_, err = dir.Room("sports")
			if tt.deleteEmpty {
				assert.ErrorIs(t, err, chat.ErrRoomNotFound)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateRoomDoesNotOverwrite(t *testing.T) {
	dir := chat.NewDirectory(chat.RoomPolicy{})

	room, err := dir.CreateRoom("dev", "alice", "Developers", "Tech", false)
	require.NoError(t, err)
	assert.Equal(t, "Tech", room.Category)

	_, err = dir.CreateRoom("dev", "bob", "Other", "", true)
	assert.ErrorIs(t, err, chat.ErrAlreadyExists)

	got, err := dir.Room("dev")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.CreatedBy)

	_, err = dir.CreateRoom(" ", "bob", "", "", false)
	assert.ErrorIs(t, err, chat.ErrUsageError)

	assert.Same(t, got, dir.EnsureRoom("dev", "carol"))
}

// TestHistoryCap appends one past capacity and checks the oldest entry is
// gone while the newest is kept.
func TestHistoryCap(t *testing.T) {
	const capacity = 5
	dir := chat.NewDirectory(chat.RoomPolicy{HistorySize: capacity})

	var ids []string
	for i := 0; i <= capacity; i++ {
		msg := chat.NewMessage(dir.DefaultRoom(), "alice", fmt.Sprintf("message %d", i))
		ids = append(ids, msg.ID)
		require.NoError(t, dir.AppendMessage(dir.DefaultRoom(), msg))
	}

	history, err := dir.RecentHistory(dir.DefaultRoom(), 100)
	require.NoError(t, err)
	require.Len(t, history, capacity)
	assert.Equal(t, ids[1], history[0].ID)
	assert.Equal(t, ids[capacity], history[capacity-1].ID)

	recent, err := dir.RecentHistory(dir.DefaultRoom(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[capacity], recent[1].ID)

	assert.ErrorIs(t, dir.AppendMessage("missing", chat.NewMessage("missing", "a", "b")), chat.ErrRoomNotFound)
}

func TestDeleteMessage(t *testing.T) {
	dir := chat.NewDirectory(chat.RoomPolicy{})
	msg := chat.NewMessage(dir.DefaultRoom(), "alice", "oops")
	require.NoError(t, dir.AppendMessage(dir.DefaultRoom(), msg))

	removed, err := dir.DeleteMessage(dir.DefaultRoom(), msg.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = dir.DeleteMessage(dir.DefaultRoom(), msg.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	history, err := dir.RecentHistory(dir.DefaultRoom(), 50)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestEditMessageOnlyByAuthor(t *testing.T) {
	dir := chat.NewDirectory(chat.RoomPolicy{})
	msg := chat.NewMessage(dir.DefaultRoom(), "alice", "helo")
	require.NoError(t, dir.AppendMessage(dir.DefaultRoom(), msg))

	_, err := dir.EditMessage(dir.DefaultRoom(), msg.ID, "bob", "hijack")
	assert.ErrorIs(t, err, chat.ErrForbidden)

	edited, err := dir.EditMessage(dir.DefaultRoom(), msg.ID, "alice", "hello")
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.Equal(t, "hello", edited.Content)

	_, err = dir.EditMessage(dir.DefaultRoom(), "nope", "alice", "x")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
}

// TestReactionsAllowDuplicates records the same reaction twice.
func TestReactionsAllowDuplicates(t *testing.T) {
	dir := chat.NewDirectory(chat.RoomPolicy{})
	msg := chat.NewMessage(dir.DefaultRoom(), "alice", "hi")
	require.NoError(t, dir.AppendMessage(dir.DefaultRoom(), msg))

	r := chat.Reaction{Emoji: "👍", Username: "bob", MessageID: msg.ID}
	_, err := dir.AddReaction(dir.DefaultRoom(), r)
	require.NoError(t, err)
	got, err := dir.AddReaction(dir.DefaultRoom(), r)
	require.NoError(t, err)
	assert.Len(t, got.Reactions, 2)

	_, err = dir.AddReaction(dir.DefaultRoom(), chat.Reaction{Emoji: "👍", MessageID: "missing"})
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
}

func TestListPublicRoomsExcludesPrivate(t *testing.T) {
	dir := chat.NewDirectory(chat.RoomPolicy{})
	_, err := dir.CreateRoom("secret", "alice", "", "", true)
	require.NoError(t, err)
	_, err = dir.CreateRoom("books", "alice", "Reading", "Hobby", false)
	require.NoError(t, err)

	var public []string
	for _, r := range dir.ListPublicRooms() {
		public = append(public, r.Name)
	}
	assert.Equal(t, []string{"General", "books"}, public)
	assert.Len(t, dir.ListRooms(), 3)
}

func TestRemoveSessionLeavesEveryRoom(t *testing.T) {
	dir := chat.NewDirectory(chat.RoomPolicy{AutoCreate: true})
	sess := newSession(t, chat.NewRegistry(), "alice")
	for _, room := range []string{dir.DefaultRoom(), "a", "b"} {
		_, _, err := dir.Join(room, sess)
		require.NoError(t, err)
	}

	left := dir.RemoveSession(sess)
	assert.ElementsMatch(t, []string{"General", "a", "b"}, left)
	assert.Empty(t, sess.Rooms())

	members, err := dir.MembersOf(dir.DefaultRoom())
	require.NoError(t, err)
	assert.Empty(t, members)
}
