package chat_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/testhelpers"
)

// TestRegisterUniqueUnderConcurrency races many connections for a handful
// of names and checks that exactly one connection wins each name.
func TestRegisterUniqueUnderConcurrency(t *testing.T) {
	reg := chat.NewRegistry()
	const names = 5
	const perName = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := make(map[string]int)
	taken := 0

	for i := 0; i < names; i++ {
		for j := 0; j < perName; j++ {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				_, err := reg.Register(testhelpers.NewFakeConn("127.0.0.1:1"), name)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					winners[name]++
					return
				}
				assert.ErrorIs(t, err, chat.ErrUsernameTaken)
				taken++
			}(fmt.Sprintf("user%d", i))
		}
	}
	wg.Wait()

	require.Len(t, winners, names)
	for name, n := range winners {
		assert.Equal(t, 1, n, "username %s registered more than once", name)
	}
	assert.Equal(t, names*(perName-1), taken)
	assert.Equal(t, names, reg.Count())
}

// TestRegisterRejectsInvalidNames covers the negotiation failures that are
// not collisions.
func TestRegisterRejectsInvalidNames(t *testing.T) {
	reg := chat.NewRegistry()

	for _, name := range []string{"", "   ", "two words"} {
		_, err := reg.Register(testhelpers.NewFakeConn("a"), name)
		assert.ErrorIs(t, err, chat.ErrUsageError, "name %q", name)
	}

	conn := testhelpers.NewFakeConn("a")
	sess, err := reg.Register(conn, "  alice  ")
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.Username())

	_, err = reg.Register(conn, "other")
	assert.ErrorIs(t, err, chat.ErrUsageError)
}

// TestLookups checks both lookup directions and their not-found errors.
func TestLookups(t *testing.T) {
	reg := chat.NewRegistry()
	conn := testhelpers.NewFakeConn("a")
	sess, err := reg.Register(conn, "alice")
	require.NoError(t, err)

	got, err := reg.LookupByUsername("alice")
	require.NoError(t, err)
	assert.Same(t, sess, got)

	got, err = reg.LookupByConn(conn)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	_, err = reg.LookupByUsername("bob")
	assert.ErrorIs(t, err, chat.ErrUserNotFound)
	_, err = reg.LookupByConn(testhelpers.NewFakeConn("b"))
	assert.ErrorIs(t, err, chat.ErrUserNotFound)
}

// TestRemoveIsIdempotent verifies the second removal reports not found and
// frees the username for reuse.
func TestRemoveIsIdempotent(t *testing.T) {
	reg := chat.NewRegistry()
	conn := testhelpers.NewFakeConn("a")
	_, err := reg.Register(conn, "alice")
	require.NoError(t, err)

	sess, err := reg.Remove(conn)
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.Username())

	_, err = reg.Remove(conn)
	assert.ErrorIs(t, err, chat.ErrUserNotFound)

	_, err = reg.Register(testhelpers.NewFakeConn("b"), "alice")
	assert.NoError(t, err)
}

func TestRecordMessageSent(t *testing.T) {
	reg := chat.NewRegistry()
	sess, err := reg.Register(testhelpers.NewFakeConn("a"), "alice")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		reg.RecordMessageSent(sess)
	}
	assert.Equal(t, 3, sess.MessagesSent())
}

func TestSessionsOrderedByJoinTime(t *testing.T) {
	reg := chat.NewRegistry()
	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := reg.Register(testhelpers.NewFakeConn(name), name)
		require.NoError(t, err)
	}

	sessions := reg.Sessions()
	require.Len(t, sessions, 3)
	for i := 1; i < len(sessions); i++ {
		assert.False(t, sessions[i].JoinedAt().Before(sessions[i-1].JoinedAt()))
	}
	assert.Len(t, reg.Conns(), 3)
}
