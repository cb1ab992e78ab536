package chat_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
)

func TestActivityLogEvictsOldest(t *testing.T) {
	log := chat.NewActivityLog(3)
	for i := 0; i < 5; i++ {
		log.Record(chat.ActivityMessage, "alice", "General", fmt.Sprintf("entry %d", i))
	}

	entries := log.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 2", entries[0].Detail)
	assert.Equal(t, "entry 4", entries[2].Detail)
	assert.NotEmpty(t, entries[0].Stamp)
}

func TestActivityUnsubscribe(t *testing.T) {
	log := chat.NewActivityLog(0)
	calls := 0
	unsubscribe := log.Subscribe(func(chat.ActivityEntry) { calls++ })

	log.Record(chat.ActivityJoin, "alice", "sports", "")
	unsubscribe()
	log.Record(chat.ActivityLeave, "alice", "sports", "")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, log.Len())
}

func TestNotice(t *testing.T) {
	assert.Equal(t, "⚠️ User not found: bob", chat.Notice(fmt.Errorf("%w: bob", chat.ErrUserNotFound)))
	assert.Equal(t, "", chat.Notice(nil))
	assert.Equal(t, "⚠️ x", chat.Notice(fmt.Errorf("⚠️ x")))
}

func TestEnvelopeRendering(t *testing.T) {
	env := chat.Status("hello")
	assert.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\] hello\n$`, env.Line())

	typing := chat.Envelope{Event: chat.EventTypingStatus, Data: chat.TypingPayload{Room: "General"}}
	assert.Equal(t, "", typing.Line())

	bare := chat.Envelope{Event: chat.EventStatus, Text: "hi"}
	payload, ok := bare.Payload().(chat.StatusPayload)
	require.True(t, ok)
	assert.Equal(t, "hi", payload.Msg)
}
