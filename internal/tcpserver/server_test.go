package tcpserver_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/command"
	"github.com/Tyrowin/roomchat/internal/tcpserver"
	"github.com/Tyrowin/roomchat/internal/testhelpers"
)

const wait = 2 * time.Second

func startServer(t *testing.T, cfg tcpserver.Config) (*tcpserver.Server, *chat.Hub, string) {
	t.Helper()
	hub := chat.NewHub(chat.HubConfig{Rooms: chat.RoomPolicy{AutoCreate: true}})
	cfg.Addr = "127.0.0.1:0"
	srv := tcpserver.New(cfg, hub, command.New(hub), zerolog.Nop())
	require.NoError(t, srv.Listen())

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background()) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		_ = hub.Shutdown(ctx)
		_ = srv.Shutdown(ctx)
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(wait):
			t.Error("Serve did not return after Shutdown")
		}
	})
	return srv, hub, srv.Addr().String()
}

func login(t *testing.T, addr, name string) *testhelpers.LineClient {
	t.Helper()
	c := testhelpers.DialLine(t, addr)
	c.ReadUntil(t, tcpserver.UsernamePrompt, wait)
	c.Send(t, name)
	c.ReadUntil(t, tcpserver.HintText+"\n", wait)
	return c
}

func TestListenFailsOnBoundAddress(t *testing.T) {
	srv, hub, addr := startServer(t, tcpserver.Config{})
	require.NotNil(t, srv.Addr())

	other := tcpserver.New(tcpserver.Config{Addr: addr}, hub, command.New(hub), zerolog.Nop())
	assert.Error(t, other.Listen())
}

func TestLinesAreTimestamped(t *testing.T) {
	_, _, addr := startServer(t, tcpserver.Config{})
	c := testhelpers.DialLine(t, addr)
	c.ReadUntil(t, tcpserver.UsernamePrompt, wait)
	c.Send(t, "alice")

	out := c.ReadUntil(t, tcpserver.WelcomeText+"\n", wait)
	assert.Regexp(t, `\[\d{2}:\d{2}:\d{2}\] `+tcpserver.WelcomeText, out)
}

// TestDuplicateUsernameIsReprompted registers bob twice; the second client
// must pick another name before it becomes active.
func TestDuplicateUsernameIsReprompted(t *testing.T) {
	_, hub, addr := startServer(t, tcpserver.Config{})
	login(t, addr, "bob")

	second := testhelpers.DialLine(t, addr)
	second.ReadUntil(t, tcpserver.UsernamePrompt, wait)
	second.Send(t, "bob")
	second.ReadUntil(t, "Username is already taken: bob\n", wait)
	second.ReadUntil(t, tcpserver.UsernamePrompt, wait)
	assert.Equal(t, 1, hub.Registry().Count())

	second.Send(t, "")
	second.ReadUntil(t, tcpserver.UsernamePrompt, wait)
	second.Send(t, "bobby")
	second.ReadUntil(t, tcpserver.WelcomeText, wait)

	require.Eventually(t, func() bool { return hub.Registry().Count() == 2 }, wait, 10*time.Millisecond)
	_, err := hub.Registry().LookupByUsername("bobby")
	assert.NoError(t, err)
}

func TestJoinNoticeAndDeparture(t *testing.T) {
	_, hub, addr := startServer(t, tcpserver.Config{})
	alice := login(t, addr, "alice")
	bob := login(t, addr, "bob")
	alice.ReadUntil(t, "🎉 bob joined the chat!\n", wait)

	bob.Send(t, "/quit")
	bob.ReadUntil(t, "Goodbye!\n", wait)
	bob.ReadUntilClosed(t, wait)

	alice.ReadUntil(t, "bob has left the chat.\n", wait)
	require.Eventually(t, func() bool { return hub.Registry().Count() == 1 }, wait, 10*time.Millisecond)
}

// TestPlainMessageStaysInActiveRoom checks General members do not see a
// message sent while sports is active.
func TestPlainMessageStaysInActiveRoom(t *testing.T) {
	_, _, addr := startServer(t, tcpserver.Config{})
	alice := login(t, addr, "alice")
	bob := login(t, addr, "bob")
	carol := login(t, addr, "carol")

	alice.Send(t, "/join sports")
	alice.ReadUntil(t, "You joined sports.\n", wait)
	bob.Send(t, "/join sports")
	bob.ReadUntil(t, "You joined sports.\n", wait)

	alice.Send(t, "kickoff!")
	bob.ReadUntil(t, "[sports] alice: kickoff!\n", wait)
	carol.ExpectSilence(t, "kickoff!", 200*time.Millisecond)
}

func TestPrivateMessageToAbsentUser(t *testing.T) {
	_, _, addr := startServer(t, tcpserver.Config{})
	bob := login(t, addr, "bob")
	carol := login(t, addr, "carol")

	bob.Send(t, "/msg alice hello")
	out := bob.ReadUntil(t, "User not found: alice\n", wait)
	assert.Contains(t, out, chat.WarningPrefix)
	carol.ExpectSilence(t, "hello", 200*time.Millisecond)
}

func TestOverlongLineClosesConnection(t *testing.T) {
	_, hub, addr := startServer(t, tcpserver.Config{MaxLineLength: 32})
	c := login(t, addr, "alice")

	c.Send(t, strings.Repeat("x", 100))
	out := c.ReadUntilClosed(t, wait)
	assert.Contains(t, out, "Line longer than 32 bytes")
	require.Eventually(t, func() bool { return hub.Registry().Count() == 0 }, wait, 10*time.Millisecond)
}

func TestRateLimitDropsFlood(t *testing.T) {
	_, _, addr := startServer(t, tcpserver.Config{RateBurst: 2, RateRefill: time.Hour})
	alice := login(t, addr, "alice")
	bob := login(t, addr, "bob")

	for i := 0; i < 4; i++ {
		alice.Send(t, "spam")
	}
	alice.ReadUntil(t, "Rate limit exceeded, message dropped.\n", wait)
	bob.ReadUntil(t, "alice: spam\n", wait)
	bob.ReadUntil(t, "alice: spam\n", wait)
	bob.ExpectSilence(t, "spam", 200*time.Millisecond)
}

func TestShutdownNotifiesClients(t *testing.T) {
	srv, hub, addr := startServer(t, tcpserver.Config{})
	alice := login(t, addr, "alice")
	pending := testhelpers.DialLine(t, addr)
	pending.ReadUntil(t, tcpserver.UsernamePrompt, wait)

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))
	require.NoError(t, srv.Shutdown(ctx))

	out := alice.ReadUntilClosed(t, wait)
	assert.Contains(t, out, "🛑 Server is shutting down.")
	assert.NotContains(t, out, "has left the chat")
	pending.ReadUntilClosed(t, wait)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "negotiating", tcpserver.StateNegotiating.String())
	assert.Equal(t, "closed", tcpserver.StateClosed.String())
	assert.Equal(t, "state(42)", tcpserver.State(42).String())
}
