// Package testhelpers provides common utilities shared by the roomchat tests.
//
// It carries a recording chat.Conn for exercising the hub without a
// transport, plus helpers for dialing the WebSocket and line transports and
// reading what they send back.
package testhelpers

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// TestOrigin is an origin accepted by the default configuration.
const TestOrigin = "http://localhost:8080"

// FakeConn is an in-memory chat.Conn that records every envelope it is
// sent. A failing FakeConn rejects sends the way a full queue would.
type FakeConn struct {
	id   string
	addr string

	mu      sync.Mutex
	sent    []chat.Envelope
	closed  bool
	failing bool
	closes  int
}

// NewFakeConn creates a healthy recording connection.
func NewFakeConn(addr string) *FakeConn {
	return &FakeConn{id: uuid.NewString(), addr: addr}
}

// NewFailingConn creates a connection whose sends always fail.
func NewFailingConn(addr string) *FakeConn {
	c := NewFakeConn(addr)
	c.failing = true
	return c
}

func (c *FakeConn) ID() string         { return c.id }
func (c *FakeConn) RemoteAddr() string { return c.addr }

func (c *FakeConn) Send(env chat.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return chat.ErrTransportClosed
	}
	if c.failing {
		return chat.ErrDeliveryFailure
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if c.closed {
		return chat.ErrTransportClosed
	}
	c.closed = true
	return nil
}

// SetFailing switches the connection between healthy and failing.
func (c *FakeConn) SetFailing(failing bool) {
	c.mu.Lock()
	c.failing = failing
	c.mu.Unlock()
}

// Sent returns a copy of everything delivered so far.
func (c *FakeConn) Sent() []chat.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Envelope(nil), c.sent...)
}

// Events returns the event names delivered so far.
func (c *FakeConn) Events() []string {
	sent := c.Sent()
	events := make([]string, len(sent))
	for i, env := range sent {
		events[i] = env.Event
	}
	return events
}

// Texts returns the text of every delivered envelope that has one.
func (c *FakeConn) Texts() []string {
	var texts []string
	for _, env := range c.Sent() {
		if env.Text != "" {
			texts = append(texts, env.Text)
		}
	}
	return texts
}

// Received reports whether any delivered text contains substr.
func (c *FakeConn) Received(substr string) bool {
	for _, text := range c.Texts() {
		if strings.Contains(text, substr) {
			return true
		}
	}
	return false
}

// Reset forgets everything delivered so far.
func (c *FakeConn) Reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}

// Closed reports whether Close has been called.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCount returns how many times Close has been called.
func (c *FakeConn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// ConnectWebSocket dials url with an accepted Origin header.
func ConnectWebSocket(url string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Event is a decoded server event.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the event data into v.
func (e Event) Decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(e.Data, v); err != nil {
		t.Fatalf("Failed to decode %s data: %v", e.Event, err)
	}
}

// SendEvent writes one client event.
func SendEvent(conn *websocket.Conn, event string, data any) error {
	return conn.WriteJSON(map[string]any{"event": event, "data": data})
}

// ReadEvent reads the next server event within timeout.
func ReadEvent(conn *websocket.Conn, timeout time.Duration) (Event, error) {
	var ev Event
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return ev, err
	}
	err := conn.ReadJSON(&ev)
	return ev, err
}

// WaitForEvent reads events until one named event arrives, failing the test
// after timeout.
func WaitForEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %s event", event)
		}
		ev, err := ReadEvent(conn, remaining)
		if err != nil {
			t.Fatalf("Failed waiting for %s event: %v", event, err)
		}
		if ev.Event == event {
			return ev
		}
	}
}

// WaitForStatus reads events until a status whose msg contains substr.
func WaitForStatus(t *testing.T, conn *websocket.Conn, substr string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		ev := WaitForEvent(t, conn, chat.EventStatus, time.Until(deadline))
		var status chat.StatusPayload
		ev.Decode(t, &status)
		if strings.Contains(status.Msg, substr) {
			return
		}
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// LineClient is a raw line-transport client.
type LineClient struct {
	Conn   net.Conn
	reader *bufio.Reader
}

// DialLine connects to a line-transport server.
func DialLine(t *testing.T, addr string) *LineClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &LineClient{Conn: conn, reader: bufio.NewReader(conn)}
}

// Send writes one line.
func (c *LineClient) Send(t *testing.T, line string) {
	t.Helper()
	if _, err := c.Conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("Failed to send %q: %v", line, err)
	}
}

// ReadUntil reads from the server until the output ends with substr and
// returns everything read. Bytes after substr stay buffered for the next
// read.
func (c *LineClient) ReadUntil(t *testing.T, substr string, timeout time.Duration) string {
	t.Helper()
	if err := c.Conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}
	var sb strings.Builder
	for !strings.HasSuffix(sb.String(), substr) {
		b, err := c.reader.ReadByte()
		if err != nil {
			t.Fatalf("Did not receive %q, got %q: %v", substr, sb.String(), err)
		}
		sb.WriteByte(b)
	}
	return sb.String()
}

// ReadUntilClosed reads until the server closes the connection and returns
// everything read.
func (c *LineClient) ReadUntilClosed(t *testing.T, timeout time.Duration) string {
	t.Helper()
	if err := c.Conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}
	var sb strings.Builder
	buf := make([]byte, 1024)
	for {
		n, err := c.reader.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatalf("Connection was not closed, got %q", sb.String())
			}
			return sb.String()
		}
	}
}

// ExpectSilence fails the test if anything containing substr arrives
// within wait.
func (c *LineClient) ExpectSilence(t *testing.T, substr string, wait time.Duration) {
	t.Helper()
	if err := c.Conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}
	var sb strings.Builder
	buf := make([]byte, 1024)
	for {
		n, err := c.reader.Read(buf)
		sb.Write(buf[:n])
		if strings.Contains(sb.String(), substr) {
			t.Fatalf("Unexpectedly received %q in %q", substr, sb.String())
		}
		if err != nil {
			return
		}
	}
}
