package clients

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhsbooking/shellworker/internal/notify"
)

func newTestHub(t *testing.T, hooks Hooks) (*Hub, string) {
	t.Helper()
	hub := NewHub(hooks, nil)
	e := echo.New()
	e.GET("/ws", hub.Handle)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return hub, wsURL
}

func dialWindow(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(f))
}

func readMessage(t *testing.T, conn *websocket.Conn) notify.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg notify.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitForWindows(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Len() == n },
		2*time.Second, 10*time.Millisecond, "expected %d attached windows", n)
}

func TestHub_HelloRegistersWindow(t *testing.T) {
	t.Parallel()

	hub, wsURL := newTestHub(t, Hooks{})
	conn := dialWindow(t, wsURL)

	sendFrame(t, conn, Frame{Type: FrameHello, URL: "https://booking.example.com/home", Focusable: true})

	require.Eventually(t, func() bool {
		ws := hub.Windows()
		return len(ws) == 1 && ws[0].URL == "https://booking.example.com/home" && ws[0].Focusable
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_URLChangeUpdatesWindow(t *testing.T) {
	t.Parallel()

	hub, wsURL := newTestHub(t, Hooks{})
	conn := dialWindow(t, wsURL)
	sendFrame(t, conn, Frame{Type: FrameHello, URL: "https://booking.example.com/", Focusable: true})
	waitForWindows(t, hub, 1)

	sendFrame(t, conn, Frame{Type: FrameURLChange, URL: "https://booking.example.com/bookings", Focusable: false})

	require.Eventually(t, func() bool {
		ws := hub.Windows()
		return len(ws) == 1 && ws[0].URL == "https://booking.example.com/bookings" && !ws[0].Focusable
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PostDeliversToOneWindow(t *testing.T) {
	t.Parallel()

	hub, wsURL := newTestHub(t, Hooks{})
	conn := dialWindow(t, wsURL)
	sendFrame(t, conn, Frame{Type: FrameHello, URL: "https://booking.example.com/", Focusable: true})
	waitForWindows(t, hub, 1)

	windowID := hub.Windows()[0].ID
	err := hub.Post(windowID, notify.Message{
		Type: notify.MessageNavigate,
		URL:  "/bookings/42",
		Data: map[string]any{"bookingId": "42"},
	})
	require.NoError(t, err)

	msg := readMessage(t, conn)
	assert.Equal(t, notify.MessageNavigate, msg.Type)
	assert.Equal(t, "/bookings/42", msg.URL)
	assert.Equal(t, "42", msg.Data["bookingId"])
}

func TestHub_PostUnknownWindow(t *testing.T) {
	t.Parallel()

	hub, _ := newTestHub(t, Hooks{})
	err := hub.Post("no-such-window", notify.Message{Type: notify.MessageNavigate})
	assert.Error(t, err)
}

func TestHub_SkipWaitingHook(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	hub, wsURL := newTestHub(t, Hooks{SkipWaiting: func() { calls.Add(1) }})
	conn := dialWindow(t, wsURL)
	waitForWindows(t, hub, 1)

	sendFrame(t, conn, Frame{Type: FrameSkipWaiting})

	require.Eventually(t, func() bool { return calls.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestHub_FirebaseConfigHook(t *testing.T) {
	t.Parallel()

	configCh := make(chan map[string]any, 1)
	hub, wsURL := newTestHub(t, Hooks{PushConfig: func(c map[string]any) { configCh <- c }})
	conn := dialWindow(t, wsURL)
	waitForWindows(t, hub, 1)

	sendFrame(t, conn, Frame{
		Type:   FrameFirebaseConfig,
		Config: map[string]any{"apiKey": "AIza-test", "projectId": "my-project"},
	})

	select {
	case cfg := <-configCh:
		assert.Equal(t, "AIza-test", cfg["apiKey"])
		assert.Equal(t, "my-project", cfg["projectId"])
	case <-time.After(2 * time.Second):
		t.Fatal("push config hook not invoked")
	}
}

func TestHub_ExitAppBroadcasts(t *testing.T) {
	t.Parallel()

	hub, wsURL := newTestHub(t, Hooks{})
	first := dialWindow(t, wsURL)
	second := dialWindow(t, wsURL)
	waitForWindows(t, hub, 2)

	sendFrame(t, first, Frame{Type: FrameExitApp})

	// Every window receives the exit message, the sender included.
	assert.Equal(t, notify.MessageAppExit, readMessage(t, first).Type)
	assert.Equal(t, notify.MessageAppExit, readMessage(t, second).Type)
}

func TestHub_ClaimBroadcastsControllerChange(t *testing.T) {
	t.Parallel()

	hub, wsURL := newTestHub(t, Hooks{})
	conn := dialWindow(t, wsURL)
	waitForWindows(t, hub, 1)

	hub.Claim()

	assert.Equal(t, "CONTROLLER_CHANGE", readMessage(t, conn).Type)
}

func TestHub_DisconnectRemovesWindow(t *testing.T) {
	t.Parallel()

	hub, wsURL := newTestHub(t, Hooks{})
	conn := dialWindow(t, wsURL)
	waitForWindows(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForWindows(t, hub, 0)
}

func TestFrame_RoundTrip(t *testing.T) {
	t.Parallel()

	raw := `{"type":"HELLO","url":"https://booking.example.com/","focusable":true}`
	var f Frame
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	assert.Equal(t, FrameHello, f.Type)
	assert.True(t, f.Focusable)
}
