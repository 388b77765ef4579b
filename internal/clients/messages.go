// Package clients maintains the WebSocket message channel between the agent
// and attached application windows. It is the agent-side replacement for
// per-window message ports: windows announce themselves, send control
// frames, and receive navigation and lifecycle messages back.
package clients

// Window→agent control frame types.
const (
	FrameHello          = "HELLO"
	FrameURLChange      = "URL_CHANGE"
	FrameSkipWaiting    = "SKIP_WAITING"
	FrameExitApp        = "EXIT_APP"
	FrameFirebaseConfig = "FIREBASE_CONFIG"
)

// Frame is one window→agent control message. Fields beyond Type are
// populated per frame type: HELLO and URL_CHANGE carry URL and Focusable,
// FIREBASE_CONFIG carries Config.
type Frame struct {
	Type      string         `json:"type"`
	URL       string         `json:"url,omitempty"`
	Focusable bool           `json:"focusable,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}
