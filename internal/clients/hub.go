package clients

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hhsbooking/shellworker/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // must be < pongWait
	maxMsgSize = 32 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Validate Origin against Host to prevent cross-site WebSocket
		// hijacking. Non-browser clients (curl, wscat) may omit Origin;
		// those are allowed through for local tooling.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// Hooks are the hub's callbacks into the agent for control frames that have
// meaning outside the message channel itself. Any hook may be nil.
type Hooks struct {
	// SkipWaiting is invoked when any window requests immediate takeover
	// of the pending worker version.
	SkipWaiting func()
	// PushConfig is invoked with the configuration block of a
	// FIREBASE_CONFIG frame.
	PushConfig func(config map[string]any)
	// ExitApp is invoked after an EXIT_APP frame has been fanned out to
	// all windows.
	ExitApp func()
}

// Hub tracks attached windows and moves messages in both directions. It is
// the concrete notify.WindowRegistry and the shell manager's Claimer.
type Hub struct {
	hooks Hooks
	log   *zap.Logger

	mu      sync.RWMutex
	windows map[string]*windowConn
}

func NewHub(hooks Hooks, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		hooks:   hooks,
		log:     log,
		windows: make(map[string]*windowConn),
	}
}

// Handle upgrades one window connection and serves it until it closes. It
// is mounted as the /ws echo handler.
func (h *Hub) Handle(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", zap.Error(err))
		return err
	}

	w := &windowConn{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		log:  h.log,
	}
	h.add(w)
	defer h.remove(w.id)

	w.run()
	// The connection is hijacked; echo must not write a response.
	return nil
}

func (h *Hub) add(w *windowConn) {
	h.mu.Lock()
	h.windows[w.id] = w
	h.mu.Unlock()
	h.log.Info("window attached", zap.String("window", w.id))
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	w, ok := h.windows[id]
	delete(h.windows, id)
	h.mu.Unlock()
	if ok {
		w.close()
		h.log.Info("window detached", zap.String("window", id))
	}
}

// Windows snapshots the attached windows. Enumeration order is not
// guaranteed between calls.
func (h *Hub) Windows() []notify.Window {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]notify.Window, 0, len(h.windows))
	for _, w := range h.windows {
		out = append(out, w.snapshot())
	}
	return out
}

// Post sends one message to one window.
func (h *Hub) Post(windowID string, msg notify.Message) error {
	h.mu.RLock()
	w, ok := h.windows[windowID]
	h.mu.RUnlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "window not attached")
	}
	return w.send(msg)
}

// Broadcast sends one message to every attached window. Per-window send
// failures are logged, not propagated; a dying window detaches itself.
func (h *Hub) Broadcast(msg notify.Message) {
	for _, w := range h.snapshotConns() {
		if err := w.send(msg); err != nil {
			h.log.Debug("broadcast send failed",
				zap.String("window", w.id), zap.Error(err))
		}
	}
}

// Claim marks every attached window as controlled by the current worker
// version. Invoked by the shell manager at the end of activation.
func (h *Hub) Claim() {
	h.Broadcast(notify.Message{Type: "CONTROLLER_CHANGE"})
}

// Len returns the number of attached windows, for the status endpoint.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.windows)
}

func (h *Hub) snapshotConns() []*windowConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*windowConn, 0, len(h.windows))
	for _, w := range h.windows {
		out = append(out, w)
	}
	return out
}

// handleFrame dispatches one inbound control frame from a window.
func (h *Hub) handleFrame(w *windowConn, f Frame) {
	switch f.Type {
	case FrameHello, FrameURLChange:
		w.setLocation(f.URL, f.Focusable)
	case FrameSkipWaiting:
		h.log.Info("skip waiting requested", zap.String("window", w.id))
		if h.hooks.SkipWaiting != nil {
			h.hooks.SkipWaiting()
		}
	case FrameFirebaseConfig:
		if h.hooks.PushConfig != nil {
			h.hooks.PushConfig(f.Config)
		}
	case FrameExitApp:
		h.log.Info("app exit requested", zap.String("window", w.id))
		h.Broadcast(notify.Message{Type: notify.MessageAppExit})
		if h.hooks.ExitApp != nil {
			h.hooks.ExitApp()
		}
	default:
		h.log.Debug("ignoring unknown frame",
			zap.String("window", w.id), zap.String("type", f.Type))
	}
}
