package clients

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hhsbooking/shellworker/internal/notify"
)

// windowConn is one attached window. All WebSocket writes go through send,
// which serializes them; gorilla/websocket allows at most one concurrent
// writer.
type windowConn struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex

	mu        sync.RWMutex
	url       string
	focusable bool

	closeOnce sync.Once
}

func (w *windowConn) snapshot() notify.Window {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return notify.Window{ID: w.id, URL: w.url, Focusable: w.focusable}
}

func (w *windowConn) setLocation(url string, focusable bool) {
	w.mu.Lock()
	w.url = url
	w.focusable = focusable
	w.mu.Unlock()
}

func (w *windowConn) send(msg notify.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *windowConn) close() {
	w.closeOnce.Do(func() { _ = w.conn.Close() })
}

// run owns the connection: a ping goroutine keeps the read deadline alive
// while the read loop dispatches inbound frames. It returns when the
// window disconnects.
func (w *windowConn) run() {
	defer w.close()

	w.conn.SetReadLimit(maxMsgSize)
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go w.pingLoop(done)

	for {
		_, raw, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.log.Debug("window read error",
					zap.String("window", w.id), zap.Error(err))
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			w.log.Debug("malformed window frame",
				zap.String("window", w.id), zap.Error(err))
			continue
		}
		w.hub.handleFrame(w, frame)
	}
}

func (w *windowConn) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.writeMu.Lock()
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := w.conn.WriteMessage(websocket.PingMessage, nil)
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
