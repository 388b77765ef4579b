package notify

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hhsbooking/shellworker/internal/metrics"
)

// Worker→window message types.
const (
	MessageNavigate          = "NAVIGATE"
	MessageNotificationClick = "NOTIFICATION_CLICK"
	MessageAppExit           = "APP_EXIT"
)

// Message is a worker→window control frame.
type Message struct {
	Type string         `json:"type"`
	URL  string         `json:"url,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Window is an attached application window as seen by the router. Windows
// are enumerated fresh on every routing decision and never cached here.
type Window struct {
	ID        string
	URL       string
	Focusable bool
}

// WindowRegistry enumerates attached windows and posts messages to them.
// Implemented by the clients hub.
type WindowRegistry interface {
	Windows() []Window
	Post(windowID string, msg Message) error
}

// Opener opens a new application window when none is attached. A nil Opener
// means the capability is unsupported and the click ends after closing the
// notification.
type Opener interface {
	OpenWindow(ctx context.Context, url string) error
}

// Click is one user interaction with a displayed notification. An empty
// Action is the default click on the notification body.
type Click struct {
	NotificationID string
	Action         string
}

// ClickRouter maps notification clicks to window focus, in-page navigation
// messages, or new-window actions.
type ClickRouter struct {
	registry *Registry
	surface  Surface
	windows  WindowRegistry
	opener   Opener
	origin   string
	history  HistoryRecorder
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewClickRouter(registry *Registry, surface Surface, windows WindowRegistry, opener Opener, origin string, history HistoryRecorder, m *metrics.Metrics, log *zap.Logger) *ClickRouter {
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ClickRouter{
		registry: registry,
		surface:  surface,
		windows:  windows,
		opener:   opener,
		origin:   strings.TrimRight(origin, "/"),
		history:  history,
		metrics:  m,
		log:      log,
	}
}

// Route handles one click. The notification is closed before the window
// search begins, so it never remains visible after any interaction.
func (r *ClickRouter) Route(ctx context.Context, click Click) error {
	rendered, known := r.registry.Get(click.NotificationID)

	if err := r.surface.Close(click.NotificationID); err != nil {
		r.log.Debug("notification close failed", zap.Error(err))
	}
	r.registry.Remove(click.NotificationID)

	if click.Action == ActionDismiss {
		r.metrics.ClicksRouted.WithLabelValues(metrics.OutcomeDismissed).Inc()
		r.recordInteraction(ctx, click)
		return nil
	}

	data := rendered.Data
	if !known {
		// Expired or unknown notification: route with bare defaults.
		r.log.Warn("click on unknown notification", zap.String("id", click.NotificationID))
		data = map[string]any{"url": DefaultURL, "clickAction": DefaultClickAction}
	}
	targetURL := dataString(data, "url", DefaultURL)

	// Only the first focusable same-origin window is used.
	for _, w := range r.windows.Windows() {
		if !w.Focusable || !r.sameOriginWindow(w.URL) {
			continue
		}
		msg := Message{Type: MessageNotificationClick, Data: data}
		if click.Action == ActionView {
			msg = Message{Type: MessageNavigate, URL: targetURL, Data: data}
		}
		if err := r.windows.Post(w.ID, msg); err != nil {
			return err
		}
		r.metrics.ClicksRouted.WithLabelValues(metrics.OutcomeFocused).Inc()
		r.recordInteraction(ctx, click)
		r.log.Info("click routed to window",
			zap.String("window", w.ID),
			zap.String("url", targetURL))
		return nil
	}

	if r.opener != nil {
		if err := r.opener.OpenWindow(ctx, targetURL); err != nil {
			return err
		}
		r.metrics.ClicksRouted.WithLabelValues(metrics.OutcomeOpened).Inc()
		r.recordInteraction(ctx, click)
		r.log.Info("click opened new window", zap.String("url", targetURL))
		return nil
	}

	r.metrics.ClicksRouted.WithLabelValues(metrics.OutcomeUnroutable).Inc()
	r.recordInteraction(ctx, click)
	return nil
}

func (r *ClickRouter) sameOriginWindow(windowURL string) bool {
	return r.origin != "" && strings.HasPrefix(windowURL, r.origin)
}

func (r *ClickRouter) recordInteraction(ctx context.Context, click Click) {
	if r.history == nil {
		return
	}
	action := click.Action
	if action == "" {
		action = "default"
	}
	if err := r.history.Interacted(ctx, click.NotificationID, action); err != nil {
		r.log.Warn("notification history write failed", zap.Error(err))
	}
}
