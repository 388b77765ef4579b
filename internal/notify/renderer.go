package notify

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/k3a/html2text"
	"go.uber.org/zap"

	"github.com/hhsbooking/shellworker/internal/metrics"
)

// Fixed rendering defaults, matching the booking application's shipped
// notification behavior.
const (
	DefaultTitle       = "New Notification"
	DefaultIcon        = "/logo.png"
	DefaultBadge       = "/logo.png"
	DefaultTag         = "booking-notification"
	DefaultURL         = "/"
	DefaultClickAction = "navigate"

	ActionView    = "view"
	ActionDismiss = "dismiss"
)

// defaultVibration is the vibration pattern attached to every rendered
// notification, for surfaces that support it.
var defaultVibration = []int{200, 100, 200}

// Action is one of the two fixed user actions on a rendered notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Rendered is the concrete, display-ready form of a push payload.
type Rendered struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon"`
	Badge              string         `json:"badge"`
	Image              string         `json:"image,omitempty"`
	Tag                string         `json:"tag"`
	RequireInteraction bool           `json:"requireInteraction"`
	Actions            []Action       `json:"actions"`
	Vibrate            []int          `json:"vibrate"`
	Timestamp          time.Time      `json:"timestamp"`
	Data               map[string]any `json:"data"`
}

// TargetURL returns the resolved navigation target carried in the rendered
// data blob.
func (r *Rendered) TargetURL() string {
	return dataString(r.Data, "url", DefaultURL)
}

// Render derives a displayable notification from a payload. The associated
// data blob is the payload's data block plus the resolved url and
// clickAction, so the click router later sees everything the payload
// carried.
func Render(p Payload) Rendered {
	title := p.Title
	if title == "" {
		title = DefaultTitle
	}
	body := p.Body
	if strings.Contains(body, "<") {
		// Payload bodies occasionally arrive as HTML fragments; degrade
		// them to plain text for surfaces that render text only.
		body = strings.TrimSpace(html2text.HTML2Text(body))
	}
	icon := p.Icon
	if icon == "" {
		icon = DefaultIcon
	}

	data := make(map[string]any, len(p.Data)+2)
	for k, v := range p.Data {
		data[k] = v
	}
	data["url"] = dataString(p.Data, "url", DefaultURL)
	data["clickAction"] = dataString(p.Data, "clickAction", DefaultClickAction)

	return Rendered{
		ID:                 uuid.NewString(),
		Title:              title,
		Body:               body,
		Icon:               icon,
		Badge:              DefaultBadge,
		Image:              p.Image,
		Tag:                dataString(p.Data, "tag", DefaultTag),
		RequireInteraction: true,
		Actions: []Action{
			{Action: ActionView, Title: "View Details", Icon: DefaultIcon},
			{Action: ActionDismiss, Title: "Dismiss"},
		},
		Vibrate:   defaultVibration,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// HistoryRecorder persists notification lifecycle events. All methods are
// best-effort from the renderer's point of view: persistence failures are
// logged, never propagated into display decisions.
type HistoryRecorder interface {
	Displayed(ctx context.Context, n *Rendered) error
	Failed(ctx context.Context, n *Rendered, displayErr error) error
	Superseded(ctx context.Context, id string) error
	Interacted(ctx context.Context, id, action string) error
}

// Renderer turns push deliveries into displayed notifications.
type Renderer struct {
	surface  Surface
	state    *PushState
	registry *Registry
	history  HistoryRecorder
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewRenderer wires a renderer. history may be nil (no persistence).
func NewRenderer(surface Surface, state *PushState, registry *Registry, history HistoryRecorder, m *metrics.Metrics, log *zap.Logger) *Renderer {
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Renderer{
		surface:  surface,
		state:    state,
		registry: registry,
		history:  history,
		metrics:  m,
		log:      log,
	}
}

// HandlePayload renders and displays one push delivery. Failures are
// contained: a bad payload or a rejected display call is logged and the
// renderer remains usable for the next delivery.
func (r *Renderer) HandlePayload(ctx context.Context, body []byte) {
	if !r.state.Ready() {
		r.log.Warn("push payload received before push capability is ready, dropping")
		return
	}

	p, err := ParsePayload(body)
	if err != nil {
		r.log.Warn("malformed push payload, rendering with defaults", zap.Error(err))
	}
	rendered := Render(p)

	// Dedup tag: a matching still-displayed notification is replaced.
	if prev, ok := r.registry.FindByTag(rendered.Tag); ok {
		if err := r.surface.Close(prev.ID); err != nil {
			r.log.Debug("failed to close superseded notification", zap.Error(err))
		}
		r.registry.Remove(prev.ID)
		r.recordHistory(func() error { return r.history.Superseded(ctx, prev.ID) })
	}

	if err := r.surface.Display(ctx, rendered); err != nil {
		r.metrics.NotificationsFailed.Inc()
		r.log.Error("notification display failed",
			zap.String("id", rendered.ID),
			zap.String("title", rendered.Title),
			zap.Error(err))
		r.recordHistory(func() error { return r.history.Failed(ctx, &rendered, err) })
		return
	}

	r.registry.Add(rendered)
	r.metrics.NotificationsRendered.Inc()
	r.log.Info("notification displayed",
		zap.String("id", rendered.ID),
		zap.String("tag", rendered.Tag),
		zap.String("title", rendered.Title))
	r.recordHistory(func() error { return r.history.Displayed(ctx, &rendered) })
}

func (r *Renderer) recordHistory(fn func() error) {
	if r.history == nil {
		return
	}
	if err := fn(); err != nil {
		r.log.Warn("notification history write failed", zap.Error(err))
	}
}
