package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Surface presents rendered notifications to the user. Display must be safe
// to call concurrently; Close for an unknown ID is not an error.
type Surface interface {
	Display(ctx context.Context, rendered Rendered) error
	Close(notificationID string) error
}

// LogSurface writes notifications to the structured log. It is the default
// surface and is also useful under test.
type LogSurface struct {
	log *zap.Logger
}

func NewLogSurface(log *zap.Logger) *LogSurface {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSurface{log: log}
}

func (s *LogSurface) Display(_ context.Context, rendered Rendered) error {
	s.log.Info("notification",
		zap.String("id", rendered.ID),
		zap.String("title", rendered.Title),
		zap.String("body", rendered.Body),
		zap.String("tag", rendered.Tag),
		zap.String("url", rendered.TargetURL()))
	return nil
}

func (s *LogSurface) Close(notificationID string) error {
	s.log.Debug("notification closed", zap.String("id", notificationID))
	return nil
}

// WebhookOpener opens application windows by POSTing the target URL to a
// configured endpoint, typically a desktop shim that launches the browser.
type WebhookOpener struct {
	endpoint string
	client   *http.Client
}

func NewWebhookOpener(endpoint string, client *http.Client) *WebhookOpener {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookOpener{endpoint: endpoint, client: client}
}

func (o *WebhookOpener) OpenWindow(ctx context.Context, url string) error {
	body, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("open window: endpoint returned %d", resp.StatusCode)
	}
	return nil
}
