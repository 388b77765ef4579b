package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hhsbooking/shellworker/internal/notify"
)

// Recorder adapts a NotificationRepository to the renderer's history
// contract. Construction-time it is the only place where displayed
// notifications are translated into history rows.
type Recorder struct {
	repo NotificationRepository
}

func NewRecorder(repo NotificationRepository) *Recorder {
	return &Recorder{repo: repo}
}

func (r *Recorder) Displayed(ctx context.Context, n *notify.Rendered) error {
	return r.repo.Save(ctx, recordFromRendered(n, StatusDisplayed, ""))
}

func (r *Recorder) Failed(ctx context.Context, n *notify.Rendered, displayErr error) error {
	msg := ""
	if displayErr != nil {
		msg = displayErr.Error()
	}
	return r.repo.Save(ctx, recordFromRendered(n, StatusFailed, msg))
}

func (r *Recorder) Superseded(ctx context.Context, id string) error {
	err := r.repo.MarkSuperseded(ctx, id)
	if errors.Is(err, ErrNotificationNotFound) {
		// A superseded notification that predates the database (or was
		// never persisted) is not worth an error.
		return nil
	}
	return err
}

func (r *Recorder) Interacted(ctx context.Context, id, action string) error {
	err := r.repo.MarkInteracted(ctx, id, action)
	if errors.Is(err, ErrNotificationNotFound) {
		return nil
	}
	return err
}

func recordFromRendered(n *notify.Rendered, status, errMsg string) *NotificationRecord {
	data := ""
	if raw, err := json.Marshal(n.Data); err == nil {
		data = string(raw)
	}
	displayedAt := n.Timestamp
	if displayedAt.IsZero() {
		displayedAt = time.Now()
	}
	return &NotificationRecord{
		NotificationID: n.ID,
		Title:          n.Title,
		Body:           n.Body,
		Tag:            n.Tag,
		TargetURL:      n.TargetURL(),
		Status:         status,
		Error:          errMsg,
		Data:           data,
		DisplayedAt:    displayedAt,
	}
}
