package datastore

import (
	"context"
	"errors"
	"time"
)

// ErrNotificationNotFound is returned when a notification ID has no history
// row.
var ErrNotificationNotFound = errors.New("notification record not found")

// NotificationRepository handles notification history CRUD.
type NotificationRepository interface {
	Save(ctx context.Context, record *NotificationRecord) error
	Get(ctx context.Context, notificationID string) (*NotificationRecord, error)
	List(ctx context.Context, filter HistoryFilter) ([]NotificationRecord, int64, error)

	MarkSuperseded(ctx context.Context, notificationID string) error
	MarkInteracted(ctx context.Context, notificationID, action string) error

	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// HistoryFilter controls history listing queries.
type HistoryFilter struct {
	Tag    string
	Status string
	Limit  int
	Offset int
}
