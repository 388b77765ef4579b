// Package datastore persists the notification history: every rendered,
// failed, superseded, and clicked notification leaves a row behind so the
// status surface and operators can reconstruct what the agent displayed.
package datastore

import "time"

// Notification lifecycle statuses.
const (
	StatusDisplayed  = "displayed"
	StatusFailed     = "failed"
	StatusSuperseded = "superseded"
)

// NotificationRecord is one notification's history row.
type NotificationRecord struct {
	ID             uint       `gorm:"primaryKey"`
	NotificationID string     `gorm:"not null;uniqueIndex:idx_notification_history_nid"`
	Title          string     `gorm:"not null;default:''"`
	Body           string     `gorm:"type:text;default:''"`
	Tag            string     `gorm:"index:idx_notification_history_tag;default:''"`
	TargetURL      string     `gorm:"default:''"`
	Status         string     `gorm:"not null;index:idx_notification_history_status"`
	Error          string     `gorm:"type:text;default:''"`
	Data           string     `gorm:"type:text;default:''"`
	Action         string     `gorm:"default:''"`
	DisplayedAt    time.Time  `gorm:"not null;index:idx_notification_history_displayed"`
	InteractedAt   *time.Time `gorm:""`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (NotificationRecord) TableName() string {
	return "notification_history"
}
