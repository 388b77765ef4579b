package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// Open opens (creating if needed) the history database at path and runs
// migrations. The special path ":memory:" opens an in-memory database.
func Open(path string) (*gorm.DB, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&_foreign_keys=ON"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if path == ":memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&NotificationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate notification history: %w", err)
	}
	return db, nil
}

// notificationRepository implements NotificationRepository.
type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Save(ctx context.Context, record *NotificationRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save notification record: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, notificationID string) (*NotificationRecord, error) {
	var record NotificationRecord
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get notification record %s: %w", notificationID, err)
	}
	return &record, nil
}

// List returns history rows matching the filter, newest first, plus the
// total count before pagination.
func (r *notificationRepository) List(ctx context.Context, filter HistoryFilter) ([]NotificationRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationRecord{})
	if filter.Tag != "" {
		query = query.Where("tag = ?", filter.Tag)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count notification history: %w", err)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var records []NotificationRecord
	if err := query.Order("displayed_at DESC").Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list notification history: %w", err)
	}
	return records, total, nil
}

func (r *notificationRepository) MarkSuperseded(ctx context.Context, notificationID string) error {
	res := r.db.WithContext(ctx).
		Model(&NotificationRecord{}).
		Where("notification_id = ?", notificationID).
		Update("status", StatusSuperseded)
	if res.Error != nil {
		return fmt.Errorf("failed to mark notification %s superseded: %w", notificationID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *notificationRepository) MarkInteracted(ctx context.Context, notificationID, action string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&NotificationRecord{}).
		Where("notification_id = ?", notificationID).
		Updates(map[string]any{"action": action, "interacted_at": &now})
	if res.Error != nil {
		return fmt.Errorf("failed to mark notification %s interacted: %w", notificationID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *notificationRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("displayed_at < ?", before).
		Delete(&NotificationRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete old notification history: %w", res.Error)
	}
	return res.RowsAffected, nil
}
