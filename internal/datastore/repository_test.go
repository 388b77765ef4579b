package datastore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhsbooking/shellworker/internal/notify"
)

// setupTestRepo creates a temp-file SQLite history database. A file (not
// :memory:) keeps parallel subtests from sharing state through the shared
// cache.
func setupTestRepo(t *testing.T) NotificationRepository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() {
		sqlDB, dbErr := db.DB()
		if dbErr == nil {
			_ = sqlDB.Close()
		}
	})
	return NewNotificationRepository(db)
}

func testRecord(id string) *NotificationRecord {
	return &NotificationRecord{
		NotificationID: id,
		Title:          "Booking confirmed",
		Body:           "Court 1, tomorrow",
		Tag:            "booking-notification",
		TargetURL:      "/bookings/42",
		Status:         StatusDisplayed,
		Data:           `{"url":"/bookings/42"}`,
		DisplayedAt:    time.Now(),
	}
}

func TestRepository_SaveAndGet(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, testRecord("n-1")))

	got, err := repo.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, "Booking confirmed", got.Title)
	assert.Equal(t, StatusDisplayed, got.Status)
	assert.Nil(t, got.InteractedAt)
}

func TestRepository_GetNotFound(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestRepository_DuplicateNotificationID(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, testRecord("n-dup")))
	assert.Error(t, repo.Save(ctx, testRecord("n-dup")))
}

func TestRepository_List(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	ctx := context.Background()

	old := testRecord("n-old")
	old.DisplayedAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Save(ctx, old))

	failed := testRecord("n-failed")
	failed.Status = StatusFailed
	failed.Error = "surface down"
	require.NoError(t, repo.Save(ctx, failed))

	require.NoError(t, repo.Save(ctx, testRecord("n-new")))

	t.Run("all newest first", func(t *testing.T) {
		records, total, err := repo.List(ctx, HistoryFilter{})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
		require.Len(t, records, 3)
		assert.Equal(t, "n-old", records[2].NotificationID)
	})

	t.Run("status filter", func(t *testing.T) {
		records, total, err := repo.List(ctx, HistoryFilter{Status: StatusFailed})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, records, 1)
		assert.Equal(t, "surface down", records[0].Error)
	})

	t.Run("pagination keeps total", func(t *testing.T) {
		records, total, err := repo.List(ctx, HistoryFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
		assert.Len(t, records, 1)
	})
}

func TestRepository_MarkSuperseded(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, testRecord("n-1")))

	require.NoError(t, repo.MarkSuperseded(ctx, "n-1"))
	got, err := repo.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuperseded, got.Status)

	assert.ErrorIs(t, repo.MarkSuperseded(ctx, "missing"), ErrNotificationNotFound)
}

func TestRepository_MarkInteracted(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, testRecord("n-1")))

	require.NoError(t, repo.MarkInteracted(ctx, "n-1", "view"))
	got, err := repo.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, "view", got.Action)
	require.NotNil(t, got.InteractedAt)
	assert.WithinDuration(t, time.Now(), *got.InteractedAt, 5*time.Second)
}

func TestRepository_DeleteBefore(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	ctx := context.Background()

	old := testRecord("n-old")
	old.DisplayedAt = time.Now().AddDate(0, 0, -60)
	require.NoError(t, repo.Save(ctx, old))
	require.NoError(t, repo.Save(ctx, testRecord("n-new")))

	deleted, err := repo.DeleteBefore(ctx, time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = repo.Get(ctx, "n-old")
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	_, err = repo.Get(ctx, "n-new")
	assert.NoError(t, err)
}

func TestRecorder_Lifecycle(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	recorder := NewRecorder(repo)
	ctx := context.Background()

	rendered := notify.Render(notify.Payload{
		Title: "Booking confirmed",
		Data:  map[string]any{"url": "/bookings/42", "tag": "booking-42"},
	})

	require.NoError(t, recorder.Displayed(ctx, &rendered))
	got, err := repo.Get(ctx, rendered.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisplayed, got.Status)
	assert.Equal(t, "/bookings/42", got.TargetURL)
	assert.Equal(t, "booking-42", got.Tag)
	assert.Contains(t, got.Data, `"url":"/bookings/42"`)

	require.NoError(t, recorder.Interacted(ctx, rendered.ID, "view"))
	got, err = repo.Get(ctx, rendered.ID)
	require.NoError(t, err)
	assert.Equal(t, "view", got.Action)
}

func TestRecorder_FailedKeepsError(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	recorder := NewRecorder(repo)
	ctx := context.Background()

	rendered := notify.Render(notify.Payload{})
	require.NoError(t, recorder.Failed(ctx, &rendered, errors.New("surface down")))

	got, err := repo.Get(ctx, rendered.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "surface down", got.Error)
}

func TestRecorder_MissingRowsAreTolerated(t *testing.T) {
	t.Parallel()

	recorder := NewRecorder(setupTestRepo(t))
	ctx := context.Background()

	// Notifications that predate the database must not error.
	assert.NoError(t, recorder.Superseded(ctx, "never-persisted"))
	assert.NoError(t, recorder.Interacted(ctx, "never-persisted", "dismiss"))
}
