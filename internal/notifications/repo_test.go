package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
)

func setupNotificationsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	notifications := `
CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  payload TEXT,
  read_at DATETIME,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(notifications).Error)
	return db
}

func seedNotification(t *testing.T, db *gorm.DB, userID uuid.UUID, created time.Time, readAt *time.Time) *models.Notification {
	t.Helper()

	row := &models.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      enums.NotificationTypeOrderStatusChanged,
		Title:     "Order updated",
		Message:   "Order moved forward.",
		ReadAt:    readAt,
		CreatedAt: created,
	}
	require.NoError(t, db.Create(row).Error)
	return row
}

func TestRepositoryList_paginationAndUnread(t *testing.T) {
	db := setupNotificationsTestDB(t)
	repo := NewRepository(db)

	userID := uuid.New()
	now := time.Now().UTC()
	read := now.Add(-time.Minute)
	oldest := seedNotification(t, db, userID, now.Add(-3*time.Hour), &read)
	middle := seedNotification(t, db, userID, now.Add(-2*time.Hour), nil)
	newest := seedNotification(t, db, userID, now.Add(-time.Hour), nil)
	// other users never leak in
	seedNotification(t, db, uuid.New(), now, nil)

	rows, next, err := repo.List(context.Background(), listNotificationsParams{UserID: userID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newest.ID, rows[0].ID)
	assert.Equal(t, middle.ID, rows[1].ID)
	require.NotNil(t, next)

	rest, next, err := repo.List(context.Background(), listNotificationsParams{UserID: userID, Limit: 2, Cursor: next})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, oldest.ID, rest[0].ID)
	assert.Nil(t, next)

	unread, _, err := repo.List(context.Background(), listNotificationsParams{UserID: userID, Limit: 10, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 2)
	for _, row := range unread {
		assert.Nil(t, row.ReadAt)
	}
}

func TestRepositoryMarkRead(t *testing.T) {
	db := setupNotificationsTestDB(t)
	repo := NewRepository(db)

	userID := uuid.New()
	now := time.Now().UTC()
	row := seedNotification(t, db, userID, now, nil)

	mark, err := repo.MarkRead(context.Background(), userID, row.ID, now)
	require.NoError(t, err)
	assert.True(t, mark.Found)
	assert.True(t, mark.Updated)

	// already read: found but nothing to update
	mark, err = repo.MarkRead(context.Background(), userID, row.ID, now)
	require.NoError(t, err)
	assert.True(t, mark.Found)
	assert.False(t, mark.Updated)

	// someone else's notification stays untouched
	mark, err = repo.MarkRead(context.Background(), uuid.New(), row.ID, now)
	require.NoError(t, err)
	assert.False(t, mark.Found)
}

func TestRepositoryMarkAllRead(t *testing.T) {
	db := setupNotificationsTestDB(t)
	repo := NewRepository(db)

	userID := uuid.New()
	now := time.Now().UTC()
	seedNotification(t, db, userID, now.Add(-2*time.Hour), nil)
	seedNotification(t, db, userID, now.Add(-time.Hour), nil)
	read := now.Add(-time.Minute)
	seedNotification(t, db, userID, now, &read)

	count, err := repo.MarkAllRead(context.Background(), userID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	unread, _, err := repo.List(context.Background(), listNotificationsParams{UserID: userID, Limit: 10, UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestRepositoryDeleteOlderThan(t *testing.T) {
	db := setupNotificationsTestDB(t)
	repo := NewRepository(db)

	userID := uuid.New()
	now := time.Now().UTC()
	read := now.Add(-40 * 24 * time.Hour)
	// old and read: purged
	seedNotification(t, db, userID, now.Add(-45*24*time.Hour), &read)
	// old but unread: kept
	kept := seedNotification(t, db, userID, now.Add(-45*24*time.Hour), nil)
	// recent and read: kept
	recentRead := now.Add(-time.Hour)
	seedNotification(t, db, userID, now.Add(-2*time.Hour), &recentRead)

	deleted, err := repo.DeleteOlderThan(context.Background(), nil, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	rows, _, err := repo.List(context.Background(), listNotificationsParams{UserID: userID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	ids := []uuid.UUID{rows[0].ID, rows[1].ID}
	assert.Contains(t, ids, kept.ID)
}
