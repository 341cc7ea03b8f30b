package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/pkg/logger"
)

// Read notifications older than this many days are purged.
const defaultNotificationRetentionDays = 30

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type notificationsCleanupRepo interface {
	DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository notificationsCleanupRepo
	// Retention overrides the default retention window, in days.
	Retention int
}

type notificationCleanupJob struct {
	logg          *logger.Logger
	db            txRunner
	repo          notificationsCleanupRepo
	retentionDays int
	now           func() time.Time
}

// NewNotificationCleanupJob builds the job that deletes notifications past
// the retention window. Only rows already marked read are eligible; the
// repository enforces that predicate.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("notifications repository required")
	}

	days := params.Retention
	if days <= 0 {
		days = defaultNotificationRetentionDays
	}

	return &notificationCleanupJob{
		logg:          params.Logger,
		db:            params.DB,
		repo:          params.Repository,
		retentionDays: days,
		now:           time.Now,
	}, nil
}

func (j *notificationCleanupJob) Name() string { return "notification-cleanup" }

func (j *notificationCleanupJob) Run(ctx context.Context) error {
	cutoff := j.cutoff()

	var purged int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.repo.DeleteOlderThan(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		purged = n
		return nil
	})
	if err != nil {
		return fmt.Errorf("notification cleanup: %w", err)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retentionDays,
		"rows_deleted":   purged,
	}), "notification cleanup complete")
	return nil
}

func (j *notificationCleanupJob) cutoff() time.Time {
	return j.now().UTC().AddDate(0, 0, -j.retentionDays)
}
