package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
)

const (
	defaultPendingTTL = 48 * time.Hour
	expireBatchSize   = 100
)

// OrderTTLJobParams configure the pending order expiry job.
type OrderTTLJobParams struct {
	Logger        *logger.Logger
	PendingReader pendingOrderReader
	Orders        orderExpirer
	PendingTTL    time.Duration
}

type pendingOrderReader interface {
	FindExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type orderExpirer interface {
	ExpirePending(ctx context.Context, orderID uuid.UUID) error
}

// NewOrderTTLJob builds the cron job that expires stale unpaid orders.
func NewOrderTTLJob(params OrderTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.PendingReader == nil {
		return nil, fmt.Errorf("pending orders reader required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order expirer required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	return &orderTTLJob{
		logg:          params.Logger,
		pendingReader: params.PendingReader,
		orders:        params.Orders,
		ttl:           ttl,
		now:           time.Now,
	}, nil
}

type orderTTLJob struct {
	logg          *logger.Logger
	pendingReader pendingOrderReader
	orders        orderExpirer
	ttl           time.Duration
	now           func() time.Time
}

func (j *orderTTLJob) Name() string { return "order-ttl" }

// Run cancels pending orders whose payment window elapsed. A failure on one
// order does not stop the rest of the batch.
func (j *orderTTLJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	stale, err := j.pendingReader.FindExpiredPending(ctx, cutoff, expireBatchSize)
	if err != nil {
		return fmt.Errorf("query expired pending orders: %w", err)
	}

	var errs []error
	expired := 0
	for _, order := range stale {
		if err := j.orders.ExpirePending(ctx, order.ID); err != nil {
			errs = append(errs, fmt.Errorf("expire order %s: %w", order.OrderNumber, err))
			continue
		}
		expired++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"matched": len(stale),
		"expired": expired,
	})
	j.logg.Info(logCtx, "order expiry loop complete")
	return multierr.Combine(errs...)
}
