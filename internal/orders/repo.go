package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
)

// Repository manages order persistence. All document writes go through
// UpdateCAS so concurrent mutations of the same order cannot interleave.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByOrderNumber(ctx context.Context, number string) (*models.Order, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit int) ([]models.Order, error)
	ListByFarmer(ctx context.Context, farmerID uuid.UUID, limit int) ([]models.Order, error)
	ListAll(ctx context.Context, limit int) ([]models.Order, error)
	UpdateCAS(ctx context.Context, order *models.Order) error
	FindExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByOrderNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "order_number = ?", number).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit int) ([]models.Order, error) {
	return r.list(ctx, "buyer_id = ?", buyerID, limit)
}

func (r *repository) ListByFarmer(ctx context.Context, farmerID uuid.UUID, limit int) ([]models.Order, error) {
	return r.list(ctx, "farmer_id = ?", farmerID, limit)
}

func (r *repository) ListAll(ctx context.Context, limit int) ([]models.Order, error) {
	var rows []models.Order
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) list(ctx context.Context, cond string, arg any, limit int) ([]models.Order, error) {
	var rows []models.Order
	q := r.db.WithContext(ctx).Where(cond, arg).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// casColumns lists every mutable order field; Select forces zero values
// (cleared due amounts, nil sub-records) through to the row.
var casColumns = []string{
	"status",
	"payment_status",
	"amount_paid_paise",
	"amount_due_paise",
	"timeline",
	"dispute",
	"return_request",
	"cancel_reason",
	"delivered_at",
	"cancelled_at",
	"version",
}

// UpdateCAS writes the order guarded by its version. A lost race leaves the
// row untouched and surfaces as VersionConflict; callers reload and retry.
func (r *repository) UpdateCAS(ctx context.Context, order *models.Order) error {
	expected := order.Version
	order.Version = expected + 1

	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND version = ?", order.ID, expected).
		Select(casColumns).
		Updates(order)
	if res.Error != nil {
		order.Version = expected
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update order")
	}
	if res.RowsAffected == 0 {
		order.Version = expected
		return pkgerrors.New(pkgerrors.CodeVersionConflict, "order modified concurrently")
	}
	return nil
}

func (r *repository) FindExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	q := r.db.WithContext(ctx).
		Where("status = ? AND payment_status = ? AND created_at < ?",
			enums.OrderStatusPending, enums.OrderPaymentStatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
