package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
)

// Repository manages payment rows and their refund entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error)
	FindByGatewayOrderRef(ctx context.Context, gatewayOrderRef string) (*models.Payment, error)
	UpdateCAS(ctx context.Context, payment *models.Payment) error
	AddRefundRow(ctx context.Context, refund *models.PaymentRefund) error
	ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentRefund, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "gateway_payment_id = ?", gatewayPaymentID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByGatewayOrderRef(ctx context.Context, gatewayOrderRef string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "gateway_order_ref = ?", gatewayOrderRef).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// casColumns lists every mutable payment field so zero values flow through.
var casColumns = []string{
	"method",
	"gateway_fee_paise",
	"tax_on_fees_paise",
	"net_amount_paise",
	"total_refunded_paise",
	"gateway_order_ref",
	"gateway_payment_id",
	"status",
	"timeline",
	"settled",
	"settled_at",
	"version",
}

// UpdateCAS writes the payment guarded by its version.
func (r *repository) UpdateCAS(ctx context.Context, payment *models.Payment) error {
	expected := payment.Version
	payment.Version = expected + 1

	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND version = ?", payment.ID, expected).
		Select(casColumns).
		Updates(payment)
	if res.Error != nil {
		payment.Version = expected
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update payment")
	}
	if res.RowsAffected == 0 {
		payment.Version = expected
		return pkgerrors.New(pkgerrors.CodeVersionConflict, "payment modified concurrently")
	}
	return nil
}

func (r *repository) AddRefundRow(ctx context.Context, refund *models.PaymentRefund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentRefund, error) {
	var rows []models.PaymentRefund
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
