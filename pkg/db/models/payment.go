package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	"github.com/agrimandi/agrimandi-backend/pkg/types"
)

// Payment tracks one external payment attempt against an order, its fee
// breakdown and any refunds. One active payment per order.
type Payment struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID            uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	PayerID            uuid.UUID           `gorm:"column:payer_id;type:uuid;not null"`
	PayeeID            uuid.UUID           `gorm:"column:payee_id;type:uuid;not null"`
	Method             enums.PaymentMethod `gorm:"column:method;type:payment_method;not null;default:'gateway'"`
	AmountPaise        int64               `gorm:"column:amount_paise;not null"`
	PlatformFeePaise   int64               `gorm:"column:platform_fee_paise;not null;default:0"`
	GatewayFeePaise    int64               `gorm:"column:gateway_fee_paise;not null;default:0"`
	TaxOnFeesPaise     int64               `gorm:"column:tax_on_fees_paise;not null;default:0"`
	NetAmountPaise     int64               `gorm:"column:net_amount_paise;not null;default:0"`
	TotalRefundedPaise int64               `gorm:"column:total_refunded_paise;not null;default:0"`
	GatewayOrderRef    *string             `gorm:"column:gateway_order_ref"`
	GatewayPaymentID   *string             `gorm:"column:gateway_payment_id;uniqueIndex"`
	Status             enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'created'"`
	Timeline           types.Timeline      `gorm:"column:timeline;type:jsonb;serializer:json"`
	Settled            bool                `gorm:"column:settled;not null;default:false"`
	SettledAt          *time.Time          `gorm:"column:settled_at"`
	Refunds            []PaymentRefund     `gorm:"foreignKey:PaymentID;constraint:OnDelete:CASCADE"`
	Version            int                 `gorm:"column:version;not null;default:0"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// RefundablePaise returns how much of the payment can still be refunded.
func (p Payment) RefundablePaise() int64 {
	return p.AmountPaise - p.TotalRefundedPaise
}
